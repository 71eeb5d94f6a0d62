package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	normerrors "github.com/sweetpotato0/normrag/errors"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("TOP_K_RESULTS", "")
	t.Setenv("DOMAINS", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Retrieval.TopK != 5 || cfg.Retrieval.MinScore != 0.7 {
		t.Fatalf("unexpected retrieval defaults %+v", cfg.Retrieval)
	}
	if cfg.Chunking.MaxTokens != 600 || cfg.LLM.MaxTokens != 1000 {
		t.Fatalf("unexpected token defaults chunk=%d llm=%d", cfg.Chunking.MaxTokens, cfg.LLM.MaxTokens)
	}
	if cfg.Embedding.Dimension != 3072 || cfg.Embedding.Model != "text-embedding-3-large" {
		t.Fatalf("unexpected embedding defaults %+v", cfg.Embedding)
	}
	if cfg.Retry.MaxRetries != 5 || cfg.Retry.BaseDelay != time.Second {
		t.Fatalf("unexpected retry defaults %+v", cfg.Retry)
	}
	if !cfg.HasDomain("pix") || !cfg.HasDomain("open_finance") || cfg.HasDomain("other") {
		t.Fatalf("unexpected domains %v", cfg.Domains)
	}
}

func TestLoadYAMLThenEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "normrag.yaml")
	yamlBody := `
llm:
  provider: claude
  model: claude-3-5-haiku-latest
anthropic:
  api_key: sk-ant
embedding:
  provider: ollama
  model: nomic-embed-text
  dimension: 768
vector:
  backend: memory
retrieval:
  top_k: 3
domains: [pix]
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("TOP_K_RESULTS", "7")
	t.Setenv("DOMAINS", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Provider != "claude" || cfg.Embedding.Dimension != 768 {
		t.Fatalf("yaml values not applied: %+v %+v", cfg.LLM, cfg.Embedding)
	}
	if cfg.Retrieval.TopK != 7 {
		t.Fatalf("env override not applied, top_k=%d", cfg.Retrieval.TopK)
	}
	if cfg.LLM.MaxTokens != 1000 {
		t.Fatalf("default max tokens lost, got %d", cfg.LLM.MaxTokens)
	}
	if len(cfg.Domains) != 1 || cfg.Domains[0] != "pix" {
		t.Fatalf("unexpected domains %v", cfg.Domains)
	}
}

func TestDomainsFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("DOMAINS", " pix , open_finance,,")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Domains) != 2 || cfg.Domains[1] != "open_finance" {
		t.Fatalf("unexpected domains %v", cfg.Domains)
	}
}

func TestValidateMissingAPIKeyIsConfigurationError(t *testing.T) {
	cfg := Default()
	cfg.OpenAI.APIKey = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected configuration error")
	}
	if !errors.Is(err, normerrors.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigurationError, got %T", err)
	}
	found := false
	for _, p := range cfgErr.Problems {
		if p.Field == "openai.api_key" {
			found = true
		}
	}
	if !found {
		t.Fatalf("openai.api_key not reported: %+v", cfgErr.Problems)
	}
}

func TestValidateNestedBackendProblems(t *testing.T) {
	cfg := Default()
	cfg.OpenAI.APIKey = "sk-test"
	cfg.Vector.Backend = "pg"
	cfg.Vector.Postgres.SSLMode = "sometimes"
	cfg.Ingest.Ledger = "redis"
	cfg.Redis.DB = 42

	err := cfg.Validate()
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigurationError, got %v", err)
	}
	want := map[string]bool{"vector.postgres.sslMode": false, "redis.db": false}
	for _, p := range cfgErr.Problems {
		if _, ok := want[p.Field]; ok {
			want[p.Field] = true
		}
	}
	for field, seen := range want {
		if !seen {
			t.Errorf("expected problem for %s, got %+v", field, cfgErr.Problems)
		}
	}
}

func TestQdrantURLAndPostgresDSN(t *testing.T) {
	q := QdrantSettings{Host: "qdrant", Port: 6333}
	if got := q.URL(); got != "http://qdrant:6333" {
		t.Fatalf("URL() = %s", got)
	}
	q.HTTPS = true
	if got := q.URL(); got != "https://qdrant:6333" {
		t.Fatalf("URL() = %s", got)
	}

	p := Default().Vector.Postgres
	if got := p.DSN(); got != "host=localhost port=5432 user=postgres password= dbname=normrag sslmode=disable" {
		t.Fatalf("DSN() = %s", got)
	}
}

func TestValidateReportsNestedFieldNames(t *testing.T) {
	cfg := Default()
	cfg.OpenAI.APIKey = "sk-test"
	cfg.LLM.Temperature = 3
	cfg.Retrieval.TopK = 11
	cfg.RateLimit.RequestsPerMinute = 0

	var cfgErr *ConfigurationError
	if !errors.As(cfg.Validate(), &cfgErr) {
		t.Fatalf("expected *ConfigurationError")
	}
	want := map[string]bool{
		"llm.temperature":                false,
		"retrieval.top_k":                false,
		"rate_limit.requests_per_minute": false,
	}
	for _, p := range cfgErr.Problems {
		if _, ok := want[p.Field]; ok {
			want[p.Field] = true
		}
	}
	for field, seen := range want {
		if !seen {
			t.Errorf("expected problem for %s, got %+v", field, cfgErr.Problems)
		}
	}
}
