package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Settings is the immutable runtime configuration shared by every component.
// It is built once at startup by Load and passed by value afterwards.
type Settings struct {
	Environment string `yaml:"environment"`

	Log       LogSettings       `yaml:"log"`
	Telemetry TelemetrySettings `yaml:"telemetry"`
	OpenAI    OpenAISettings    `yaml:"openai"`
	Anthropic APIKeySettings    `yaml:"anthropic"`
	Gemini    APIKeySettings    `yaml:"gemini"`
	Ollama    OllamaSettings    `yaml:"ollama"`
	Embedding EmbeddingSettings `yaml:"embedding"`
	LLM       LLMSettings       `yaml:"llm"`
	Vector    VectorSettings    `yaml:"vector"`
	Retrieval RetrievalSettings `yaml:"retrieval"`
	Chunking  ChunkingSettings  `yaml:"chunking"`
	Retry     RetrySettings     `yaml:"retry"`
	RateLimit RateLimitSettings `yaml:"rate_limit"`
	Ingest    IngestSettings    `yaml:"ingest"`
	Redis     RedisSettings     `yaml:"redis"`
	Mongo     MongoSettings     `yaml:"mongo"`
	S3        S3Settings        `yaml:"s3"`
	Bacen     BacenSettings     `yaml:"bacen"`
	Server    ServerSettings    `yaml:"server"`

	Domains []string `yaml:"domains"`
}

type LogSettings struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

type TelemetrySettings struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

type OpenAISettings struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

type APIKeySettings struct {
	APIKey string `yaml:"api_key"`
}

type OllamaSettings struct {
	Host string `yaml:"host"`
}

// EmbeddingSettings selects the embedding provider. Provider is openai or ollama.
type EmbeddingSettings struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

// LLMSettings selects the generation provider: openai, claude, gemini or ollama.
type LLMSettings struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// VectorSettings selects the vector index backend: qdrant, pg, milvus or memory.
type VectorSettings struct {
	Backend          string           `yaml:"backend"`
	CollectionPrefix string           `yaml:"collection_prefix"`
	Qdrant           QdrantSettings   `yaml:"qdrant"`
	Postgres         PostgresSettings `yaml:"postgres"`
	Milvus           MilvusSettings   `yaml:"milvus"`
}

type QdrantSettings struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	HTTPS  bool   `yaml:"https"`
}

// URL returns the Qdrant REST base URL.
func (q QdrantSettings) URL() string {
	scheme := "http"
	if q.HTTPS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, q.Host, q.Port)
}

type PostgresSettings struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"db_name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN returns a lib/pq connection string.
func (p PostgresSettings) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

type MilvusSettings struct {
	Address string `yaml:"address"`
	APIKey  string `yaml:"api_key"`
}

type RetrievalSettings struct {
	TopK     int     `yaml:"top_k"`
	MinScore float64 `yaml:"min_score"`
}

type ChunkingSettings struct {
	MaxTokens int    `yaml:"max_tokens"`
	Encoding  string `yaml:"encoding"`
}

type RetrySettings struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

type RateLimitSettings struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// IngestSettings configures the ingestion runner. Ledger is redis or memory.
type IngestSettings struct {
	Concurrency   int    `yaml:"concurrency"`
	RawPath       string `yaml:"raw_path"`
	ProcessedPath string `yaml:"processed_path"`
	Ledger        string `yaml:"ledger"`
}

type RedisSettings struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// MongoSettings configures the query audit log. An empty URI disables it.
type MongoSettings struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type S3Settings struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type BacenSettings struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type ServerSettings struct {
	Addr string `yaml:"addr"`
}

// Default returns the settings used when neither file nor environment say otherwise.
func Default() Settings {
	return Settings{
		Environment: "development",
		Log:         LogSettings{Format: "json", Level: "info"},
		Ollama:      OllamaSettings{Host: "http://localhost:11434"},
		Embedding: EmbeddingSettings{
			Provider:  "openai",
			Model:     "text-embedding-3-large",
			Dimension: 3072,
		},
		LLM: LLMSettings{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.1,
			MaxTokens:   1000,
			Timeout:     30 * time.Second,
		},
		Vector: VectorSettings{
			Backend:          "qdrant",
			CollectionPrefix: "normrag_",
			Qdrant:           QdrantSettings{Host: "localhost", Port: 6333},
			Postgres: PostgresSettings{
				Host:    "localhost",
				Port:    5432,
				User:    "postgres",
				DBName:  "normrag",
				SSLMode: "disable",
			},
			Milvus: MilvusSettings{Address: "localhost:19530"},
		},
		Retrieval: RetrievalSettings{TopK: 5, MinScore: 0.7},
		Chunking:  ChunkingSettings{MaxTokens: 600, Encoding: "cl100k_base"},
		Retry:     RetrySettings{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second},
		RateLimit: RateLimitSettings{RequestsPerMinute: 60},
		Ingest: IngestSettings{
			Concurrency:   4,
			RawPath:       "data/raw",
			ProcessedPath: "data/processed",
			Ledger:        "memory",
		},
		Redis: RedisSettings{Addr: "localhost:6379", Prefix: "normrag:processed:"},
		Mongo: MongoSettings{Database: "normrag", Collection: "queries"},
		S3:    S3Settings{Region: "us-east-1"},
		Bacen: BacenSettings{
			BaseURL: "https://www.bcb.gov.br/api/conteudo/app/normativos/exibenormativo",
			Timeout: 30 * time.Second,
		},
		Server:  ServerSettings{Addr: ":8000"},
		Domains: []string{"pix", "open_finance"},
	}
}

// Load reads settings from path (a missing file is not an error), loads a .env file
// from the working directory when present, applies environment overrides and fills
// defaults. The result is validated before it is returned.
func Load(path string) (Settings, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Settings{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Settings{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Settings) {
	cfg.Environment = getEnv("NORMRAG_ENV", cfg.Environment)
	cfg.Log.Format = getEnv("NORMRAG_LOG_FORMAT", cfg.Log.Format)
	cfg.Log.Level = getEnv("NORMRAG_LOG_LEVEL", cfg.Log.Level)
	cfg.Telemetry.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)

	cfg.OpenAI.APIKey = getEnv("OPENAI_API_KEY", cfg.OpenAI.APIKey)
	cfg.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAI.BaseURL)
	cfg.Anthropic.APIKey = getEnv("ANTHROPIC_API_KEY", cfg.Anthropic.APIKey)
	cfg.Gemini.APIKey = getEnv("GEMINI_API_KEY", cfg.Gemini.APIKey)
	cfg.Ollama.Host = getEnv("OLLAMA_HOST", cfg.Ollama.Host)

	cfg.Embedding.Provider = getEnv("EMBEDDING_PROVIDER", cfg.Embedding.Provider)
	cfg.Embedding.Model = getEnv("EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.Dimension = getEnvInt("EMBEDDING_DIMENSION", cfg.Embedding.Dimension)

	cfg.LLM.Provider = getEnv("LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.Temperature = getEnvFloat("LLM_TEMPERATURE", cfg.LLM.Temperature)
	cfg.LLM.MaxTokens = getEnvInt("MAX_TOKENS_RESPONSE", cfg.LLM.MaxTokens)
	cfg.LLM.Timeout = getEnvSeconds("API_TIMEOUT", cfg.LLM.Timeout)

	cfg.Vector.Backend = getEnv("VECTOR_BACKEND", cfg.Vector.Backend)
	cfg.Vector.Qdrant.Host = getEnv("QDRANT_HOST", cfg.Vector.Qdrant.Host)
	cfg.Vector.Qdrant.Port = getEnvInt("QDRANT_PORT", cfg.Vector.Qdrant.Port)
	cfg.Vector.Qdrant.APIKey = getEnv("QDRANT_API_KEY", cfg.Vector.Qdrant.APIKey)
	cfg.Vector.Postgres.Host = getEnv("POSTGRES_HOST", cfg.Vector.Postgres.Host)
	cfg.Vector.Postgres.Port = getEnvInt("POSTGRES_PORT", cfg.Vector.Postgres.Port)
	cfg.Vector.Postgres.User = getEnv("POSTGRES_USER", cfg.Vector.Postgres.User)
	cfg.Vector.Postgres.Password = getEnv("POSTGRES_PASSWORD", cfg.Vector.Postgres.Password)
	cfg.Vector.Postgres.DBName = getEnv("POSTGRES_DB", cfg.Vector.Postgres.DBName)
	cfg.Vector.Postgres.SSLMode = getEnv("POSTGRES_SSLMODE", cfg.Vector.Postgres.SSLMode)
	cfg.Vector.Milvus.Address = getEnv("MILVUS_ADDRESS", cfg.Vector.Milvus.Address)
	cfg.Vector.Milvus.APIKey = getEnv("MILVUS_API_KEY", cfg.Vector.Milvus.APIKey)

	cfg.Retrieval.TopK = getEnvInt("TOP_K_RESULTS", cfg.Retrieval.TopK)
	cfg.Retrieval.MinScore = getEnvFloat("MIN_SIMILARITY_SCORE", cfg.Retrieval.MinScore)
	cfg.Chunking.MaxTokens = getEnvInt("CHUNK_MAX_TOKENS", cfg.Chunking.MaxTokens)
	cfg.RateLimit.RequestsPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", cfg.RateLimit.RequestsPerMinute)

	cfg.Ingest.Concurrency = getEnvInt("INGEST_CONCURRENCY", cfg.Ingest.Concurrency)
	cfg.Ingest.RawPath = getEnv("DATA_RAW_PATH", cfg.Ingest.RawPath)
	cfg.Ingest.ProcessedPath = getEnv("DATA_PROCESSED_PATH", cfg.Ingest.ProcessedPath)
	cfg.Ingest.Ledger = getEnv("INGEST_LEDGER", cfg.Ingest.Ledger)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)
	cfg.Mongo.URI = getEnv("MONGODB_URI", cfg.Mongo.URI)
	cfg.Mongo.Database = getEnv("MONGODB_DB", cfg.Mongo.Database)

	cfg.S3.Bucket = getEnv("S3_BUCKET", cfg.S3.Bucket)
	cfg.S3.Prefix = getEnv("S3_PREFIX", cfg.S3.Prefix)
	cfg.S3.Region = getEnv("AWS_REGION", cfg.S3.Region)
	cfg.S3.AccessKeyID = getEnv("AWS_ACCESS_KEY_ID", cfg.S3.AccessKeyID)
	cfg.S3.SecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", cfg.S3.SecretAccessKey)

	cfg.Server.Addr = getEnv("NORMRAG_ADDR", cfg.Server.Addr)
	if v := os.Getenv("DOMAINS"); v != "" {
		cfg.Domains = splitList(v)
	}
}

// applyDefaults restores zero values a partial YAML file may have introduced.
func applyDefaults(cfg *Settings) {
	def := Default()
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = def.Embedding.Provider
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = def.Embedding.Model
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = def.LLM.Provider
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = def.LLM.Model
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = def.LLM.MaxTokens
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = def.LLM.Timeout
	}
	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = def.Vector.Backend
	}
	if cfg.Chunking.MaxTokens == 0 {
		cfg.Chunking.MaxTokens = def.Chunking.MaxTokens
	}
	if cfg.Chunking.Encoding == "" {
		cfg.Chunking.Encoding = def.Chunking.Encoding
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = def.Retry.BaseDelay
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = def.Retry.MaxDelay
	}
	if cfg.Ingest.Concurrency == 0 {
		cfg.Ingest.Concurrency = def.Ingest.Concurrency
	}
	if cfg.Ingest.Ledger == "" {
		cfg.Ingest.Ledger = def.Ingest.Ledger
	}
	if len(cfg.Domains) == 0 {
		cfg.Domains = def.Domains
	}
}

// Validate checks the settings and returns a *ConfigurationError listing every problem.
func (s Settings) Validate() error {
	v := NewValidator()

	v.ValidateOneOf("log.format", strings.ToLower(s.Log.Format), "json", "text")
	v.ValidateOneOf("embedding.provider", s.Embedding.Provider, "openai", "ollama")
	v.RequireNonEmpty("embedding.model", s.Embedding.Model)
	v.RequirePositive("embedding.dimension", s.Embedding.Dimension)
	v.add("llm", ValidateLLMConfig(s.LLM.Provider, s.LLM.Model, s.LLM.Temperature, s.LLM.MaxTokens))

	if s.Embedding.Provider == "openai" || s.LLM.Provider == "openai" {
		v.RequireNonEmpty("openai.api_key", s.OpenAI.APIKey)
	}
	switch s.LLM.Provider {
	case "claude":
		v.RequireNonEmpty("anthropic.api_key", s.Anthropic.APIKey)
	case "gemini":
		v.RequireNonEmpty("gemini.api_key", s.Gemini.APIKey)
	}
	if s.Embedding.Provider == "ollama" || s.LLM.Provider == "ollama" {
		v.RequireNonEmpty("ollama.host", s.Ollama.Host)
	}

	v.ValidateOneOf("vector.backend", s.Vector.Backend, "qdrant", "pg", "milvus", "memory")
	switch s.Vector.Backend {
	case "qdrant":
		v.RequireNonEmpty("vector.qdrant.host", s.Vector.Qdrant.Host)
		v.ValidatePort("vector.qdrant.port", s.Vector.Qdrant.Port)
	case "pg":
		v.add("vector.postgres", ValidatePostgresConfig(s.Vector.Postgres.Host, s.Vector.Postgres.Port,
			s.Vector.Postgres.User, s.Vector.Postgres.DBName, s.Vector.Postgres.SSLMode))
	case "milvus":
		v.RequireNonEmpty("vector.milvus.address", s.Vector.Milvus.Address)
	}

	v.add("retrieval", ValidateRetrievalConfig(s.Retrieval.TopK, s.Retrieval.MinScore))
	v.RequirePositive("chunking.max_tokens", s.Chunking.MaxTokens)
	v.RequireNonNegative("retry.max_retries", s.Retry.MaxRetries)
	v.add("rate_limit", ValidateRateLimiterConfig(s.RateLimit.RequestsPerMinute))
	v.RequirePositive("ingest.concurrency", s.Ingest.Concurrency)
	v.ValidateOneOf("ingest.ledger", s.Ingest.Ledger, "memory", "redis")
	if s.Ingest.Ledger == "redis" {
		v.add("redis", ValidateRedisConfig(s.Redis.Addr, s.Redis.DB, s.Redis.Prefix))
	}
	if s.Mongo.URI != "" {
		v.add("mongo", ValidateMongoDBConfig(s.Mongo.URI, s.Mongo.Database, s.Mongo.Collection))
	}

	if len(s.Domains) == 0 {
		v.errors = append(v.errors, ValidationError{Field: "domains", Message: "at least one domain is required"})
	}
	for _, d := range s.Domains {
		v.RequireNonEmpty("domains", d)
	}

	return v.Error()
}

// HasDomain reports whether domain is one of the configured collections.
func (s Settings) HasDomain(domain string) bool {
	for _, d := range s.Domains {
		if d == domain {
			return true
		}
	}
	return false
}


func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
