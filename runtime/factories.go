package runtime

import (
	"context"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"

	"github.com/sweetpotato0/normrag/config"
	mongoaudit "github.com/sweetpotato0/normrag/contrib/audit/mongo"
	ollamaembedder "github.com/sweetpotato0/normrag/contrib/embedder/ollama"
	openaiembedder "github.com/sweetpotato0/normrag/contrib/embedder/openai"
	redisledger "github.com/sweetpotato0/normrag/contrib/ledger/redis"
	"github.com/sweetpotato0/normrag/contrib/provider"
	"github.com/sweetpotato0/normrag/contrib/provider/claude"
	"github.com/sweetpotato0/normrag/contrib/provider/gemini"
	"github.com/sweetpotato0/normrag/contrib/provider/ollama"
	"github.com/sweetpotato0/normrag/contrib/provider/openai"
	"github.com/sweetpotato0/normrag/contrib/source/bacen"
	fssource "github.com/sweetpotato0/normrag/contrib/source/fs"
	s3source "github.com/sweetpotato0/normrag/contrib/source/s3"
	"github.com/sweetpotato0/normrag/contrib/tokenizer/tiktoken"
	"github.com/sweetpotato0/normrag/contrib/vector/inmemory"
	"github.com/sweetpotato0/normrag/contrib/vector/milvus"
	"github.com/sweetpotato0/normrag/contrib/vector/pg"
	"github.com/sweetpotato0/normrag/contrib/vector/qdrant"
	normerrors "github.com/sweetpotato0/normrag/errors"
	"github.com/sweetpotato0/normrag/pkg/logging"
	"github.com/sweetpotato0/normrag/rag/audit"
	"github.com/sweetpotato0/normrag/rag/ingest"
	"github.com/sweetpotato0/normrag/rag/tokenizer"
	"github.com/sweetpotato0/normrag/vector"
)

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", normerrors.ErrConfiguration, fmt.Sprintf(format, args...))
}

// NewEmbedder selects the embedding provider.
func NewEmbedder(cfg config.Settings) (vector.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "openai":
		return openaiembedder.New(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL,
			openaisdk.EmbeddingModel(cfg.Embedding.Model), cfg.Embedding.Dimension), nil
	case "ollama":
		return ollamaembedder.New(cfg.Ollama.Host, cfg.Embedding.Model, cfg.Embedding.Dimension, nil)
	default:
		return nil, configError("unsupported embedding provider %q", cfg.Embedding.Provider)
	}
}

// NewGenerator selects the generation provider. The returned closer may be nil.
func NewGenerator(ctx context.Context, cfg config.Settings) (provider.Generator, func(context.Context) error, error) {
	switch cfg.LLM.Provider {
	case "openai":
		return openai.New(&openai.Config{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.LLM.Model,
			MaxTokens:   int64(cfg.LLM.MaxTokens),
			Temperature: cfg.LLM.Temperature,
		}), nil, nil

	case "claude":
		c := claude.DefaultConfig(cfg.Anthropic.APIKey, "")
		c.Model = cfg.LLM.Model
		c.MaxTokens = int64(cfg.LLM.MaxTokens)
		c.Temperature = cfg.LLM.Temperature
		return claude.New(c), nil, nil

	case "gemini":
		c := gemini.DefaultConfig(cfg.Gemini.APIKey)
		c.Model = cfg.LLM.Model
		c.MaxTokens = cfg.LLM.MaxTokens
		c.Temperature = float32(cfg.LLM.Temperature)
		p, err := gemini.New(ctx, c)
		if err != nil {
			return nil, nil, err
		}
		return p, func(context.Context) error { return p.Close() }, nil

	case "ollama":
		p, err := ollama.New(cfg.Ollama.Host, cfg.LLM.Model, nil)
		return p, nil, err

	default:
		return nil, nil, configError("unsupported llm provider %q", cfg.LLM.Provider)
	}
}

// NewIndex connects the configured vector backend.
func NewIndex(ctx context.Context, cfg config.Settings) (vector.Index, func(context.Context) error, error) {
	switch cfg.Vector.Backend {
	case "qdrant":
		return qdrant.New(qdrant.Config{
			URL:    cfg.Vector.Qdrant.URL(),
			APIKey: cfg.Vector.Qdrant.APIKey,
		}), nil, nil

	case "pg":
		idx, err := pg.New(ctx, pg.Config{DSN: cfg.Vector.Postgres.DSN()})
		if err != nil {
			return nil, nil, err
		}
		return idx, func(context.Context) error { return idx.Close() }, nil

	case "milvus":
		idx, err := milvus.New(ctx, milvus.Config{
			Address: cfg.Vector.Milvus.Address,
			APIKey:  cfg.Vector.Milvus.APIKey,
		})
		if err != nil {
			return nil, nil, err
		}
		return idx, idx.Close, nil

	case "memory":
		return inmemory.NewIndex(), nil, nil

	default:
		return nil, nil, configError("unsupported vector backend %q", cfg.Vector.Backend)
	}
}

// NewAuditSink returns the Mongo sink when a URI is configured and a no-op otherwise.
func NewAuditSink(ctx context.Context, cfg config.Settings) (audit.Sink, func(context.Context) error, error) {
	if cfg.Mongo.URI == "" {
		return audit.Nop{}, nil, nil
	}
	sink, err := mongoaudit.New(ctx, &mongoaudit.Config{
		URI:        cfg.Mongo.URI,
		Database:   cfg.Mongo.Database,
		Collection: cfg.Mongo.Collection,
	})
	if err != nil {
		return nil, nil, err
	}
	return sink, sink.Close, nil
}

// NewLedger selects where processed documents are remembered.
func NewLedger(cfg config.Settings) (ingest.Ledger, func(context.Context) error, error) {
	switch cfg.Ingest.Ledger {
	case "memory":
		return ingest.NewMemoryLedger(), nil, nil
	case "redis":
		l := redisledger.New(&redisledger.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		return l, func(context.Context) error { return l.Close() }, nil
	default:
		return nil, nil, configError("unsupported ingest ledger %q", cfg.Ingest.Ledger)
	}
}

// NewCounter returns a tiktoken counter for encoding.
func NewCounter(encoding string) (tokenizer.Counter, error) {
	tok, err := tiktoken.NewCounter(encoding)
	if err != nil {
		return nil, configError("tokenizer %q: %v", encoding, err)
	}
	return tok, nil
}

// Source kinds accepted by NewSource.
const (
	SourceFS    = "fs"
	SourceBacen = "bacen"
	SourceS3    = "s3"
)

// NewSource builds a document source. norms is only used by the Bacen source
// and must not be empty for it.
func NewSource(ctx context.Context, cfg config.Settings, kind string, norms []string) (ingest.Source, error) {
	switch strings.ToLower(kind) {
	case SourceFS, "":
		return fssource.New(cfg.Ingest.RawPath, cfg.Ingest.ProcessedPath, logging.WithComponent("source.fs")), nil

	case SourceBacen:
		if len(norms) == 0 {
			return nil, fmt.Errorf("%w: the bacen source needs at least one norm", normerrors.ErrInvalidInput)
		}
		parsed := make([]bacen.Norm, 0, len(norms))
		for _, raw := range norms {
			n, err := bacen.ParseNorm(raw)
			if err != nil {
				return nil, err
			}
			parsed = append(parsed, n)
		}
		return bacen.New(bacen.Config{BaseURL: cfg.Bacen.BaseURL, Timeout: cfg.Bacen.Timeout}, parsed...), nil

	case SourceS3:
		return s3source.New(ctx, s3source.Config{
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Region:          cfg.S3.Region,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		}, logging.WithComponent("source.s3"))

	default:
		return nil, fmt.Errorf("%w: unknown source %q (fs, bacen or s3)", normerrors.ErrInvalidInput, kind)
	}
}
