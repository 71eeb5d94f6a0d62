// Package runtime assembles the service from settings: providers, the vector
// index, the question pipeline and the ingestion runner.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/normrag/config"
	"github.com/sweetpotato0/normrag/pkg/logging"
	"github.com/sweetpotato0/normrag/rag/chunking"
	"github.com/sweetpotato0/normrag/rag/composer"
	"github.com/sweetpotato0/normrag/rag/document"
	"github.com/sweetpotato0/normrag/rag/ingest"
	"github.com/sweetpotato0/normrag/rag/pipeline"
	"github.com/sweetpotato0/normrag/rag/retrieval"
	"github.com/sweetpotato0/normrag/rag/retry"
)

// Runtime holds the wired components and the resources to release.
type Runtime struct {
	Settings  config.Settings
	Retrieval *retrieval.Client
	Pipeline  *pipeline.Service
	Runner    *ingest.Runner

	logger  *slog.Logger
	closers []func(context.Context) error
}

// Build wires every component selected by cfg. On error the resources opened
// so far are released.
func Build(ctx context.Context, cfg config.Settings, logger *slog.Logger) (_ *Runtime, err error) {
	if logger == nil {
		logger = logging.WithComponent("runtime")
	}
	rt := &Runtime{Settings: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
		}
	}()

	domains, err := Domains(cfg.Domains)
	if err != nil {
		return nil, err
	}
	policy := RetryPolicy(cfg, logger)

	emb, err := NewEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	index, closeIndex, err := NewIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.onClose(closeIndex)

	rt.Retrieval = retrieval.New(index, emb,
		retrieval.WithCollectionPrefix(cfg.Vector.CollectionPrefix),
		retrieval.WithRetryPolicy(policy),
		retrieval.WithLogger(logger.With("component", "retrieval")),
	)

	gen, closeGen, err := NewGenerator(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.onClose(closeGen)

	genPolicy := policy
	genPolicy.CallTimeout = cfg.LLM.Timeout
	comp := composer.New(gen,
		composer.WithProviderName(cfg.LLM.Provider),
		composer.WithTemperature(cfg.LLM.Temperature),
		composer.WithMaxTokens(cfg.LLM.MaxTokens),
		composer.WithRetryPolicy(genPolicy),
		composer.WithLogger(logger.With("component", "composer")),
	)

	sink, closeSink, err := NewAuditSink(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.onClose(closeSink)

	rt.Pipeline, err = pipeline.New(rt.Retrieval, comp,
		pipeline.WithDomains(domains...),
		pipeline.WithTopK(cfg.Retrieval.TopK),
		pipeline.WithMinScore(cfg.Retrieval.MinScore),
		pipeline.WithAuditSink(sink),
		pipeline.WithLogger(logger.With("component", "pipeline")),
	)
	if err != nil {
		return nil, err
	}

	ledger, closeLedger, err := NewLedger(cfg)
	if err != nil {
		return nil, err
	}
	rt.onClose(closeLedger)

	segmenter, err := NewSegmenter(cfg, logger)
	if err != nil {
		return nil, err
	}
	rt.Runner = ingest.NewRunner(rt.Retrieval,
		ingest.WithSegmenter(segmenter),
		ingest.WithLedger(ledger),
		ingest.WithConcurrency(cfg.Ingest.Concurrency),
		ingest.WithLogger(logger.With("component", "ingest")),
	)

	logger.Info("runtime ready",
		"embedding", cfg.Embedding.Provider,
		"llm", cfg.LLM.Provider,
		"vector", cfg.Vector.Backend,
		"ledger", cfg.Ingest.Ledger,
		"audit", cfg.Mongo.URI != "",
		"domains", domains,
	)
	return rt, nil
}

func (r *Runtime) onClose(fn func(context.Context) error) {
	if fn != nil {
		r.closers = append(r.closers, fn)
	}
}

// Close releases resources in reverse order of acquisition.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Domains parses configured domain names.
func Domains(names []string) ([]document.Domain, error) {
	out := make([]document.Domain, 0, len(names))
	for _, name := range names {
		d := document.ParseDomain(name)
		if d == document.DomainOther && strings.ToLower(strings.TrimSpace(name)) != string(document.DomainOther) {
			return nil, fmt.Errorf("unknown domain %q", name)
		}
		out = append(out, d)
	}
	return out, nil
}

// RetryPolicy builds the policy shared by embedding, index and generation calls.
func RetryPolicy(cfg config.Settings, logger *slog.Logger) retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxRetries = cfg.Retry.MaxRetries
	if cfg.Retry.BaseDelay > 0 {
		p.BaseDelay = cfg.Retry.BaseDelay
	}
	if cfg.Retry.MaxDelay > 0 {
		p.MaxDelay = cfg.Retry.MaxDelay
	}
	p.Logger = logger.With("component", "retry")
	return p
}

// NewSegmenter builds the article segmenter with a tiktoken counter.
func NewSegmenter(cfg config.Settings, logger *slog.Logger) (*chunking.ArticleSegmenter, error) {
	counter, err := NewCounter(cfg.Chunking.Encoding)
	if err != nil {
		return nil, err
	}
	return chunking.NewArticleSegmenter(
		chunking.WithMaxTokens(cfg.Chunking.MaxTokens),
		chunking.WithCounter(counter),
		chunking.WithLogger(logger.With("component", "chunking")),
	), nil
}
