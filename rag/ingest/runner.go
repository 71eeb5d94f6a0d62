package ingest

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/sweetpotato0/normrag/pkg/logging"
	"github.com/sweetpotato0/normrag/pkg/telemetry"
	"github.com/sweetpotato0/normrag/rag/chunking"
	"github.com/sweetpotato0/normrag/rag/document"
	"github.com/sweetpotato0/normrag/rag/metadata"
	"github.com/sweetpotato0/normrag/rag/preprocess"
	"github.com/sweetpotato0/normrag/rag/validator"
)

// DefaultConcurrency is the number of documents processed at once.
const DefaultConcurrency = 4

// Source yields the raw documents of a domain.
type Source interface {
	// Name identifies the source in logs
	Name() string

	// Documents iterates the documents of domain. A non-nil error for one
	// document does not end the iteration.
	Documents(ctx context.Context, domain document.Domain) iter.Seq2[document.Source, error]

	// Done is called once a document has been indexed
	Done(ctx context.Context, domain document.Domain, src document.Source) error
}

// Indexer stores units in per-domain collections.
type Indexer interface {
	EnsureCollection(ctx context.Context, domain document.Domain) error
	DeleteCollection(ctx context.Context, domain document.Domain) error
	IndexUnits(ctx context.Context, domain document.Domain, units []document.Unit) (int, error)
}

// Report summarises one ingestion run.
type Report struct {
	Domain    document.Domain `json:"domain"`
	Documents int             `json:"documents"`
	Skipped   int             `json:"skipped"`
	Failed    int             `json:"failed"`
	Units     int             `json:"units"`
	Rejected  int             `json:"rejected"`
	Duration  time.Duration   `json:"duration"`
}

// Runner turns source documents into indexed units:
// extract, normalize, segment, resolve metadata, filter, index.
type Runner struct {
	indexer     Indexer
	normalizer  *preprocess.Normalizer
	segmenter   chunking.Segmenter
	resolver    *metadata.Resolver
	validator   *validator.ChunkValidator
	ledger      Ledger
	concurrency int
	logger      *slog.Logger
}

// Option customises a Runner.
type Option func(*Runner)

func WithSegmenter(s chunking.Segmenter) Option {
	return func(r *Runner) {
		if s != nil {
			r.segmenter = s
		}
	}
}

func WithResolver(res *metadata.Resolver) Option {
	return func(r *Runner) {
		if res != nil {
			r.resolver = res
		}
	}
}

// WithLedger sets where processed documents are remembered.
func WithLedger(l Ledger) Option {
	return func(r *Runner) {
		if l != nil {
			r.ledger = l
		}
	}
}

// WithConcurrency bounds how many documents are processed at once.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewRunner(indexer Indexer, opts ...Option) *Runner {
	r := &Runner{
		indexer:     indexer,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.WithComponent("ingest")
	}
	if r.ledger == nil {
		r.ledger = NewMemoryLedger()
	}
	if r.segmenter == nil {
		r.segmenter = chunking.NewArticleSegmenter(chunking.WithLogger(r.logger))
	}
	if r.resolver == nil {
		r.resolver = metadata.NewResolver(metadata.WithLogger(r.logger))
	}
	r.normalizer = preprocess.NewNormalizer(r.logger)
	r.validator = validator.NewChunkValidator(r.logger)
	return r
}

// Run ingests every document src yields for domain. With force the
// collection and the ledger of domain are cleared first. Per-document
// failures are counted in the report; only setup failures and cancellation
// return an error.
func (r *Runner) Run(ctx context.Context, domain document.Domain, src Source, force bool) (_ Report, err error) {
	ctx, span := telemetry.Start(ctx, "ingest.run",
		telemetry.Domain(string(domain)),
		attribute.String("source", src.Name()),
		attribute.Bool("force", force),
	)
	defer func() { telemetry.End(span, err) }()

	started := time.Now()
	report := Report{Domain: domain}
	logger := r.logger.With("domain", domain, "source", src.Name())

	if force {
		if err := r.indexer.DeleteCollection(ctx, domain); err != nil {
			return report, fmt.Errorf("delete collection: %w", err)
		}
		if err := r.ledger.Reset(ctx, domain); err != nil {
			return report, fmt.Errorf("reset ledger: %w", err)
		}
	}
	if err := r.indexer.EnsureCollection(ctx, domain); err != nil {
		return report, fmt.Errorf("ensure collection: %w", err)
	}
	logger.Info("ingestion started", "force", force, "concurrency", r.concurrency)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for doc, derr := range src.Documents(gctx, domain) {
		if gctx.Err() != nil {
			break
		}
		if derr != nil {
			logger.Error("document could not be read", "error", derr)
			mu.Lock()
			report.Documents++
			report.Failed++
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			out := r.process(gctx, domain, src, doc, logger)
			mu.Lock()
			defer mu.Unlock()
			report.Documents++
			report.Units += out.units
			report.Rejected += out.rejected
			switch {
			case out.skipped:
				report.Skipped++
			case out.err != nil:
				report.Failed++
			}
			return gctx.Err()
		})
	}

	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	report.Duration = time.Since(started)
	span.SetAttributes(attribute.Int("documents", report.Documents), attribute.Int("units", report.Units))

	if err != nil {
		logger.Warn("ingestion interrupted", "error", err, "documents", report.Documents)
		return report, err
	}
	logger.Info("ingestion completed",
		"documents", report.Documents,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"units", report.Units,
		"rejected", report.Rejected,
		"duration", report.Duration,
	)
	return report, nil
}

type outcome struct {
	units    int
	rejected int
	skipped  bool
	err      error
}

func (r *Runner) process(ctx context.Context, domain document.Domain, src Source, doc document.Source, logger *slog.Logger) outcome {
	logger = logger.With("document", doc.Name)
	key := Key(doc)

	seen, err := r.ledger.Seen(ctx, domain, key)
	if err != nil {
		logger.Warn("ledger lookup failed, processing anyway", "error", err)
	}
	if seen {
		logger.Debug("document already indexed")
		return outcome{skipped: true}
	}

	units, rejected, err := r.Units(ctx, domain, doc)
	if err != nil {
		logger.Error("document processing failed", "error", err)
		return outcome{err: err}
	}

	n, err := r.indexer.IndexUnits(ctx, domain, units)
	if err != nil {
		logger.Error("indexing failed", "error", err)
		return outcome{rejected: rejected, err: err}
	}

	if err := r.ledger.Mark(ctx, domain, key); err != nil {
		logger.Warn("ledger update failed", "error", err)
	}
	if err := src.Done(ctx, domain, doc); err != nil {
		logger.Warn("source acknowledgement failed", "error", err)
	}
	logger.Info("document indexed", "units", n, "rejected", rejected)
	return outcome{units: n, rejected: rejected}
}

// Units builds the accepted units of one document and counts the rejected ones.
func (r *Runner) Units(ctx context.Context, domain document.Domain, doc document.Source) ([]document.Unit, int, error) {
	ext, err := Extract(r.normalizer, doc)
	if err != nil {
		return nil, 0, err
	}
	if ext.Text == "" {
		r.logger.Warn("document has no usable text", "document", doc.Name)
		return nil, 0, nil
	}
	if ext.Record != nil && (ext.Record.Revoked || ext.Record.Cancelled) {
		r.logger.Warn("indexing a revoked or cancelled norm", "document", doc.Name,
			"revoked", ext.Record.Revoked, "cancelled", ext.Record.Cancelled)
	}

	hint := doc.DomainHint
	if hint == "" {
		hint = domain
	}
	base := r.resolver.Resolve(metadata.Input{
		Source:     doc.Name,
		Text:       ext.Text,
		DomainHint: hint,
		URL:        doc.URL,
		Record:     ext.Record,
	})

	var segments []chunking.Segment
	if ext.Record != nil && ext.Record.Article != "" {
		segments, err = r.segmenter.SegmentArticle(ctx, ext.Text, ext.Record.Article)
	} else {
		segments, err = r.segmenter.Segment(ctx, ext.Text)
	}
	if err != nil {
		return nil, 0, err
	}

	units := make([]document.Unit, 0, len(segments))
	for _, seg := range segments {
		meta := base
		if seg.Article != "" {
			meta.Article = seg.Article
		}
		units = append(units, document.Unit{
			Text:      seg.Text,
			Metadata:  meta,
			Truncated: seg.Truncated,
		})
	}
	accepted := r.validator.Filter(units)
	return accepted, len(units) - len(accepted), nil
}
