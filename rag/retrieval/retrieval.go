package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	normerrors "github.com/sweetpotato0/normrag/errors"
	"github.com/sweetpotato0/normrag/pkg/logging"
	"github.com/sweetpotato0/normrag/pkg/telemetry"
	"github.com/sweetpotato0/normrag/rag/document"
	"github.com/sweetpotato0/normrag/rag/embedder"
	"github.com/sweetpotato0/normrag/rag/retry"
	"github.com/sweetpotato0/normrag/vector"
)

// DefaultCollectionPrefix is prepended to the domain to name its collection.
const DefaultCollectionPrefix = "normrag_"

// upsertBatch bounds the number of points sent per Upsert call
const upsertBatch = 64

// Config controls retrieval behaviour.
type Config struct {
	CollectionPrefix string
	Policy           retry.Policy
	Logger           *slog.Logger
}

// Option customizes retriever config.
type Option func(*Config)

// WithCollectionPrefix sets the prefix of every domain collection.
func WithCollectionPrefix(prefix string) Option {
	return func(cfg *Config) {
		if prefix != "" {
			cfg.CollectionPrefix = prefix
		}
	}
}

// WithRetryPolicy sets the policy wrapped around embedding and index calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(cfg *Config) {
		cfg.Policy = p
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *Config) {
		if l != nil {
			cfg.Logger = l
		}
	}
}

// Client coordinates embedding and vector search over per-domain collections.
type Client struct {
	index    vector.Index
	embedder embedder.Embedder
	cfg      Config
}

// New creates a client over index, embedding with emb.
func New(index vector.Index, emb vector.Embedder, opts ...Option) *Client {
	cfg := Config{
		CollectionPrefix: DefaultCollectionPrefix,
		Policy:           retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.WithComponent("retrieval")
	}
	if cfg.Policy.Logger == nil {
		cfg.Policy.Logger = cfg.Logger
	}
	return &Client{
		index:    index,
		embedder: embedder.NewVectorAdapter(emb, cfg.Policy),
		cfg:      cfg,
	}
}

// Collection returns the collection name of domain.
func (c *Client) Collection(domain document.Domain) string {
	return c.cfg.CollectionPrefix + string(domain)
}

// Search embeds query and returns at most topK units of domain scoring at
// least minScore, best first. A missing or empty collection yields an empty
// set.
func (c *Client) Search(ctx context.Context, domain document.Domain, query string, topK int, minScore float32) (_ document.EvidenceSet, err error) {
	ctx, span := telemetry.Start(ctx, "retrieval.search",
		telemetry.Domain(string(domain)),
		attribute.Int("top_k", topK),
	)
	defer func() { telemetry.End(span, err) }()

	if topK <= 0 {
		return document.EvidenceSet{}, nil
	}

	vec, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, &normerrors.RetrievalError{Op: "embed query", Domain: string(domain), Err: err}
	}

	collection := c.Collection(domain)
	hits, err := retry.Call(ctx, c.cfg.Policy, "vector query", func(ctx context.Context) ([]vector.Hit, error) {
		return c.index.Query(ctx, collection, vec, topK, minScore)
	})
	if normerrors.Is(err, normerrors.ErrNotFound) {
		c.cfg.Logger.Warn("collection not found, returning empty evidence", "collection", collection)
		return document.EvidenceSet{}, nil
	}
	if err != nil {
		return nil, &normerrors.RetrievalError{Op: "search", Domain: string(domain), Err: err}
	}

	evidence := make(document.EvidenceSet, 0, len(hits))
	for _, h := range hits {
		if h.Score < minScore {
			continue
		}
		evidence = append(evidence, h.Unit())
	}
	sort.SliceStable(evidence, func(i, j int) bool {
		return evidence[i].Score > evidence[j].Score
	})
	if len(evidence) > topK {
		evidence = evidence[:topK]
	}

	span.SetAttributes(attribute.Int("hits", len(evidence)))
	c.cfg.Logger.Debug("search completed",
		"domain", domain,
		"hits", len(evidence),
		"max_score", evidence.MaxScore(),
	)
	return evidence, nil
}

// IndexUnits embeds every unit, assigns it a fresh id and upserts it into the
// domain collection. It returns the number of units stored.
func (c *Client) IndexUnits(ctx context.Context, domain document.Domain, units []document.Unit) (_ int, err error) {
	if len(units) == 0 {
		return 0, nil
	}
	ctx, span := telemetry.Start(ctx, "retrieval.index_units",
		telemetry.Domain(string(domain)),
		attribute.Int("units", len(units)),
	)
	defer func() { telemetry.End(span, err) }()

	collection := c.Collection(domain)
	points := make([]vector.Point, 0, len(units))
	for _, u := range units {
		vec, err := c.embedder.EmbedUnit(ctx, u)
		if err != nil {
			return 0, &normerrors.RetrievalError{Op: "embed unit", Domain: string(domain), Err: err}
		}
		points = append(points, vector.Point{
			ID:      document.NewUnitID(),
			Vector:  vec,
			Payload: vector.PayloadFromUnit(u),
		})
	}

	stored := 0
	for start := 0; start < len(points); start += upsertBatch {
		batch := points[start:min(start+upsertBatch, len(points))]
		err := c.cfg.Policy.Do(ctx, "vector upsert", func(ctx context.Context) error {
			return c.index.Upsert(ctx, collection, batch)
		})
		if err != nil {
			return stored, &normerrors.RetrievalError{Op: "upsert", Domain: string(domain), Err: err}
		}
		stored += len(batch)
	}
	c.cfg.Logger.Info("units indexed", "collection", collection, "count", stored)
	return stored, nil
}

// EnsureCollection creates the domain collection sized for the embedder.
func (c *Client) EnsureCollection(ctx context.Context, domain document.Domain) error {
	dim := c.embedder.Dimension()
	if dim <= 0 {
		return fmt.Errorf("ensure collection %s: embedder reports dimension %d", c.Collection(domain), dim)
	}
	if err := c.index.EnsureCollection(ctx, c.Collection(domain), dim); err != nil {
		return &normerrors.RetrievalError{Op: "ensure collection", Domain: string(domain), Err: err}
	}
	return nil
}

// DeleteCollection drops the domain collection.
func (c *Client) DeleteCollection(ctx context.Context, domain document.Domain) error {
	if err := c.index.DeleteCollection(ctx, c.Collection(domain)); err != nil {
		return &normerrors.RetrievalError{Op: "delete collection", Domain: string(domain), Err: err}
	}
	return nil
}

// CollectionInfo reports existence and size of the domain collection.
func (c *Client) CollectionInfo(ctx context.Context, domain document.Domain) (vector.CollectionInfo, error) {
	info, err := c.index.CollectionInfo(ctx, c.Collection(domain))
	if err != nil {
		return info, &normerrors.RetrievalError{Op: "collection info", Domain: string(domain), Err: err}
	}
	return info, nil
}
