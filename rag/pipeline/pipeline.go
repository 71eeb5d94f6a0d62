package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	normerrors "github.com/sweetpotato0/normrag/errors"
	"github.com/sweetpotato0/normrag/pkg/logging"
	"github.com/sweetpotato0/normrag/pkg/telemetry"
	"github.com/sweetpotato0/normrag/rag/audit"
	"github.com/sweetpotato0/normrag/rag/composer"
	"github.com/sweetpotato0/normrag/rag/document"
	"github.com/sweetpotato0/normrag/rag/validator"
	"github.com/sweetpotato0/normrag/vector"
)

// Retriever finds evidence for a question and reports collection state.
type Retriever interface {
	Search(ctx context.Context, domain document.Domain, query string, topK int, minScore float32) (document.EvidenceSet, error)
	CollectionInfo(ctx context.Context, domain document.Domain) (vector.CollectionInfo, error)
}

// Composer turns a question and its evidence into a raw answer.
type Composer interface {
	Compose(ctx context.Context, question string, evidence document.EvidenceSet) (string, error)
}

// Query is one question addressed to a domain. Zero TopK and nil MinScore
// take the configured defaults.
type Query struct {
	Question string
	Domain   document.Domain
	TopK     int
	MinScore *float64
}

// Response is the consumer view of a validated answer.
type Response struct {
	Answer     string               `json:"answer"`
	Citations  []string             `json:"citations"`
	Grounded   bool                 `json:"grounded"`
	Evidence   document.EvidenceSet `json:"evidence"`
	Validation document.Validation  `json:"validation"`
}

func newResponse(ans document.Answer) *Response {
	citations := ans.Citations
	if citations == nil {
		citations = []string{}
	}
	evidence := ans.Evidence
	if evidence == nil {
		evidence = document.EvidenceSet{}
	}
	return &Response{
		Answer:     ans.Text,
		Citations:  citations,
		Grounded:   ans.Grounded,
		Evidence:   evidence,
		Validation: ans.Validation,
	}
}

// Service answers questions: retrieve, compose, validate, audit.
type Service struct {
	cfg       *Config
	retriever Retriever
	composer  Composer
	validator *validator.AnswerValidator
	logger    *slog.Logger
}

func New(retriever Retriever, comp Composer, opts ...Option) (*Service, error) {
	if retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if comp == nil {
		return nil, fmt.Errorf("composer is required")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.WithComponent("pipeline")
	}
	if cfg.validator == nil {
		cfg.validator = validator.NewAnswerValidator(validator.WithAnswerLogger(cfg.logger))
	}

	return &Service{
		cfg:       cfg,
		retriever: retriever,
		composer:  comp,
		validator: cfg.validator,
		logger:    cfg.logger,
	}, nil
}

// Domains lists the domains this service answers for.
func (s *Service) Domains() []document.Domain {
	return slices.Clone(s.cfg.Domains)
}

// HasDomain reports whether d can be queried.
func (s *Service) HasDomain(d document.Domain) bool {
	return slices.Contains(s.cfg.Domains, d)
}

// Ask answers q. Only invalid input is returned as an error; retrieval and
// generation failures degrade to a disclaimer answer.
func (s *Service) Ask(ctx context.Context, q Query) (_ *Response, err error) {
	ctx, span := telemetry.Start(ctx, "pipeline.ask", telemetry.Domain(string(q.Domain)))
	defer func() { telemetry.End(span, err) }()

	started := s.cfg.now()
	topK, minScore, err := s.normalize(&q)
	if err != nil {
		return nil, err
	}

	ans := s.answer(ctx, q, topK, minScore)
	latency := s.cfg.now().Sub(started)

	span.SetAttributes(
		attribute.Bool("grounded", ans.Grounded),
		attribute.String("validation", string(ans.Validation.State)),
		attribute.Int("evidence", len(ans.Evidence)),
	)
	s.logger.Info("query answered",
		"domain", q.Domain,
		"state", ans.Validation.State,
		"grounded", ans.Grounded,
		"sources", len(ans.Evidence),
		"citations", len(ans.Citations),
		"latency", latency,
	)

	rec := audit.FromAnswer(q.Question, q.Domain, ans, started, latency)
	if err := s.cfg.sink.Record(ctx, rec); err != nil {
		s.logger.Warn("audit record failed", "error", err)
	}
	return newResponse(ans), nil
}

func (s *Service) answer(ctx context.Context, q Query, topK int, minScore float32) document.Answer {
	evidence, err := s.retriever.Search(ctx, q.Domain, q.Question, topK, minScore)
	if err != nil {
		s.logger.Error("retrieval failed, answering without evidence", "domain", q.Domain, "error", err)
		return validator.NoEvidence()
	}
	if evidence.Empty() {
		s.logger.Warn("no evidence above threshold", "domain", q.Domain, "min_score", minScore)
		return validator.NoEvidence()
	}

	raw, err := s.composer.Compose(ctx, q.Question, evidence)
	if err != nil {
		s.logger.Error("generation failed, answering with disclaimer", "domain", q.Domain, "error", err)
		return document.Answer{
			Text:       validator.Disclaimer,
			Citations:  []string{},
			Grounded:   false,
			Validation: document.Validation{State: document.StateUnvalidated, SourceCount: len(evidence)},
			Evidence:   evidence,
		}
	}

	return s.validator.Finalize(raw, composer.ExtractCitations(raw, evidence), evidence)
}

// normalize trims the question, checks bounds and fills defaults.
func (s *Service) normalize(q *Query) (int, float32, error) {
	q.Question = strings.TrimSpace(q.Question)
	if q.Question == "" {
		return 0, 0, fmt.Errorf("%w: question is empty", normerrors.ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(q.Question); n > MaxQuestionChars {
		return 0, 0, fmt.Errorf("%w: question has %d characters, max %d", normerrors.ErrInvalidInput, n, MaxQuestionChars)
	}
	if !s.HasDomain(q.Domain) {
		return 0, 0, fmt.Errorf("%w: unknown domain %q", normerrors.ErrInvalidInput, q.Domain)
	}

	topK := q.TopK
	if topK == 0 {
		topK = s.cfg.TopK
	}
	if topK < MinTopK || topK > MaxTopK {
		return 0, 0, fmt.Errorf("%w: top_k must be between %d and %d", normerrors.ErrInvalidInput, MinTopK, MaxTopK)
	}

	minScore := s.cfg.MinScore
	if q.MinScore != nil {
		minScore = *q.MinScore
	}
	if minScore < 0 || minScore > 1 {
		return 0, 0, fmt.Errorf("%w: min_score must be between 0 and 1", normerrors.ErrInvalidInput)
	}
	return topK, float32(minScore), nil
}

// DomainHealth is the state of one domain collection.
type DomainHealth struct {
	Exists      bool   `json:"exists"`
	PointsCount int64  `json:"points_count"`
	Error       string `json:"error,omitempty"`
}

// Health statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthReport summarises every configured collection.
type HealthReport struct {
	Status      string                           `json:"status"`
	IndexOnline bool                             `json:"index_online"`
	Domains     map[document.Domain]DomainHealth `json:"collections"`
}

// Health reports unhealthy when the index cannot be reached for any domain,
// healthy when at least one collection holds points and degraded otherwise.
func (s *Service) Health(ctx context.Context) HealthReport {
	report := HealthReport{Domains: make(map[document.Domain]DomainHealth, len(s.cfg.Domains))}
	populated := false
	for _, d := range s.cfg.Domains {
		info, err := s.retriever.CollectionInfo(ctx, d)
		if err != nil {
			s.logger.Warn("collection info failed", "domain", d, "error", err)
			report.Domains[d] = DomainHealth{Error: err.Error()}
			continue
		}
		report.IndexOnline = true
		report.Domains[d] = DomainHealth{Exists: info.Exists, PointsCount: info.PointsCount}
		if info.PointsCount > 0 {
			populated = true
		}
	}

	switch {
	case !report.IndexOnline:
		report.Status = StatusUnhealthy
	case populated:
		report.Status = StatusHealthy
	default:
		report.Status = StatusDegraded
	}
	return report
}
