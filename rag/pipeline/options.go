package pipeline

import (
	"log/slog"
	"time"

	"github.com/sweetpotato0/normrag/rag/audit"
	"github.com/sweetpotato0/normrag/rag/document"
	"github.com/sweetpotato0/normrag/rag/validator"
)

// Bounds enforced on every query.
const (
	MaxQuestionChars = 1000
	MinTopK          = 1
	MaxTopK          = 10
)

// Config controls query defaults and the collaborators that are optional.
type Config struct {
	Domains  []document.Domain // Domains that may be queried, one collection each
	TopK     int               // Default result count when a query leaves it unset
	MinScore float64           // Default similarity threshold

	validator *validator.AnswerValidator
	sink      audit.Sink
	logger    *slog.Logger
	now       func() time.Time
}

// Option customises the service configuration.
type Option func(*Config)

// WithDomains restricts queries to the given domains.
func WithDomains(domains ...document.Domain) Option {
	return func(cfg *Config) {
		if len(domains) > 0 {
			cfg.Domains = append([]document.Domain(nil), domains...)
		}
	}
}

// WithTopK sets the default number of evidence units.
func WithTopK(k int) Option {
	return func(cfg *Config) {
		if k >= MinTopK && k <= MaxTopK {
			cfg.TopK = k
		}
	}
}

// WithMinScore sets the default similarity threshold.
func WithMinScore(score float64) Option {
	return func(cfg *Config) {
		if score >= 0 && score <= 1 {
			cfg.MinScore = score
		}
	}
}

// WithValidator replaces the default answer validator.
func WithValidator(v *validator.AnswerValidator) Option {
	return func(cfg *Config) {
		if v != nil {
			cfg.validator = v
		}
	}
}

// WithAuditSink records every answered query in sink.
func WithAuditSink(sink audit.Sink) Option {
	return func(cfg *Config) {
		if sink != nil {
			cfg.sink = sink
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cfg *Config) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithClock overrides the clock used for audit timestamps and latency.
func WithClock(now func() time.Time) Option {
	return func(cfg *Config) {
		if now != nil {
			cfg.now = now
		}
	}
}

func defaultConfig() *Config {
	return &Config{
		Domains:  []document.Domain{document.DomainPix, document.DomainOpenFinance},
		TopK:     5,
		MinScore: 0.7,
		sink:     audit.Nop{},
		now:      time.Now,
	}
}
