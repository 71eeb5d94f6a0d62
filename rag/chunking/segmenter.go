package chunking

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/sweetpotato0/normrag/pkg/logging"
	"github.com/sweetpotato0/normrag/rag/tokenizer"
)

const (
	// DefaultMaxTokens is the token budget of a single unit.
	DefaultMaxTokens = 600
	// CharsPerToken sets the first cut of an over-budget span at
	// MaxTokens*CharsPerToken characters. Spans still over budget after that
	// cut are shortened further until the counter agrees.
	CharsPerToken = 4
)

// Patterns holds the marker expressions used to split normative text.
type Patterns struct {
	// Article matches an article heading; group 1 is the raw marker ("Art. 5º").
	Article *regexp.Regexp
	// ArticlePrefix is removed from the raw marker to obtain the article id.
	ArticlePrefix *regexp.Regexp
	// SubItem matches a roman-numeral sub-item; group 1 is the numeral.
	SubItem *regexp.Regexp
}

// DefaultPatterns returns the Portuguese article and roman sub-item markers.
// Isolated words made of I, V and X (such as "vi") are matched as sub-items.
func DefaultPatterns() Patterns {
	return Patterns{
		Article:       regexp.MustCompile(`(?i)(Art\.?\s*\d+[º°]?)\s*[–-]?\s*`),
		ArticlePrefix: regexp.MustCompile(`(?i)art\.?\s*`),
		SubItem:       regexp.MustCompile(`(?i)\b([IVX]+)\b[º°]?\s*[–-]?\s*`),
	}
}

// Segment is one article or sub-item span of a normative text.
// Article is "" when the text has no article markers at all.
type Segment struct {
	Article   string
	Text      string
	Truncated bool
}

// Segmenter splits normalized text into citable segments.
type Segmenter interface {
	Segment(ctx context.Context, text string) ([]Segment, error)

	// SegmentArticle applies only the budget step to text already known to
	// be the body of article. Article markers inside it are not split on.
	SegmentArticle(ctx context.Context, text, article string) ([]Segment, error)
}

type Options struct {
	MaxTokens int
	Counter   tokenizer.Counter
	Patterns  Patterns
	Logger    *slog.Logger
}

// Option customizes the article segmenter.
type Option func(*Options)

// WithMaxTokens overrides the per-unit token budget.
func WithMaxTokens(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxTokens = n
		}
	}
}

// WithCounter sets the token counter, normally a tiktoken cl100k_base tokenizer.
func WithCounter(c tokenizer.Counter) Option {
	return func(o *Options) {
		if c != nil {
			o.Counter = c
		}
	}
}

// WithPatterns replaces the marker expressions.
func WithPatterns(p Patterns) Option {
	return func(o *Options) {
		if p.Article != nil && p.ArticlePrefix != nil && p.SubItem != nil {
			o.Patterns = p
		}
	}
}

// WithLogger sets the logger used for truncation warnings.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// ArticleSegmenter splits text at article markers and, for articles over the
// token budget, at roman-numeral sub-item markers.
type ArticleSegmenter struct {
	maxTokens int
	counter   tokenizer.Counter
	patterns  Patterns
	logger    *slog.Logger
}

var _ Segmenter = (*ArticleSegmenter)(nil)

// NewArticleSegmenter constructs a segmenter. Without WithCounter it falls back
// to the approximate SimpleCounter.
func NewArticleSegmenter(opts ...Option) *ArticleSegmenter {
	cfg := &Options{
		MaxTokens: DefaultMaxTokens,
		Patterns:  DefaultPatterns(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Counter == nil {
		cfg.Counter = tokenizer.SimpleCounter{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.WithComponent("segmenter")
	}
	return &ArticleSegmenter{
		maxTokens: cfg.MaxTokens,
		counter:   cfg.Counter,
		patterns:  cfg.Patterns,
		logger:    cfg.Logger,
	}
}

// Segment splits text into article units. Text before the first article
// marker is not returned.
func (s *ArticleSegmenter) Segment(ctx context.Context, text string) ([]Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	matches := s.patterns.Article.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return s.bounded(strings.TrimSpace(text), ""), nil
	}

	var out []Segment
	for i, m := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		span := strings.TrimSpace(text[m[0]:end])
		if span == "" {
			continue
		}
		out = append(out, s.bounded(span, s.articleID(text[m[2]:m[3]]))...)
	}
	return out, nil
}

func (s *ArticleSegmenter) SegmentArticle(ctx context.Context, text, article string) ([]Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.bounded(strings.TrimSpace(text), article), nil
}

// bounded keeps span whole when it fits the budget and otherwise subdivides it.
func (s *ArticleSegmenter) bounded(span, article string) []Segment {
	if span == "" {
		return nil
	}
	if s.counter.CountTokens(span) <= s.maxTokens {
		return []Segment{{Article: article, Text: span}}
	}
	return s.splitSubItems(span, article)
}

func (s *ArticleSegmenter) articleID(marker string) string {
	id := s.patterns.ArticlePrefix.ReplaceAllString(marker, "")
	id = strings.NewReplacer("º", "", "°", "").Replace(id)
	return strings.TrimSpace(id)
}

// splitSubItems breaks an over-budget article at sub-item markers. The
// article head before the first marker keeps the plain article id.
func (s *ArticleSegmenter) splitSubItems(span, article string) []Segment {
	matches := s.patterns.SubItem.FindAllStringSubmatchIndex(span, -1)
	if len(matches) == 0 {
		return s.fit(span, article)
	}

	var out []Segment
	if head := strings.TrimSpace(span[:matches[0][0]]); head != "" {
		out = append(out, s.fit(head, article)...)
	}
	for i, m := range matches {
		end := len(span)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		item := strings.TrimSpace(span[m[0]:end])
		if item == "" {
			continue
		}
		id := strings.ToUpper(span[m[2]:m[3]])
		if article != "" {
			id = article + ", " + id
		}
		out = append(out, s.fit(item, id)...)
	}
	return out
}

// fit returns text as a single segment, cutting it when it still exceeds the
// token budget.
func (s *ArticleSegmenter) fit(text, id string) []Segment {
	if text == "" {
		return nil
	}
	tokens := s.counter.CountTokens(text)
	if tokens <= s.maxTokens {
		return []Segment{{Article: id, Text: text}}
	}
	runes := []rune(text)
	limit := min(len(runes), s.maxTokens*CharsPerToken)
	cut := strings.TrimSpace(string(runes[:limit]))
	for n := s.counter.CountTokens(cut); n > s.maxTokens && limit > 0; n = s.counter.CountTokens(cut) {
		limit = min(limit-1, limit*s.maxTokens/n)
		cut = strings.TrimSpace(string(runes[:limit]))
	}
	s.logger.Warn("segment truncated to fit token budget",
		"article", id,
		"tokens", tokens,
		"max_tokens", s.maxTokens,
	)
	return []Segment{{Article: id, Text: cut, Truncated: true}}
}
