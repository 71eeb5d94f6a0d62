package validator

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sweetpotato0/normrag/pkg/logging"
	"github.com/sweetpotato0/normrag/rag/document"
)

// MinSignalChars is the shortest text whose in-body references are trusted.
const MinSignalChars = 50

// Acceptance reasons reported by ChunkValidator.Accept.
const (
	ReasonArticle         = "has_article"
	ReasonNormativeSignal = "normative_signal"
	ReasonKnownNorm       = "known_norm"
	ReasonNoSignal        = "no_normative_signal"
)

var normativeSignals = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(artigo|art\.?)\s+\d+`),
	regexp.MustCompile(`(?i)\b(inciso|inc\.?)\s+[IVX]+`),
	regexp.MustCompile(`(?i)\b(parágrafo|par\.?)\s+\d+`),
	regexp.MustCompile(`(?i)\b(resolução|circular|comunicado|instrução)`),
	regexp.MustCompile(`(?i)\b(norma|normativo|regulamenta)`),
	regexp.MustCompile(`(?i)\b(bacen|banco\s+central)`),
	regexp.MustCompile(`(?i)\b(pix|open\s+finance)`),
	regexp.MustCompile(`(?i)\b(obrigação|dever|proibição|permissão)`),
}

// HasNormativeSignal reports whether text is long enough and mentions an
// article, a norm type, a supervised topic or duty vocabulary.
func HasNormativeSignal(text string) bool {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < MinSignalChars {
		return false
	}
	for _, re := range normativeSignals {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// ChunkValidator keeps only units that carry a citable normative signal.
// It holds no state between calls.
type ChunkValidator struct {
	logger *slog.Logger
}

func NewChunkValidator(logger *slog.Logger) *ChunkValidator {
	if logger == nil {
		logger = logging.WithComponent("chunk_validator")
	}
	return &ChunkValidator{logger: logger}
}

// Accept decides whether a unit is worth indexing and names the rule that decided.
func (v *ChunkValidator) Accept(u document.Unit) (bool, string) {
	switch {
	case u.Metadata.Article != "":
		return true, ReasonArticle
	case HasNormativeSignal(u.Text):
		return true, ReasonNormativeSignal
	case u.Metadata.KnownNorm():
		return true, ReasonKnownNorm
	default:
		return false, ReasonNoSignal
	}
}

// Filter returns the accepted units in their original order.
func (v *ChunkValidator) Filter(units []document.Unit) []document.Unit {
	out := make([]document.Unit, 0, len(units))
	for _, u := range units {
		ok, reason := v.Accept(u)
		if !ok {
			v.logger.Debug("unit rejected",
				"source", u.Metadata.Source,
				"norm", u.Metadata.Reference(),
				"reason", reason,
			)
			continue
		}
		out = append(out, u)
	}
	return out
}
