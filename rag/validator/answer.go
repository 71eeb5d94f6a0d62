package validator

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/sweetpotato0/normrag/pkg/logging"
	"github.com/sweetpotato0/normrag/rag/document"
)

// Disclaimer is returned whenever the indexed norms cannot support an answer.
const Disclaimer = "Não há base normativa explícita nos documentos analisados para responder a esta pergunta."

// Failure names reported in document.Validation.Failures.
const (
	FailureNoNormativeReference = "missing_normative_reference"
	FailureNoArticleCitation    = "missing_article_citation"
	FailureInsufficientSources  = "insufficient_sources"
)

var (
	normativeReference = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(artigo|art\.?)\s+\d+`),
		regexp.MustCompile(`(?i)\b(inciso|inc\.?)\s+[IVX]+`),
		regexp.MustCompile(`(?i)\b(parágrafo|par\.?)\s+\d+`),
		regexp.MustCompile(`(?i)\b(resolução|circular|comunicado)\s+(?:bcb\s+)?(?:n\.?\s*[º°o]?\.?\s*)?\d+`),
		regexp.MustCompile(`(?i)\b(norma|normativo)`),
	}
	articleCitation = regexp.MustCompile(`(?i)\b(artigo|art\.?)\s+\d+`)
)

// AnswerValidator decides whether a generated answer is grounded in the
// retrieved evidence.
type AnswerValidator struct {
	minSources int
	logger     *slog.Logger
}

// AnswerOption customizes an AnswerValidator.
type AnswerOption func(*AnswerValidator)

// WithMinSources sets how many evidence units a valid answer needs (default 1).
func WithMinSources(n int) AnswerOption {
	return func(v *AnswerValidator) {
		if n > 0 {
			v.minSources = n
		}
	}
}

// WithAnswerLogger sets the logger used for validation outcomes.
func WithAnswerLogger(l *slog.Logger) AnswerOption {
	return func(v *AnswerValidator) {
		if l != nil {
			v.logger = l
		}
	}
}

func NewAnswerValidator(opts ...AnswerOption) *AnswerValidator {
	v := &AnswerValidator{minSources: 1}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = logging.WithComponent("answer_validator")
	}
	return v
}

// NoEvidence is the answer given when retrieval found nothing usable.
func NoEvidence() document.Answer {
	return document.Answer{
		Text:      Disclaimer,
		Citations: []string{},
		Grounded:  false,
		Validation: document.Validation{
			State: document.StateNoEvidence,
		},
	}
}

// Check runs the individual checks without deciding the final answer.
func (v *AnswerValidator) Check(answer string, evidence document.EvidenceSet) document.Validation {
	if evidence.Empty() {
		return document.Validation{State: document.StateNoEvidence}
	}

	res := document.Validation{
		HasNormativeReference: matchesAny(normativeReference, answer),
		HasArticleCitation:    articleCitation.MatchString(answer),
		SourceCount:           len(evidence),
	}
	if !res.HasNormativeReference {
		res.Failures = append(res.Failures, FailureNoNormativeReference)
	}
	if !res.HasArticleCitation {
		res.Failures = append(res.Failures, FailureNoArticleCitation)
	}
	if res.SourceCount < v.minSources {
		res.Failures = append(res.Failures, FailureInsufficientSources)
	}
	res.Valid = len(res.Failures) == 0
	if res.Valid {
		res.State = document.StateValid
	} else {
		res.State = document.StateInvalid
	}
	return res
}

// Finalize moves an unvalidated answer to Valid, Invalid or NoEvidence.
// Invalid answers are still returned so the caller sees the raw text, but
// with Validation.Valid false and citations taken from the evidence when the
// answer itself cited nothing.
func (v *AnswerValidator) Finalize(raw string, citations []string, evidence document.EvidenceSet) document.Answer {
	if evidence.Empty() {
		return NoEvidence()
	}

	res := v.Check(raw, evidence)
	ans := document.Answer{
		Text:       raw,
		Citations:  citations,
		Grounded:   true,
		Validation: res,
		Evidence:   evidence,
	}
	if res.Valid {
		return ans
	}

	v.logger.Warn("answer failed validation", "failures", res.Failures, "sources", res.SourceCount)
	if strings.TrimSpace(ans.Text) == "" {
		ans.Text = Disclaimer
	}
	if len(ans.Citations) == 0 {
		ans.Citations = EvidenceCitations(evidence)
	}
	return ans
}

// EvidenceCitations lists each evidence unit's citation, or its norm
// reference when it has no article, deduplicated and sorted.
func EvidenceCitations(evidence document.EvidenceSet) []string {
	seen := make(map[string]struct{}, len(evidence))
	out := make([]string, 0, len(evidence))
	for _, u := range evidence {
		c := u.Metadata.Citation()
		if c == "" {
			c = u.Metadata.Reference()
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func matchesAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
