package metadata

import (
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sweetpotato0/normrag/pkg/logging"
	"github.com/sweetpotato0/normrag/rag/document"
)

var normRef = regexp.MustCompile(`(?i)(Resolução|Circular|Comunicado|Instrução\s+Normativa)\s+(BCB\s+)?` +
	`(?:n\.?\s*[º°o]?\.?\s*)?(\d+(?:\.\d{3})*),?\s+(?:de\s+)?(?:\d{1,2}[º°]?\s+de\s+\p{L}+\s+de\s+)?(\d{4})`)

var yearPattern = regexp.MustCompile(`\d{4}`)

var domainKeywords = []struct {
	domain   document.Domain
	keywords []string
}{
	{document.DomainPix, []string{"pix", "pagamento instantâneo", "pagamento instantaneo"}},
	{document.DomainOpenFinance, []string{"open finance", "open banking", "dados abertos", "compartilhamento de dados"}},
}

// canonical spellings for norm types found in text or filenames
var normTypes = map[string]string{
	"resolução":           "Resolução",
	"resolucao":           "Resolução",
	"circular":            "Circular",
	"comunicado":          "Comunicado",
	"instrução normativa": "Instrução Normativa",
	"instrucao":           "Instrução Normativa",
	"instrucao-normativa": "Instrução Normativa",
}

// Input is everything known about a document before its units are built.
type Input struct {
	Source     string
	Text       string
	DomainHint document.Domain
	URL        string
	Record     *document.Record
}

// Resolver attaches normative metadata to documents. It never fails: fields
// that cannot be determined fall back to documented defaults.
type Resolver struct {
	now    func() time.Time
	logger *slog.Logger
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithClock overrides the clock used for the default year.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the logger used to report defaulted fields.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.WithComponent("metadata")
	}
	return r
}

// Resolve merges, field by field, the structured record, the norm reference
// found in the text and the filename convention, in that order.
func (r *Resolver) Resolve(in Input) document.Metadata {
	fromName := FromFilename(in.Source)
	fromText := FromText(in.Text)

	var rec document.Record
	if in.Record != nil {
		rec = *in.Record
	}

	meta := document.Metadata{
		Source:     in.Source,
		NormType:   firstNonEmpty(rec.NormType, fromText.NormType, fromName.NormType),
		NormNumber: firstNonEmpty(rec.NormNumber, fromText.NormNumber, fromName.NormNumber),
		Year:       firstNonZero(rec.Year, fromText.Year, fromName.Year),
		Article:    rec.Article,
		OriginURL:  in.URL,
	}

	switch {
	case rec.Domain != "":
		meta.Domain = rec.Domain
	case in.DomainHint != "":
		meta.Domain = in.DomainHint
	case fromName.Domain != "":
		meta.Domain = fromName.Domain
	default:
		meta.Domain = InferDomain(rec.Title, rec.Subject, in.Text)
	}

	var defaulted []string
	if meta.NormType == "" {
		meta.NormType = document.DefaultNormType
		defaulted = append(defaulted, "norm_type")
	}
	if meta.NormNumber == "" {
		meta.NormNumber = document.DefaultNormNumber
		defaulted = append(defaulted, "norm_number")
	}
	if meta.Year == 0 {
		meta.Year = r.now().Year()
		defaulted = append(defaulted, "year")
	}
	if len(defaulted) > 0 {
		r.logger.Warn("metadata fields defaulted", "source", in.Source, "fields", defaulted)
	}
	return meta
}

// Partial is metadata recovered from a single clue; zero values are unknown.
type Partial struct {
	Domain     document.Domain
	NormType   string
	NormNumber string
	Year       int
}

// FromText finds the first norm reference such as
// "Resolução BCB nº 1, de 12 de agosto de 2020" in text.
func FromText(text string) Partial {
	m := normRef.FindStringSubmatch(text)
	if m == nil {
		return Partial{}
	}
	normType := canonicalType(m[1])
	if strings.TrimSpace(m[2]) != "" {
		normType += " BCB"
	}
	year, _ := strconv.Atoi(m[4])
	return Partial{
		NormType:   normType,
		NormNumber: strings.ReplaceAll(m[3], ".", ""),
		Year:       year,
	}
}

// FromFilename parses the domain_normtype_number_year convention, e.g.
// "pix_circular_123_2023.pdf" or "open_finance_resolucao_1_2021.html".
func FromFilename(name string) Partial {
	stem := strings.ToLower(strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)))
	if stem == "" {
		return Partial{}
	}

	var p Partial
	rest := stem
	for _, d := range []document.Domain{document.DomainOpenFinance, document.DomainPix} {
		if prefix := string(d) + "_"; strings.HasPrefix(stem, prefix) {
			p.Domain = d
			rest = strings.TrimPrefix(stem, prefix)
			break
		}
	}

	parts := strings.Split(rest, "_")
	if p.Domain == "" {
		if len(parts) < 4 {
			return p
		}
		parts = parts[1:]
	}
	if len(parts) < 3 {
		return p
	}

	p.NormType = canonicalType(parts[0])
	p.NormNumber = parts[1]
	if year, err := strconv.Atoi(parts[2]); err == nil {
		p.Year = year
	}
	return p
}

// InferDomain classifies the given texts by keyword. Pix keywords win over
// Open Finance keywords; neither yields DomainOther.
func InferDomain(texts ...string) document.Domain {
	joined := strings.ToLower(strings.Join(texts, " "))
	for _, dk := range domainKeywords {
		for _, kw := range dk.keywords {
			if strings.Contains(joined, kw) {
				return dk.domain
			}
		}
	}
	return document.DomainOther
}

// YearFromDate extracts the first four-digit run of a date string, or 0.
func YearFromDate(date string) int {
	if m := yearPattern.FindString(date); m != "" {
		year, _ := strconv.Atoi(m)
		return year
	}
	return 0
}

func canonicalType(raw string) string {
	key := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	if t, ok := normTypes[key]; ok {
		return t
	}
	if key == "" {
		return ""
	}
	r := []rune(key)
	return strings.ToUpper(string(r[0])) + string(r[1:])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
