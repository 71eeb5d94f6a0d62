package document

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Domain names a regulatory area. Each domain is indexed in its own collection.
type Domain string

const (
	DomainPix         Domain = "pix"
	DomainOpenFinance Domain = "open_finance"
	DomainOther       Domain = "other"
)

// ParseDomain maps a user supplied label to a Domain. Unknown labels map to DomainOther.
func ParseDomain(s string) Domain {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pix":
		return DomainPix
	case "open_finance", "open-finance", "openfinance":
		return DomainOpenFinance
	default:
		return DomainOther
	}
}

// Sentinels written when a norm cannot be identified.
const (
	DefaultNormType   = "Norma"
	DefaultNormNumber = "N/A"
)

// Metadata describes where a unit of normative text comes from.
// An empty Article marks a preamble or whole-document unit.
type Metadata struct {
	Source     string `json:"source"`
	NormType   string `json:"norm_type"`
	NormNumber string `json:"norm_number"`
	Year       int    `json:"year"`
	Article    string `json:"article,omitempty"`
	Domain     Domain `json:"domain"`
	OriginURL  string `json:"url,omitempty"`
}

// Reference formats the norm as "<type> <number>/<year>".
func (m Metadata) Reference() string {
	return fmt.Sprintf("%s %s/%d", m.NormType, m.NormNumber, m.Year)
}

// Citation formats the norm with its article, or returns "" for article-less units.
func (m Metadata) Citation() string {
	if m.Article == "" {
		return ""
	}
	return fmt.Sprintf("%s, Art. %s", m.Reference(), m.Article)
}

// KnownNorm reports whether type or number were resolved to something other than
// the default sentinels.
func (m Metadata) KnownNorm() bool {
	return (m.NormType != "" && m.NormType != DefaultNormType) ||
		(m.NormNumber != "" && m.NormNumber != DefaultNormNumber)
}

// Unit is the smallest retrievable piece of normative text.
type Unit struct {
	ID        string   `json:"id,omitempty"`
	Text      string   `json:"text"`
	Metadata  Metadata `json:"metadata"`
	Score     float32  `json:"score,omitempty"`
	Truncated bool     `json:"truncated,omitempty"`
}

// NewUnitID returns a fresh random identifier for an indexed unit.
func NewUnitID() string {
	return uuid.NewString()
}

// EvidenceSet holds retrieved units ordered by descending score.
type EvidenceSet []Unit

// Empty reports whether no evidence was retrieved.
func (e EvidenceSet) Empty() bool {
	return len(e) == 0
}

// MaxScore returns the best score in the set, or 0 for an empty set.
func (e EvidenceSet) MaxScore() float32 {
	var best float32
	for _, u := range e {
		if u.Score > best {
			best = u.Score
		}
	}
	return best
}

// ValidationState is the outcome of checking an answer against its evidence.
type ValidationState string

const (
	StateNoEvidence  ValidationState = "no_evidence"
	StateUnvalidated ValidationState = "unvalidated"
	StateValid       ValidationState = "valid"
	StateInvalid     ValidationState = "invalid"
)

// Validation records the individual checks run on a generated answer.
type Validation struct {
	State                 ValidationState `json:"state"`
	Valid                 bool            `json:"valid"`
	HasNormativeReference bool            `json:"has_normative_reference"`
	HasArticleCitation    bool            `json:"has_article_citation"`
	SourceCount           int             `json:"source_count"`
	Failures              []string        `json:"failures,omitempty"`
}

// Answer is the final, validated response to a question.
type Answer struct {
	Text       string      `json:"answer"`
	Citations  []string    `json:"citations"`
	Grounded   bool        `json:"grounded"`
	Validation Validation  `json:"validation"`
	Evidence   EvidenceSet `json:"evidence,omitempty"`
}

// SourceKind identifies how a source body must be decoded.
type SourceKind string

const (
	KindPDF  SourceKind = "pdf"
	KindHTML SourceKind = "html"
	KindJSON SourceKind = "json"
	KindText SourceKind = "text"
)

// KindFromName infers a SourceKind from a file extension. ok is false for
// extensions ingestion does not handle.
func KindFromName(name string) (kind SourceKind, ok bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return KindPDF, true
	case ".html", ".htm":
		return KindHTML, true
	case ".json":
		return KindJSON, true
	case ".txt":
		return KindText, true
	default:
		return "", false
	}
}

// Record is a structured normative record, as returned by the Bacen API.
// Its fields take precedence over anything inferred from text or filename.
type Record struct {
	NormType   string `json:"norm_type,omitempty"`
	NormNumber string `json:"norm_number,omitempty"`
	Year       int    `json:"year,omitempty"`
	Title      string `json:"title,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Domain     Domain `json:"domain,omitempty"`
	Article    string `json:"article,omitempty"`
	Text       string `json:"text,omitempty"`
	Revoked    bool   `json:"revoked,omitempty"`
	Cancelled  bool   `json:"cancelled,omitempty"`
}

// Source is a raw document handed to ingestion.
type Source struct {
	Name       string
	Kind       SourceKind
	Body       []byte
	DomainHint Domain
	URL        string
	Record     *Record
}
