package bacen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sweetpotato0/normrag/contrib/provider"
	normerrors "github.com/sweetpotato0/normrag/errors"
	"github.com/sweetpotato0/normrag/pkg/logging"
	"github.com/sweetpotato0/normrag/rag/document"
	"github.com/sweetpotato0/normrag/rag/ingest"
	"github.com/sweetpotato0/normrag/rag/metadata"
	"github.com/sweetpotato0/normrag/rag/retry"
)

// DefaultBaseURL is the normative content endpoint of the Bacen site.
const DefaultBaseURL = "https://www.bcb.gov.br/api/conteudo/app/normativos/exibenormativo"

// canonicalURL is the public page of a norm.
const canonicalURL = "https://www.bcb.gov.br/estabilidadefinanceira/exibenormativo"

// Norm identifies a normative act, e.g. {Type: "Resolução BCB", Number: "1"}.
type Norm struct {
	Type   string
	Number string
}

func (n Norm) String() string {
	return n.Type + " " + n.Number
}

// ParseNorm reads "<type>:<number>", e.g. "Resolução BCB:1".
func ParseNorm(s string) (Norm, error) {
	typ, num, ok := strings.Cut(s, ":")
	typ, num = strings.TrimSpace(typ), strings.TrimSpace(num)
	if !ok || typ == "" || num == "" {
		return Norm{}, fmt.Errorf("%w: norm %q must look like \"Resolução BCB:1\"", normerrors.ErrInvalidInput, s)
	}
	if _, err := strconv.Atoi(num); err != nil {
		return Norm{}, fmt.Errorf("%w: norm number %q is not numeric", normerrors.ErrInvalidInput, num)
	}
	return Norm{Type: typ, Number: num}, nil
}

// CanonicalURL is the public page of the norm.
func CanonicalURL(typ, number string) string {
	q := url.Values{}
	q.Set("tipo", typ)
	q.Set("numero", number)
	return canonicalURL + "?" + q.Encode()
}

// Config configures the API client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Client  *http.Client
	Policy  retry.Policy
	Logger  *slog.Logger
}

// Source downloads a fixed list of norms from the Bacen API.
type Source struct {
	baseURL string
	client  *http.Client
	policy  retry.Policy
	norms   []Norm
	logger  *slog.Logger
}

var _ ingest.Source = (*Source)(nil)

func New(cfg Config, norms ...Norm) *Source {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.WithComponent("source.bacen")
	}
	if cfg.Policy.MaxRetries == 0 && cfg.Policy.BaseDelay == 0 {
		sleep := cfg.Policy.Sleep
		cfg.Policy = retry.DefaultPolicy()
		cfg.Policy.Sleep = sleep
	}
	if cfg.Policy.Logger == nil {
		cfg.Policy.Logger = cfg.Logger
	}
	return &Source{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  cfg.Client,
		policy:  cfg.Policy,
		norms:   norms,
		logger:  cfg.Logger,
	}
}

func (s *Source) Name() string { return "bacen" }

// Documents fetches every configured norm. Norms whose content is about
// another known domain are skipped.
func (s *Source) Documents(ctx context.Context, domain document.Domain) iter.Seq2[document.Source, error] {
	return func(yield func(document.Source, error) bool) {
		for _, n := range s.norms {
			if ctx.Err() != nil {
				return
			}
			rec, raw, err := s.Fetch(ctx, n)
			if err != nil {
				if !yield(document.Source{Name: n.String()}, err) {
					return
				}
				continue
			}

			inferred := metadata.InferDomain(rec.Title, rec.Subject, rec.Text)
			if inferred != document.DomainOther && inferred != domain {
				s.logger.Warn("norm belongs to another domain, skipped",
					"norm", n.String(), "inferred", inferred, "requested", domain)
				continue
			}

			src := document.Source{
				Name:       sourceName(rec.NormType, rec.NormNumber),
				Kind:       document.KindJSON,
				Body:       raw,
				DomainHint: domain,
				URL:        CanonicalURL(rec.NormType, rec.NormNumber),
				Record:     rec,
			}
			if !yield(src, nil) {
				return
			}
		}
	}
}

// Done is a no-op: the API has nothing to acknowledge.
func (s *Source) Done(context.Context, document.Domain, document.Source) error { return nil }

// normativo is one item of the API "conteudo" array.
type normativo struct {
	Tipo      string     `json:"Tipo"`
	Numero    flexString `json:"Numero"`
	Titulo    string     `json:"Titulo"`
	Assunto   string     `json:"Assunto"`
	Data      string     `json:"Data"`
	Texto     string     `json:"Texto"`
	Revogado  bool       `json:"Revogado"`
	Cancelado bool       `json:"Cancelado"`
}

type response struct {
	Conteudo []json.RawMessage `json:"conteudo"`
}

// flexString accepts both JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// Fetch downloads one norm and returns its record and the raw API item.
func (s *Source) Fetch(ctx context.Context, n Norm) (*document.Record, []byte, error) {
	q := url.Values{}
	q.Set("p1", n.Type)
	q.Set("p2", n.Number)
	endpoint := s.baseURL + "?" + q.Encode()

	s.logger.Info("fetching norm", "norm", n.String())
	body, err := retry.Call(ctx, s.policy, "fetch norm", func(ctx context.Context) ([]byte, error) {
		return s.get(ctx, endpoint)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", n, err)
	}

	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, nil, &normerrors.ParseError{Source: n.String(), Err: err}
	}
	if len(resp.Conteudo) == 0 {
		return nil, nil, fmt.Errorf("%s: %w", n, normerrors.ErrNotFound)
	}

	raw := resp.Conteudo[0]
	var item normativo
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, nil, &normerrors.ParseError{Source: n.String(), Err: err}
	}
	if strings.TrimSpace(item.Texto) == "" {
		return nil, nil, &normerrors.ParseError{Source: n.String(), Err: fmt.Errorf("empty Texto field")}
	}

	rec := &document.Record{
		NormType:   firstNonEmpty(item.Tipo, n.Type),
		NormNumber: firstNonEmpty(string(item.Numero), n.Number),
		Year:       metadata.YearFromDate(item.Data),
		Title:      item.Titulo,
		Subject:    item.Assunto,
		Text:       item.Texto,
		Revoked:    item.Revogado,
		Cancelled:  item.Cancelado,
	}
	return rec, raw, nil
}

func (s *Source) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", normerrors.ErrNonRetryable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("bacen: %w: %w", normerrors.ErrTimeout, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("bacen: read body: %w: %w", normerrors.ErrTimeout, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, provider.ClassifyStatus("bacen", resp.StatusCode,
			fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(body))))
	}
	return body, nil
}

func sourceName(typ, number string) string {
	slug := strings.ToLower(strings.Join(strings.Fields(typ), "-"))
	return fmt.Sprintf("bacen_%s_%s.json", slug, number)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
