package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	normerrors "github.com/sweetpotato0/normrag/errors"
	"github.com/sweetpotato0/normrag/middleware/limiter"
	"github.com/sweetpotato0/normrag/pkg/logging"
	"github.com/sweetpotato0/normrag/rag/document"
	"github.com/sweetpotato0/normrag/rag/ingest"
	"github.com/sweetpotato0/normrag/rag/pipeline"
)

type fakeAsker struct {
	queries []pipeline.Query
	resp    *pipeline.Response
	err     error
	health  pipeline.HealthReport
}

func (f *fakeAsker) Ask(_ context.Context, q pipeline.Query) (*pipeline.Response, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeAsker) Health(context.Context) pipeline.HealthReport { return f.health }

func (f *fakeAsker) Domains() []document.Domain {
	return []document.Domain{document.DomainPix, document.DomainOpenFinance}
}

func (f *fakeAsker) HasDomain(d document.Domain) bool {
	return slices.Contains(f.Domains(), d)
}

func init() {
	gin.SetMode(gin.TestMode)
}

func groundedResponse() *pipeline.Response {
	return &pipeline.Response{
		Answer:    "O Pix é instituído pelo art. 1º. [Resolução BCB 1/2020, Art. 1]",
		Citations: []string{"Resolução BCB 1/2020, Art. 1"},
		Grounded:  true,
		Evidence:  document.EvidenceSet{},
		Validation: document.Validation{
			State: document.StateValid,
			Valid: true,
		},
	}
}

func postJSON(h http.Handler, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(w, req)
	return w
}

func TestChat(t *testing.T) {
	asker := &fakeAsker{resp: groundedResponse()}
	s := New(asker, WithLogger(logging.Discard()))

	w := postJSON(s.Handler(), "/chat", `{"question":"O que é o Pix?","domain":"PIX","top_k":3,"min_score":0}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}

	var got pipeline.Response
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Grounded || len(got.Citations) != 1 {
		t.Fatalf("unexpected response %+v", got)
	}

	q := asker.queries[0]
	if q.Domain != document.DomainPix || q.TopK != 3 || q.MinScore == nil || *q.MinScore != 0 {
		t.Fatalf("query not forwarded: %+v", q)
	}
}

func TestChatRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
	}{
		{"malformed json", `{"question":`, nil},
		{"missing question", `{"domain":"pix"}`, nil},
		{"missing domain", `{"question":"O que é o Pix?"}`, nil},
		{"rejected by pipeline", `{"question":"O que é?","domain":"cambio"}`, fmt.Errorf("%w: unknown domain", normerrors.ErrInvalidInput)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(&fakeAsker{err: tt.err}, WithLogger(logging.Discard()))
			w := postJSON(s.Handler(), "/chat", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status %d, want 400: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestChatUnexpectedFailure(t *testing.T) {
	s := New(&fakeAsker{err: errors.New("boom")}, WithLogger(logging.Discard()))
	w := postJSON(s.Handler(), "/chat", `{"question":"O que é o Pix?","domain":"pix"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		status string
		want   int
	}{
		{pipeline.StatusHealthy, http.StatusOK},
		{pipeline.StatusDegraded, http.StatusOK},
		{pipeline.StatusUnhealthy, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			s := New(&fakeAsker{health: pipeline.HealthReport{Status: tt.status}}, WithLogger(logging.Discard()))
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			if w.Code != tt.want {
				t.Fatalf("status %d, want %d", w.Code, tt.want)
			}
			var report pipeline.HealthReport
			if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil || report.Status != tt.status {
				t.Fatalf("unexpected body %s (%v)", w.Body.String(), err)
			}
		})
	}
}

func TestReindex(t *testing.T) {
	type call struct {
		domain document.Domain
		force  bool
	}
	var calls []call
	reindex := func(ctx context.Context, domain document.Domain, force bool) (ingest.Report, error) {
		calls = append(calls, call{domain, force})
		return ingest.Report{Domain: domain, Documents: 2, Units: 7}, nil
	}
	s := New(&fakeAsker{}, WithReindex(reindex), WithLogger(logging.Discard()))

	w := postJSON(s.Handler(), "/reindex?domain=open-finance&force=true", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if len(calls) != 1 || calls[0].domain != document.DomainOpenFinance || !calls[0].force {
		t.Fatalf("unexpected calls %+v", calls)
	}
	var report ingest.Report
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil || report.Units != 7 {
		t.Fatalf("unexpected body %s", w.Body.String())
	}

	for _, path := range []string{"/reindex?domain=cambio", "/reindex?domain=pix&force=talvez"} {
		if w := postJSON(s.Handler(), path, ""); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status %d, want 400", path, w.Code)
		}
	}
	if len(calls) != 1 {
		t.Fatalf("invalid requests must not reindex")
	}

	if w := postJSON(s.Handler(), "/reindex", ""); w.Code != http.StatusOK {
		t.Fatalf("default domain: status %d", w.Code)
	}
	if last := calls[len(calls)-1]; last.domain != document.DomainPix || last.force {
		t.Fatalf("expected a pix reindex without force, got %+v", last)
	}
}

func TestReindexDisabled(t *testing.T) {
	s := New(&fakeAsker{}, WithLogger(logging.Discard()))
	if w := postJSON(s.Handler(), "/reindex?domain=pix", ""); w.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	s := New(&fakeAsker{resp: groundedResponse(), health: pipeline.HealthReport{Status: pipeline.StatusHealthy}},
		WithLimiter(limiter.New(2, time.Minute)),
		WithLogger(logging.Discard()),
	)
	body := `{"question":"O que é o Pix?","domain":"pix"}`
	for i := 0; i < 2; i++ {
		if w := postJSON(s.Handler(), "/chat", body); w.Code != http.StatusOK {
			t.Fatalf("request %d status %d", i+1, w.Code)
		}
	}
	if w := postJSON(s.Handler(), "/chat", body); w.Code != http.StatusTooManyRequests {
		t.Fatalf("status %d, want 429", w.Code)
	}

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health must not be rate limited, status %d", w.Code)
	}
}

func TestDomainOf(t *testing.T) {
	tests := map[string]document.Domain{
		"pix":           document.DomainPix,
		" Open-Finance": document.DomainOpenFinance,
		"other":         document.DomainOther,
		"cambio":        document.Domain("cambio"),
	}
	for in, want := range tests {
		if got := domainOf(in); got != want {
			t.Errorf("domainOf(%q) = %q, want %q", in, got, want)
		}
	}
}
