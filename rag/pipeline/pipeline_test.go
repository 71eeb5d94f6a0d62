package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sweetpotato0/normrag/contrib/provider"
	"github.com/sweetpotato0/normrag/contrib/vector/inmemory"
	normerrors "github.com/sweetpotato0/normrag/errors"
	"github.com/sweetpotato0/normrag/pkg/logging"
	"github.com/sweetpotato0/normrag/rag/audit"
	"github.com/sweetpotato0/normrag/rag/composer"
	"github.com/sweetpotato0/normrag/rag/document"
	"github.com/sweetpotato0/normrag/rag/retrieval"
	"github.com/sweetpotato0/normrag/rag/retry"
	"github.com/sweetpotato0/normrag/rag/validator"
	"github.com/sweetpotato0/normrag/vector"
)

type stubRetriever struct {
	evidence document.EvidenceSet
	err      error
	info     map[document.Domain]vector.CollectionInfo
	infoErr  error
	calls    int
	lastTopK int
	lastMin  float32
}

func (s *stubRetriever) Search(ctx context.Context, domain document.Domain, query string, topK int, minScore float32) (document.EvidenceSet, error) {
	s.calls++
	s.lastTopK, s.lastMin = topK, minScore
	return s.evidence, s.err
}

func (s *stubRetriever) CollectionInfo(ctx context.Context, domain document.Domain) (vector.CollectionInfo, error) {
	if s.infoErr != nil {
		return vector.CollectionInfo{}, s.infoErr
	}
	return s.info[domain], nil
}

type stubComposer struct {
	answer string
	err    error
	calls  int
}

func (s *stubComposer) Compose(ctx context.Context, question string, evidence document.EvidenceSet) (string, error) {
	s.calls++
	return s.answer, s.err
}

func pixUnit(article string, score float32) document.Unit {
	return document.Unit{
		ID:   "u-" + article,
		Text: "Art. " + article + "º O participante do Pix deve observar os prazos.",
		Metadata: document.Metadata{
			Source:     "pix_resolucao_1_2020.pdf",
			NormType:   "Resolução BCB",
			NormNumber: "1",
			Year:       2020,
			Article:    article,
			Domain:     document.DomainPix,
		},
		Score: score,
	}
}

func newTestService(t *testing.T, r Retriever, c Composer, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	svc, err := New(r, c, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func TestAskNoEvidenceSkipsGeneration(t *testing.T) {
	ret := &stubRetriever{evidence: document.EvidenceSet{}}
	comp := &stubComposer{answer: "não deveria ser chamado"}
	svc := newTestService(t, ret, comp)

	resp, err := svc.Ask(context.Background(), Query{Question: "Qual o horário do Pix?", Domain: document.DomainPix})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if comp.calls != 0 {
		t.Fatalf("generation must not run without evidence, got %d calls", comp.calls)
	}
	if resp.Answer != validator.Disclaimer || resp.Grounded || len(resp.Citations) != 0 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Citations == nil || resp.Evidence == nil {
		t.Fatalf("citations and evidence must be empty, not nil")
	}
	if resp.Validation.State != document.StateNoEvidence {
		t.Fatalf("state = %s", resp.Validation.State)
	}
}

func TestAskValidAnswer(t *testing.T) {
	ret := &stubRetriever{evidence: document.EvidenceSet{pixUnit("5", 0.91)}}
	comp := &stubComposer{answer: "Conforme o Art. 5 da Resolução BCB nº 1, de 2020, o participante deve observar os prazos."}
	sink := audit.NewMemory()
	svc := newTestService(t, ret, comp, WithAuditSink(sink))

	resp, err := svc.Ask(context.Background(), Query{Question: "Quais prazos?", Domain: document.DomainPix})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !resp.Grounded || !resp.Validation.Valid || resp.Validation.State != document.StateValid {
		t.Fatalf("expected a valid grounded answer, got %+v", resp)
	}
	want := map[string]bool{"Art. 5": false, "Resolução BCB 1/2020, Art. 5": false}
	for _, c := range resp.Citations {
		if _, ok := want[c]; ok {
			want[c] = true
		}
	}
	for c, seen := range want {
		if !seen {
			t.Errorf("missing citation %q in %v", c, resp.Citations)
		}
	}

	recs := sink.Records()
	if len(recs) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(recs))
	}
	if recs[0].Question != "Quais prazos?" || recs[0].EvidenceCount != 1 || !recs[0].Valid {
		t.Fatalf("unexpected audit record %+v", recs[0])
	}
}

func TestAskInvalidAnswerBackfillsCitations(t *testing.T) {
	ret := &stubRetriever{evidence: document.EvidenceSet{pixUnit("7", 0.8), pixUnit("3", 0.75)}}
	comp := &stubComposer{answer: "O participante deve observar os prazos."}
	svc := newTestService(t, ret, comp)

	resp, err := svc.Ask(context.Background(), Query{Question: "Quais prazos?", Domain: document.DomainPix})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if resp.Validation.Valid || resp.Validation.State != document.StateInvalid {
		t.Fatalf("expected invalid answer, got %+v", resp.Validation)
	}
	if !resp.Grounded {
		t.Fatalf("evidence exists, answer must be grounded")
	}
	if resp.Answer != comp.answer {
		t.Fatalf("raw answer must be kept, got %q", resp.Answer)
	}
	want := []string{"Resolução BCB 1/2020, Art. 3", "Resolução BCB 1/2020, Art. 7"}
	if strings.Join(resp.Citations, "|") != strings.Join(want, "|") {
		t.Fatalf("citations = %v, want %v", resp.Citations, want)
	}
}

func TestAskDegradesOnFailures(t *testing.T) {
	t.Run("retrieval", func(t *testing.T) {
		ret := &stubRetriever{err: &normerrors.RetrievalError{Op: "search", Domain: "pix", Err: normerrors.ErrRetriesExhausted}}
		comp := &stubComposer{}
		resp, err := newTestService(t, ret, comp).Ask(context.Background(), Query{Question: "Pix?", Domain: document.DomainPix})
		if err != nil {
			t.Fatalf("retrieval failure must not surface, got %v", err)
		}
		if resp.Answer != validator.Disclaimer || resp.Validation.State != document.StateNoEvidence || comp.calls != 0 {
			t.Fatalf("unexpected response %+v", resp)
		}
	})

	t.Run("generation", func(t *testing.T) {
		ret := &stubRetriever{evidence: document.EvidenceSet{pixUnit("5", 0.9)}}
		comp := &stubComposer{err: &normerrors.GenerationError{Provider: "openai", Err: normerrors.ErrRetriesExhausted}}
		resp, err := newTestService(t, ret, comp).Ask(context.Background(), Query{Question: "Pix?", Domain: document.DomainPix})
		if err != nil {
			t.Fatalf("generation failure must not surface, got %v", err)
		}
		if resp.Answer != validator.Disclaimer || resp.Grounded {
			t.Fatalf("unexpected response %+v", resp)
		}
		if resp.Validation.State != document.StateUnvalidated || len(resp.Evidence) != 1 {
			t.Fatalf("expected unvalidated answer keeping evidence, got %+v", resp)
		}
	})
}

func TestAskRejectsInvalidInput(t *testing.T) {
	neg, high := -0.1, 1.5
	tests := []struct {
		name  string
		query Query
	}{
		{"empty question", Query{Question: "   ", Domain: document.DomainPix}},
		{"long question", Query{Question: strings.Repeat("a", MaxQuestionChars+1), Domain: document.DomainPix}},
		{"unknown domain", Query{Question: "Pix?", Domain: document.DomainOther}},
		{"top_k too large", Query{Question: "Pix?", Domain: document.DomainPix, TopK: 11}},
		{"negative top_k", Query{Question: "Pix?", Domain: document.DomainPix, TopK: -1}},
		{"negative min_score", Query{Question: "Pix?", Domain: document.DomainPix, MinScore: &neg}},
		{"min_score above one", Query{Question: "Pix?", Domain: document.DomainPix, MinScore: &high}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ret := &stubRetriever{}
			_, err := newTestService(t, ret, &stubComposer{}).Ask(context.Background(), tt.query)
			if !errors.Is(err, normerrors.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if ret.calls != 0 {
				t.Fatalf("retrieval must not run for invalid input")
			}
		})
	}
}

func TestAskAppliesDefaults(t *testing.T) {
	ret := &stubRetriever{}
	svc := newTestService(t, ret, &stubComposer{}, WithTopK(3), WithMinScore(0.5))

	if _, err := svc.Ask(context.Background(), Query{Question: "Pix?", Domain: document.DomainPix}); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ret.lastTopK != 3 || ret.lastMin != 0.5 {
		t.Fatalf("defaults not applied: top_k=%d min=%v", ret.lastTopK, ret.lastMin)
	}

	zero := 0.0
	if _, err := svc.Ask(context.Background(), Query{Question: "Pix?", Domain: document.DomainPix, TopK: 10, MinScore: &zero}); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ret.lastTopK != 10 || ret.lastMin != 0 {
		t.Fatalf("explicit values not applied: top_k=%d min=%v", ret.lastTopK, ret.lastMin)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		ret    *stubRetriever
		want   string
		online bool
	}{
		{
			name: "healthy",
			ret: &stubRetriever{info: map[document.Domain]vector.CollectionInfo{
				document.DomainPix: {Exists: true, PointsCount: 12},
			}},
			want:   StatusHealthy,
			online: true,
		},
		{
			name:   "degraded when empty",
			ret:    &stubRetriever{info: map[document.Domain]vector.CollectionInfo{}},
			want:   StatusDegraded,
			online: true,
		},
		{
			name:   "unhealthy when unreachable",
			ret:    &stubRetriever{infoErr: errors.New("connection refused")},
			want:   StatusUnhealthy,
			online: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := newTestService(t, tt.ret, &stubComposer{}).Health(context.Background())
			if report.Status != tt.want || report.IndexOnline != tt.online {
				t.Fatalf("Health() = %+v", report)
			}
			if len(report.Domains) != 2 {
				t.Fatalf("expected both domains reported, got %v", report.Domains)
			}
		})
	}
}

// keywordEmbedder gives each keyword its own axis so similarity follows
// shared vocabulary.
type keywordEmbedder struct{}

var keywords = []string{"pix", "chave", "devolução", "consentimento", "dados", "prazo"}

func (keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	vec := make([]float32, len(keywords)+1)
	for i, kw := range keywords {
		vec[i] = float32(strings.Count(lower, kw))
	}
	vec[len(keywords)] = 0.1
	return vec, nil
}

func (k keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = k.Embed(ctx, t)
	}
	return out, nil
}

func (keywordEmbedder) Dimension() int { return len(keywords) + 1 }

func TestAskEndToEnd(t *testing.T) {
	ctx := context.Background()
	policy := retry.DefaultPolicy()
	policy.Sleep = func(context.Context, time.Duration) error { return nil }

	client := retrieval.New(inmemory.NewIndex(), keywordEmbedder{},
		retrieval.WithRetryPolicy(policy), retrieval.WithLogger(logging.Discard()))
	if err := client.EnsureCollection(ctx, document.DomainPix); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	units := []document.Unit{pixUnit("1", 0), pixUnit("2", 0)}
	units[0].Text = "Art. 1º A devolução do Pix ocorre no prazo de noventa dias."
	units[1].Text = "Art. 2º O consentimento para compartilhamento de dados deve ser expresso."
	if _, err := client.IndexUnits(ctx, document.DomainPix, units); err != nil {
		t.Fatalf("IndexUnits: %v", err)
	}

	var prompt string
	gen := provider.GeneratorFunc(func(ctx context.Context, req provider.Request) (string, error) {
		prompt = req.User
		return "Segundo o Art. 1 da Resolução BCB nº 1, a devolução ocorre em até noventa dias.", nil
	})
	comp := composer.New(gen, composer.WithRetryPolicy(policy), composer.WithLogger(logging.Discard()))
	svc := newTestService(t, client, comp)

	resp, err := svc.Ask(ctx, Query{Question: "Qual o prazo de devolução do Pix?", Domain: document.DomainPix, TopK: 1})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !resp.Validation.Valid || len(resp.Evidence) != 1 || resp.Evidence[0].Metadata.Article != "1" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !strings.Contains(prompt, "Referência Normativa: Resolução BCB 1/2020, Art. 1") {
		t.Fatalf("prompt misses the evidence header:\n%s", prompt)
	}
}
