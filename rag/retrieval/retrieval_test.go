package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sweetpotato0/normrag/contrib/vector/inmemory"
	normerrors "github.com/sweetpotato0/normrag/errors"
	"github.com/sweetpotato0/normrag/pkg/logging"
	"github.com/sweetpotato0/normrag/rag/document"
	"github.com/sweetpotato0/normrag/rag/retry"
	"github.com/sweetpotato0/normrag/vector"
)

// keywordEmbedder places texts in a space with one axis per keyword so that
// similarity follows shared vocabulary.
type keywordEmbedder struct {
	keywords []string
}

func newKeywordEmbedder() *keywordEmbedder {
	return &keywordEmbedder{keywords: []string{"pix", "chave", "devolução", "consentimento", "dados", "prazo"}}
}

func (k *keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	vec := make([]float32, len(k.keywords)+1)
	for i, kw := range k.keywords {
		vec[i] = float32(strings.Count(lower, kw))
	}
	vec[len(k.keywords)] = 0.1
	return vec, nil
}

func (k *keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = k.Embed(ctx, t)
	}
	return out, nil
}

func (k *keywordEmbedder) Dimension() int { return len(k.keywords) + 1 }

func unit(article, text string) document.Unit {
	return document.Unit{
		Text: text,
		Metadata: document.Metadata{
			Source:     "pix_resolucao_1_2020.pdf",
			NormType:   "Resolução BCB",
			NormNumber: "1",
			Year:       2020,
			Article:    article,
			Domain:     document.DomainPix,
		},
	}
}

func testPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func newClient(index vector.Index) *Client {
	return New(index, newKeywordEmbedder(), WithRetryPolicy(testPolicy()), WithLogger(logging.Discard()))
}

func TestIndexThenSearchRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newClient(inmemory.NewIndex())
	if err := c.EnsureCollection(ctx, document.DomainPix); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}

	units := []document.Unit{
		unit("1", "Art. 1º O Pix é o arranjo de pagamentos instantâneos."),
		unit("5", "Art. 5º A chave Pix identifica a conta transacional."),
		unit("9", "Art. 9º O consentimento para compartilhamento de dados."),
	}
	n, err := c.IndexUnits(ctx, document.DomainPix, units)
	if err != nil || n != 3 {
		t.Fatalf("IndexUnits = %d, %v", n, err)
	}

	// querying with the exact text of a unit must return it with the best score
	evidence, err := c.Search(ctx, document.DomainPix, units[1].Text, 5, 0.5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if evidence.Empty() {
		t.Fatalf("expected evidence")
	}
	top := evidence[0]
	if top.Metadata.Article != "5" || top.Score < 0.999 {
		t.Fatalf("unexpected top hit %+v", top)
	}
	if top.ID == "" || top.Metadata.NormType != "Resolução BCB" || top.Metadata.Year != 2020 {
		t.Fatalf("payload not restored: %+v", top)
	}
	for i := 1; i < len(evidence); i++ {
		if evidence[i].Score > evidence[i-1].Score {
			t.Fatalf("evidence not ordered by score: %+v", evidence)
		}
		if evidence[i].Score < 0.5 {
			t.Fatalf("hit below threshold: %+v", evidence[i])
		}
	}
}

func TestSearchCapsTopK(t *testing.T) {
	ctx := context.Background()
	c := newClient(inmemory.NewIndex())
	_ = c.EnsureCollection(ctx, document.DomainPix)
	for i := 0; i < 4; i++ {
		if _, err := c.IndexUnits(ctx, document.DomainPix, []document.Unit{unit("1", "Art. 1º chave Pix")}); err != nil {
			t.Fatalf("IndexUnits: %v", err)
		}
	}
	evidence, err := c.Search(ctx, document.DomainPix, "chave pix", 2, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(evidence) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(evidence))
	}
}

func TestSearchEmptyOrMissingCollection(t *testing.T) {
	ctx := context.Background()
	c := newClient(inmemory.NewIndex())

	evidence, err := c.Search(ctx, document.DomainOpenFinance, "consentimento", 5, 0.7)
	if err != nil || !evidence.Empty() {
		t.Fatalf("missing collection: %v, %v", evidence, err)
	}

	_ = c.EnsureCollection(ctx, document.DomainOpenFinance)
	evidence, err = c.Search(ctx, document.DomainOpenFinance, "consentimento", 5, 0.7)
	if err != nil || !evidence.Empty() {
		t.Fatalf("empty collection: %v, %v", evidence, err)
	}
}

func TestIndexUnitsEmptyIsNoop(t *testing.T) {
	n, err := newClient(inmemory.NewIndex()).IndexUnits(context.Background(), document.DomainPix, nil)
	if n != 0 || err != nil {
		t.Fatalf("IndexUnits(nil) = %d, %v", n, err)
	}
}

type failingIndex struct {
	vector.Index
	calls int
}

func (f *failingIndex) Query(ctx context.Context, name string, vec []float32, topK int, minScore float32) ([]vector.Hit, error) {
	f.calls++
	return nil, normerrors.ErrRateLimited
}

func TestSearchFailureIsRetrievalError(t *testing.T) {
	idx := &failingIndex{Index: inmemory.NewIndex()}
	c := newClient(idx)

	_, err := c.Search(context.Background(), document.DomainPix, "pix", 5, 0.7)
	var rerr *normerrors.RetrievalError
	if !errors.As(err, &rerr) || !errors.Is(err, normerrors.ErrRetrieval) {
		t.Fatalf("expected RetrievalError, got %v", err)
	}
	if !errors.Is(err, normerrors.ErrRetriesExhausted) {
		t.Fatalf("expected retries to be exhausted, got %v", err)
	}
	if want := testPolicy().MaxRetries + 1; idx.calls != want {
		t.Fatalf("Query called %d times, want %d", idx.calls, want)
	}
}

func TestCollectionLifecycle(t *testing.T) {
	ctx := context.Background()
	c := newClient(inmemory.NewIndex())
	if got := c.Collection(document.DomainPix); got != "normrag_pix" {
		t.Fatalf("Collection() = %s", got)
	}
	_ = c.EnsureCollection(ctx, document.DomainPix)
	_, _ = c.IndexUnits(ctx, document.DomainPix, []document.Unit{unit("1", "Art. 1º Pix")})

	info, err := c.CollectionInfo(ctx, document.DomainPix)
	if err != nil || !info.Exists || info.PointsCount != 1 || info.Dimension != 7 {
		t.Fatalf("unexpected info %+v, %v", info, err)
	}
	if err := c.DeleteCollection(ctx, document.DomainPix); err != nil {
		t.Fatalf("DeleteCollection: %v", err)
	}
	info, _ = c.CollectionInfo(ctx, document.DomainPix)
	if info.Exists {
		t.Fatalf("collection should be gone")
	}
}
