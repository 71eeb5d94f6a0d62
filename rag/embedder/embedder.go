package embedder

import (
	"context"
	"fmt"

	"github.com/sweetpotato0/normrag/rag/document"
	"github.com/sweetpotato0/normrag/rag/retry"
	"github.com/sweetpotato0/normrag/vector"
)

// Embedder exposes methods tailored for RAG components.
type Embedder interface {
	EmbedUnit(ctx context.Context, unit document.Unit) ([]float32, error)
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	Dimension() int
}

// VectorAdapter bridges the generic vector.Embedder interface into a rag
// Embedder, running every provider call under a retry policy.
type VectorAdapter struct {
	base   vector.Embedder
	policy retry.Policy
}

var _ Embedder = (*VectorAdapter)(nil)

// NewVectorAdapter creates a new adapter.
func NewVectorAdapter(base vector.Embedder, policy retry.Policy) *VectorAdapter {
	return &VectorAdapter{base: base, policy: policy}
}

// EmbedUnit embeds the unit text.
func (v *VectorAdapter) EmbedUnit(ctx context.Context, unit document.Unit) ([]float32, error) {
	return v.embed(ctx, "embed unit", unit.Text)
}

// EmbedQuery embeds the query string.
func (v *VectorAdapter) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return v.embed(ctx, "embed query", query)
}

func (v *VectorAdapter) Dimension() int {
	return v.base.Dimension()
}

func (v *VectorAdapter) embed(ctx context.Context, op, text string) ([]float32, error) {
	vec, err := retry.Call(ctx, v.policy, op, func(ctx context.Context) ([]float32, error) {
		return v.base.Embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%s: empty embedding", op)
	}
	return vec, nil
}
