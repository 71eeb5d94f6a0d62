package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
	"github.com/ollama/ollama/envconfig"

	"github.com/sweetpotato0/normrag/contrib/provider"
	"github.com/sweetpotato0/normrag/vector"
)

// Embedder generates embeddings using the Ollama API
type Embedder struct {
	client    *api.Client
	model     string
	dimension int
}

var _ vector.Embedder = (*Embedder)(nil)

// New creates an embedder for model. An empty host falls back to OLLAMA_HOST.
func New(host, model string, dimension int, httpClient *http.Client) (*Embedder, error) {
	hostURL := envconfig.Host()
	if host != "" {
		u, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
		}
		hostURL = u
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Embedder{client: api.NewClient(hostURL, httpClient), model: model, dimension: dimension}, nil
}

func (e *Embedder) Dimension() int {
	return e.dimension
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings(ctx, &api.EmbeddingRequest{Model: e.model, Prompt: text})
	if err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			return nil, provider.ClassifyStatus("ollama", statusErr.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if e.dimension > 0 && len(resp.Embedding) != e.dimension {
		return nil, fmt.Errorf("ollama: expected %d dimensions, got %d", e.dimension, len(resp.Embedding))
	}
	return vector.ToFloat32(resp.Embedding), nil
}

// EmbedBatch embeds texts one request at a time; the embeddings endpoint
// takes a single prompt.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		out = append(out, vec)
	}
	return out, nil
}
