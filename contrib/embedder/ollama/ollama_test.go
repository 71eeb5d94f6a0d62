package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	normerrors "github.com/sweetpotato0/normrag/errors"
)

func newServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			http.NotFound(w, r)
			return
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"busy"}`))
			return
		}
		var req struct {
			Prompt string `json:"prompt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{float64(len(req.Prompt)), 1, 0}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbedBatch(t *testing.T) {
	srv := newServer(t, http.StatusOK)
	e, err := New(srv.URL, "nomic-embed-text", 3, srv.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vecs, err := e.EmbedBatch(context.Background(), []string{"pix", "open finance"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 3 || vecs[1][0] != 12 {
		t.Fatalf("unexpected vectors %v", vecs)
	}
	if e.Dimension() != 3 {
		t.Fatalf("Dimension() = %d", e.Dimension())
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	srv := newServer(t, http.StatusOK)
	e, _ := New(srv.URL, "nomic-embed-text", 768, srv.Client())
	if _, err := e.Embed(context.Background(), "pix"); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
}

func TestEmbedThrottled(t *testing.T) {
	srv := newServer(t, http.StatusTooManyRequests)
	e, _ := New(srv.URL, "nomic-embed-text", 3, srv.Client())
	if _, err := e.Embed(context.Background(), "pix"); !normerrors.Is(err, normerrors.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}
