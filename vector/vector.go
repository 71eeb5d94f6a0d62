package vector

import (
	"context"
	"math"

	"github.com/sweetpotato0/normrag/rag/document"
)

// Payload is the metadata stored next to every vector.
type Payload struct {
	Text       string `json:"text"`
	Source     string `json:"source"`
	NormType   string `json:"norm_type"`
	NormNumber string `json:"norm_number"`
	Article    string `json:"article"`
	Year       int    `json:"year"`
	Domain     string `json:"domain"`
	URL        string `json:"url"`
}

// Point is a vector with its identifier and payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Hit is a query result; Score is cosine similarity.
type Hit struct {
	ID      string
	Score   float32
	Payload Payload
}

// CollectionInfo describes one collection. Exists is false for a collection
// that was never created or has been deleted.
type CollectionInfo struct {
	Name        string
	Exists      bool
	PointsCount int64
	Dimension   int
}

// Index stores vectors in named collections and answers nearest-neighbour queries.
type Index interface {
	// EnsureCollection creates the collection if it does not exist yet
	EnsureCollection(ctx context.Context, name string, dim int) error

	// DeleteCollection drops the collection; deleting a missing one is not an error
	DeleteCollection(ctx context.Context, name string) error

	// Upsert inserts or replaces points by ID
	Upsert(ctx context.Context, name string, points []Point) error

	// Query returns up to topK hits with score >= minScore, best first.
	// A missing collection yields an error wrapping errors.ErrNotFound.
	Query(ctx context.Context, name string, vec []float32, topK int, minScore float32) ([]Hit, error)

	// CollectionInfo reports existence and size of the collection
	CollectionInfo(ctx context.Context, name string) (CollectionInfo, error)
}

// Embedder defines the interface for creating embeddings from text
type Embedder interface {
	// Embed converts text to a vector embedding
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts to embeddings
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension return number of embedding dimensions
	Dimension() int
}

// PayloadFromUnit flattens a unit into its stored payload.
func PayloadFromUnit(u document.Unit) Payload {
	return Payload{
		Text:       u.Text,
		Source:     u.Metadata.Source,
		NormType:   u.Metadata.NormType,
		NormNumber: u.Metadata.NormNumber,
		Article:    u.Metadata.Article,
		Year:       u.Metadata.Year,
		Domain:     string(u.Metadata.Domain),
		URL:        u.Metadata.OriginURL,
	}
}

// Unit rebuilds a scored unit from a hit.
func (h Hit) Unit() document.Unit {
	return document.Unit{
		ID:   h.ID,
		Text: h.Payload.Text,
		Metadata: document.Metadata{
			Source:     h.Payload.Source,
			NormType:   h.Payload.NormType,
			NormNumber: h.Payload.NormNumber,
			Year:       h.Payload.Year,
			Article:    h.Payload.Article,
			Domain:     document.Domain(h.Payload.Domain),
			OriginURL:  h.Payload.URL,
		},
		Score: h.Score,
	}
}

// CosineSimilarity calculates the cosine similarity between two vectors
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := 0; i < len(a); i++ {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return float32(dotProduct / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// Normalize scales the vector to unit length (L2 norm).
func Normalize(vec []float32) []float32 {
	if len(vec) == 0 {
		return vec
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

// ToFloat32 converts provider embeddings to the storage precision.
func ToFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
