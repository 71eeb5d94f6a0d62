package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	normerrors "github.com/sweetpotato0/normrag/errors"
	"github.com/sweetpotato0/normrag/vector"
)

type collection struct {
	dim    int
	points map[string]vector.Point
}

// Index implements vector.Index in process memory. It is meant for tests
// and single-process development setups.
type Index struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

var _ vector.Index = (*Index)(nil)

// NewIndex creates an empty in-memory index.
func NewIndex() *Index {
	return &Index{collections: make(map[string]*collection)}
}

func (s *Index) EnsureCollection(ctx context.Context, name string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("inmemory: dimension must be positive, got %d", dim)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		s.collections[name] = &collection{dim: dim, points: make(map[string]vector.Point)}
	}
	return nil
}

func (s *Index) DeleteCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	return nil
}

func (s *Index) Upsert(ctx context.Context, name string, points []vector.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("inmemory: collection %q: %w", name, normerrors.ErrNotFound)
	}
	for _, p := range points {
		if p.ID == "" {
			return fmt.Errorf("inmemory: point ID cannot be empty")
		}
		if len(p.Vector) != col.dim {
			return fmt.Errorf("inmemory: point %s has dimension %d, collection expects %d", p.ID, len(p.Vector), col.dim)
		}
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		p.Vector = vec
		col.points[p.ID] = p
	}
	return nil
}

func (s *Index) Query(ctx context.Context, name string, vec []float32, topK int, minScore float32) ([]vector.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("inmemory: collection %q: %w", name, normerrors.ErrNotFound)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("inmemory: query vector cannot be empty")
	}
	if topK <= 0 {
		topK = 10
	}

	hits := make([]vector.Hit, 0, len(col.points))
	for _, p := range col.points {
		score := vector.CosineSimilarity(vec, p.Vector)
		if score < minScore {
			continue
		}
		hits = append(hits, vector.Hit{ID: p.ID, Score: score, Payload: p.Payload})
	}

	// Sort by similarity (highest first), ties by ID for stable output
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *Index) CollectionInfo(ctx context.Context, name string) (vector.CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[name]
	if !ok {
		return vector.CollectionInfo{Name: name}, nil
	}
	return vector.CollectionInfo{
		Name:        name,
		Exists:      true,
		PointsCount: int64(len(col.points)),
		Dimension:   col.dim,
	}, nil
}
