package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	normerrors "github.com/sweetpotato0/normrag/errors"
	"github.com/sweetpotato0/normrag/vector"
)

// Index is a minimal REST client to Qdrant. Collections use cosine distance.
type Index struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ vector.Index = (*Index)(nil)

type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	Client  *http.Client
}

func New(cfg Config) *Index {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Index{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		client:  client,
	}
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload vector.Payload `json:"payload"`
}

type searchRequest struct {
	Vector         []float32 `json:"vector"`
	Limit          int       `json:"limit"`
	WithPayload    bool      `json:"with_payload"`
	ScoreThreshold float32   `json:"score_threshold"`
}

type searchResponse struct {
	Result []struct {
		ID      any            `json:"id"`
		Score   float32        `json:"score"`
		Payload vector.Payload `json:"payload"`
	} `json:"result"`
}

type collectionResponse struct {
	Result struct {
		PointsCount int64 `json:"points_count"`
		Config      struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

func (s *Index) EnsureCollection(ctx context.Context, name string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("qdrant: invalid dimension %d", dim)
	}
	info, err := s.CollectionInfo(ctx, name)
	if err != nil {
		return err
	}
	if info.Exists {
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	return s.do(ctx, http.MethodPut, s.collectionURL(name), body, nil)
}

func (s *Index) DeleteCollection(ctx context.Context, name string) error {
	err := s.do(ctx, http.MethodDelete, s.collectionURL(name), nil, nil)
	if normerrors.Is(err, normerrors.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Index) Upsert(ctx context.Context, name string, points []vector.Point) error {
	if len(points) == 0 {
		return nil
	}
	body := struct {
		Points []point `json:"points"`
	}{Points: make([]point, len(points))}
	for i, p := range points {
		body.Points[i] = point{ID: p.ID, Vector: p.Vector, Payload: p.Payload}
	}
	return s.do(ctx, http.MethodPut, s.collectionURL(name)+"/points?wait=true", body, nil)
}

func (s *Index) Query(ctx context.Context, name string, vec []float32, topK int, minScore float32) ([]vector.Hit, error) {
	if topK <= 0 {
		topK = 5
	}
	req := searchRequest{Vector: vec, Limit: topK, WithPayload: true, ScoreThreshold: minScore}
	var resp searchResponse
	if err := s.do(ctx, http.MethodPost, s.collectionURL(name)+"/points/search", req, &resp); err != nil {
		return nil, err
	}
	hits := make([]vector.Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, vector.Hit{ID: fmt.Sprint(r.ID), Score: r.Score, Payload: r.Payload})
	}
	return hits, nil
}

func (s *Index) CollectionInfo(ctx context.Context, name string) (vector.CollectionInfo, error) {
	info := vector.CollectionInfo{Name: name}
	var resp collectionResponse
	err := s.do(ctx, http.MethodGet, s.collectionURL(name), nil, &resp)
	if normerrors.Is(err, normerrors.ErrNotFound) {
		return info, nil
	}
	if err != nil {
		return info, err
	}
	info.Exists = true
	info.PointsCount = resp.Result.PointsCount
	info.Dimension = resp.Result.Config.Params.Vectors.Size
	return info, nil
}

func (s *Index) collectionURL(name string) string {
	return fmt.Sprintf("%s/collections/%s", s.baseURL, url.PathEscape(name))
}

func (s *Index) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("qdrant: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("qdrant: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("qdrant %s %s: %w: %w", method, endpoint, normerrors.ErrTimeout, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("qdrant %s %s: %w", method, endpoint, normerrors.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("qdrant %s %s failed: %s: %w", method, endpoint, resp.Status, normerrors.ErrRateLimited)
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("qdrant %s %s failed: %s: %s", method, endpoint, resp.Status, bytes.TrimSpace(msg))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("qdrant: decode response: %w", err)
		}
	}
	return nil
}
