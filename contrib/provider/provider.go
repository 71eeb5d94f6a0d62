package provider

import (
	"context"
	"fmt"
	"net/http"

	normerrors "github.com/sweetpotato0/normrag/errors"
)

// Request is a single-turn completion request.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Generator produces text completions from a language model.
type Generator interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// statusOverloaded is returned by Anthropic when the API is temporarily overloaded
const statusOverloaded = 529

// ClassifyStatus wraps err with the retry classification of an HTTP status:
// throttling and server failures become ErrRateLimited, request timeouts
// ErrTimeout. Other statuses are returned unchanged.
func ClassifyStatus(provider string, status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests || status == statusOverloaded || status >= 500:
		return fmt.Errorf("%s: status %d: %w: %w", provider, status, normerrors.ErrRateLimited, err)
	case status == http.StatusRequestTimeout:
		return fmt.Errorf("%s: status %d: %w: %w", provider, status, normerrors.ErrTimeout, err)
	default:
		return fmt.Errorf("%s: %w", provider, err)
	}
}
