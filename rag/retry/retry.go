package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	normerrors "github.com/sweetpotato0/normrag/errors"
	"github.com/sweetpotato0/normrag/pkg/logging"
)

// Policy retries transient provider failures with capped exponential backoff.
// MaxRetries counts retries after the first attempt.
type Policy struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	CallTimeout time.Duration

	// Retryable classifies errors; nil uses IsRetryable.
	Retryable func(error) bool
	// Sleep waits between attempts; nil uses a timer that honours ctx.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// DefaultPolicy retries five times starting at one second, capped at thirty.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 5,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// IsRetryable reports whether err is a rate limit or a timeout.
func IsRetryable(err error) bool {
	return errors.Is(err, normerrors.ErrRateLimited) || errors.Is(err, normerrors.ErrTimeout)
}

// Delay returns the wait before retry n (0-based): BaseDelay·2^n, capped at MaxDelay.
func (p Policy) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > 30 {
		n = 30
	}
	d := p.BaseDelay * time.Duration(1<<n)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, fails with a non-retryable error, exhausts the
// retries or ctx ends. op names the call in logs and errors.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call is Do for functions that return a value.
func Call[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := p.Logger
	if logger == nil {
		logger = logging.WithComponent("retry")
	}

	var lastErr error
	for n := 0; n <= p.MaxRetries; n++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s: %w", op, err)
		}

		v, err := attempt(ctx, p.CallTimeout, fn)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !retryable(err) {
			return zero, fmt.Errorf("%s: %w: %w", op, normerrors.ErrNonRetryable, err)
		}
		if n == p.MaxRetries {
			break
		}

		wait := p.Delay(n)
		logger.Warn("retrying after transient failure",
			"op", op,
			"attempt", n+1,
			"max_retries", p.MaxRetries,
			"wait", wait,
			"error", err,
		)
		if err := sleep(ctx, wait); err != nil {
			return zero, fmt.Errorf("%s: %w (last error: %v)", op, err, lastErr)
		}
	}
	return zero, fmt.Errorf("%s: %w after %d attempts: %w", op, normerrors.ErrRetriesExhausted, p.MaxRetries+1, lastErr)
}

// attempt runs fn once, bounded by CallTimeout when set. A deadline hit by the
// per-call timeout, not by the caller, is reported as ErrTimeout.
func attempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	v, err := fn(callCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("%w: %w", normerrors.ErrTimeout, err)
	}
	return v, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
