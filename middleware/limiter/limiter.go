package limiter

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	normerrors "github.com/sweetpotato0/normrag/errors"
)

// DefaultRequestsPerMinute is the per-client budget of the HTTP API.
const DefaultRequestsPerMinute = 60

// Limiter is a fixed-window rate limiter keyed by client.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	windows   map[string]*counter
	lastSweep time.Time
}

type counter struct {
	start time.Time
	count int
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New allows limit requests per client in every window. A limit <= 0
// disables limiting.
func New(limit int, window time.Duration, opts ...Option) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	l := &Limiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string]*counter),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// PerMinute is New(limit, time.Minute).
func PerMinute(limit int, opts ...Option) *Limiter {
	return New(limit, time.Minute, opts...)
}

// Allow counts a request of key. When the budget is spent it reports false
// and how long until the window resets.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	if l.limit <= 0 {
		return true, 0
	}

	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)
	c, ok := l.windows[key]
	if !ok || now.Sub(c.start) >= l.window {
		c = &counter{start: now}
		l.windows[key] = c
	}
	if c.count >= l.limit {
		return false, c.start.Add(l.window).Sub(now)
	}
	c.count++
	return true, 0
}

// sweep drops expired windows at most once per window.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	for key, c := range l.windows {
		if now.Sub(c.start) >= l.window {
			delete(l.windows, key)
		}
	}
	l.lastSweep = now
}

// Reset forgets every client.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[string]*counter)
}

// Middleware rejects requests over budget with ErrRateLimited and a
// Retry-After header. key selects the client of a request.
func (l *Limiter) Middleware(key func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := l.Allow(key(c))
		if ok {
			c.Next()
			return
		}
		seconds := int(math.Ceil(wait.Seconds()))
		c.Header("Retry-After", strconv.Itoa(seconds))
		_ = c.Error(fmt.Errorf("%w: %d requests per %s exceeded, retry in %ds",
			normerrors.ErrRateLimited, l.limit, l.window, seconds))
		c.Abort()
	}
}
