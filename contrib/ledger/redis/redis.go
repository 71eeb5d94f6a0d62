package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sweetpotato0/normrag/rag/document"
	"github.com/sweetpotato0/normrag/rag/ingest"
)

// Ledger keeps the processed-document keys of each domain in a Redis set.
type Ledger struct {
	client *redis.Client
	prefix string // Key prefix for namespacing
	ttl    time.Duration
}

var _ ingest.Ledger = (*Ledger)(nil)

// Config holds Redis configuration
type Config struct {
	Addr     string        // Redis server address (e.g., "localhost:6379")
	Password string        // Redis password (if any)
	DB       int           // Redis database number
	Prefix   string        // Key prefix for namespacing
	TTL      time.Duration // Expiration of a domain set (0 means no expiration)
}

// New creates a Redis-backed ledger.
func New(config *Config) *Ledger {
	if config == nil {
		config = &Config{
			Addr:   "localhost:6379",
			Prefix: "normrag:processed:",
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	return NewWithClient(client, config.Prefix, config.TTL)
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string, ttl time.Duration) *Ledger {
	return &Ledger{client: client, prefix: prefix, ttl: ttl}
}

func (l *Ledger) setKey(domain document.Domain) string {
	return fmt.Sprintf("%s%s", l.prefix, domain)
}

// Seen reports whether key was marked for domain.
func (l *Ledger) Seen(ctx context.Context, domain document.Domain, key string) (bool, error) {
	ok, err := l.client.SIsMember(ctx, l.setKey(domain), key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check processed document: %w", err)
	}
	return ok, nil
}

// Mark records key as processed for domain.
func (l *Ledger) Mark(ctx context.Context, domain document.Domain, key string) error {
	setKey := l.setKey(domain)
	pipe := l.client.TxPipeline()
	pipe.SAdd(ctx, setKey, key)
	if l.ttl > 0 {
		pipe.Expire(ctx, setKey, l.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mark processed document: %w", err)
	}
	return nil
}

// Reset forgets every processed document of domain.
func (l *Ledger) Reset(ctx context.Context, domain document.Domain) error {
	if err := l.client.Del(ctx, l.setKey(domain)).Err(); err != nil {
		return fmt.Errorf("failed to reset processed documents: %w", err)
	}
	return nil
}

// Count returns the number of processed documents of domain.
func (l *Ledger) Count(ctx context.Context, domain document.Domain) (int64, error) {
	n, err := l.client.SCard(ctx, l.setKey(domain)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count processed documents: %w", err)
	}
	return n, nil
}

// Ping checks if Redis connection is alive
func (l *Ledger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (l *Ledger) Close() error {
	return l.client.Close()
}
