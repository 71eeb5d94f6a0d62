package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/sweetpotato0/normrag/rag/document"
)

// Ledger remembers which documents of a domain were already indexed.
type Ledger interface {
	Seen(ctx context.Context, domain document.Domain, key string) (bool, error)
	Mark(ctx context.Context, domain document.Domain, key string) error
	// Reset forgets every document of domain.
	Reset(ctx context.Context, domain document.Domain) error
}

// Key identifies a source by name and content, so an edited file is indexed again.
func Key(src document.Source) string {
	sum := sha256.Sum256(src.Body)
	return src.Name + "@" + hex.EncodeToString(sum[:8])
}

// MemoryLedger is a process-local Ledger.
type MemoryLedger struct {
	mu   sync.RWMutex
	seen map[document.Domain]map[string]struct{}
}

var _ Ledger = (*MemoryLedger)(nil)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[document.Domain]map[string]struct{})}
}

func (l *MemoryLedger) Seen(_ context.Context, domain document.Domain, key string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.seen[domain][key]
	return ok, nil
}

func (l *MemoryLedger) Mark(_ context.Context, domain document.Domain, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys, ok := l.seen[domain]
	if !ok {
		keys = make(map[string]struct{})
		l.seen[domain] = keys
	}
	keys[key] = struct{}{}
	return nil
}

func (l *MemoryLedger) Reset(_ context.Context, domain document.Domain) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seen, domain)
	return nil
}
