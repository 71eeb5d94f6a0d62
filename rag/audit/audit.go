package audit

import (
	"context"
	"sync"
	"time"

	"github.com/sweetpotato0/normrag/rag/document"
)

// Record is one answered question as kept in the audit log.
type Record struct {
	Question      string                   `json:"question" bson:"question"`
	Domain        document.Domain          `json:"domain" bson:"domain"`
	Grounded      bool                     `json:"grounded" bson:"grounded"`
	Valid         bool                     `json:"valid" bson:"valid"`
	State         document.ValidationState `json:"state" bson:"state"`
	Citations     []string                 `json:"citations" bson:"citations"`
	EvidenceCount int                      `json:"evidence_count" bson:"evidence_count"`
	MaxScore      float32                  `json:"max_score" bson:"max_score"`
	Timestamp     time.Time                `json:"timestamp" bson:"timestamp"`
	Latency       time.Duration            `json:"latency" bson:"latency_ns"`
}

// FromAnswer builds the audit record of ans.
func FromAnswer(question string, domain document.Domain, ans document.Answer, at time.Time, latency time.Duration) Record {
	return Record{
		Question:      question,
		Domain:        domain,
		Grounded:      ans.Grounded,
		Valid:         ans.Validation.Valid,
		State:         ans.Validation.State,
		Citations:     ans.Citations,
		EvidenceCount: len(ans.Evidence),
		MaxScore:      ans.Evidence.MaxScore(),
		Timestamp:     at,
		Latency:       latency,
	}
}

// Sink stores audit records. Implementations must be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, rec Record) error
}

// Nop discards every record.
type Nop struct{}

func (Nop) Record(context.Context, Record) error { return nil }

// Memory keeps records in process, newest last.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Record(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of the stored records.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}
