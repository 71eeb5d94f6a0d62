package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/sweetpotato0/normrag/rag/audit"
	"github.com/sweetpotato0/normrag/rag/document"
)

// TestSink requires a running MongoDB server; set NORMRAG_TEST_MONGODB_URI to run it.
func TestSink(t *testing.T) {
	uri := os.Getenv("NORMRAG_TEST_MONGODB_URI")
	if uri == "" {
		t.Skip("NORMRAG_TEST_MONGODB_URI not set, skipping MongoDB audit tests")
	}

	ctx := context.Background()
	sink, err := New(ctx, &Config{URI: uri, Database: "normrag_test", Collection: "queries_test"})
	if err != nil {
		t.Skipf("Failed to connect to MongoDB: %v", err)
	}
	defer sink.Close(ctx)

	if err := sink.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	records := []audit.Record{
		{Question: "Qual o prazo de devolução?", Domain: document.DomainPix, Grounded: true, Timestamp: base},
		{Question: "O que é consentimento?", Domain: document.DomainOpenFinance, Timestamp: base.Add(time.Minute)},
		{Question: "Limite noturno?", Domain: document.DomainPix, Timestamp: base.Add(2 * time.Minute)},
	}
	for _, rec := range records {
		if err := sink.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	t.Run("recent by domain", func(t *testing.T) {
		got, err := sink.Recent(ctx, document.DomainPix, 10)
		if err != nil {
			t.Fatalf("Recent: %v", err)
		}
		if len(got) != 2 || got[0].Question != "Limite noturno?" {
			t.Fatalf("Recent() = %+v", got)
		}
	})

	t.Run("limit", func(t *testing.T) {
		got, err := sink.Recent(ctx, "", 1)
		if err != nil {
			t.Fatalf("Recent: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected 1 record, got %d", len(got))
		}
	})
}
