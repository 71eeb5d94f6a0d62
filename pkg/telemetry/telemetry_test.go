package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestResourceAttributes(t *testing.T) {
	attrs := resourceAttributes(Config{
		ServiceName:   "normrag-server",
		Environment:   "production",
		Domains:       []string{"pix", "open_finance"},
		VectorBackend: "qdrant",
		LLMProvider:   "claude",
	})
	set := attribute.NewSet(attrs...)

	tests := []struct {
		key  attribute.Key
		want string
	}{
		{"service.name", "normrag-server"},
		{"deployment.environment", "production"},
		{VectorBackendKey, "qdrant"},
		{LLMProviderKey, "claude"},
	}
	for _, tt := range tests {
		v, ok := set.Value(tt.key)
		if !ok || v.AsString() != tt.want {
			t.Errorf("%s = %q (present %v), want %q", tt.key, v.AsString(), ok, tt.want)
		}
	}
	domains, ok := set.Value(DomainsKey)
	if !ok || len(domains.AsStringSlice()) != 2 {
		t.Errorf("domains attribute = %v", domains.AsStringSlice())
	}
	if _, ok := set.Value("service.version"); ok {
		t.Errorf("empty version must not be set")
	}
}

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Disable: true})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestStartEndRecordsDomainAndError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := Start(context.Background(), "pipeline.ask", Domain("pix"))
	End(span, errors.New("qdrant unreachable"))
	_, search := Start(context.Background(), "retrieval.search")
	End(search, nil)

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 ended spans, got %d", len(spans))
	}
	failed := spans[0]
	if failed.Status().Code != codes.Error {
		t.Errorf("status = %v, want error", failed.Status().Code)
	}
	found := false
	for _, kv := range failed.Attributes() {
		if kv.Key == DomainKey && kv.Value.AsString() == "pix" {
			found = true
		}
	}
	if !found {
		t.Errorf("domain attribute missing: %v", failed.Attributes())
	}
	if spans[1].Status().Code != codes.Ok {
		t.Errorf("status = %v, want ok", spans[1].Status().Code)
	}
	End(nil, nil)
}
