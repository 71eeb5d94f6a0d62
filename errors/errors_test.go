package errors

import (
	"fmt"
	"io"
	"testing"
)

func TestTypedErrorsUnwrapToSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		cause    error
	}{
		{
			name:     "parse",
			err:      &ParseError{Source: "pix_circular_1_2020.html", Err: io.ErrUnexpectedEOF},
			sentinel: ErrParse,
			cause:    io.ErrUnexpectedEOF,
		},
		{
			name:     "retrieval",
			err:      &RetrievalError{Op: "search", Domain: "pix", Err: ErrRetriesExhausted},
			sentinel: ErrRetrieval,
			cause:    ErrRetriesExhausted,
		},
		{
			name:     "generation",
			err:      &GenerationError{Provider: "openai", Err: ErrNonRetryable},
			sentinel: ErrGeneration,
			cause:    ErrNonRetryable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("pipeline: %w", tt.err)
			if !Is(wrapped, tt.sentinel) {
				t.Errorf("expected %v to match sentinel %v", wrapped, tt.sentinel)
			}
			if !Is(wrapped, tt.cause) {
				t.Errorf("expected %v to match cause %v", wrapped, tt.cause)
			}
		})
	}
}

func TestRetrievalErrorAs(t *testing.T) {
	err := fmt.Errorf("ask: %w", &RetrievalError{Op: "embed", Domain: "open_finance", Err: ErrTimeout})

	var target *RetrievalError
	if !As(err, &target) {
		t.Fatalf("expected errors.As to find RetrievalError")
	}
	if target.Domain != "open_finance" || target.Op != "embed" {
		t.Fatalf("unexpected target %+v", target)
	}
}
