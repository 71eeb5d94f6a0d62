package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrParse indicates a source document is malformed beyond any fallback
	ErrParse = errors.New("document parse failed")

	// ErrRetrieval indicates vector search or embedding failed after retries
	ErrRetrieval = errors.New("retrieval failed")

	// ErrGeneration indicates the generation provider failed after retries
	ErrGeneration = errors.New("generation failed")

	// ErrConfiguration indicates missing or invalid startup configuration
	ErrConfiguration = errors.New("invalid configuration")

	// ErrRateLimited marks a provider rejection that is safe to retry
	ErrRateLimited = errors.New("rate limited")

	// ErrTimeout marks a provider call that exceeded its per-call deadline
	ErrTimeout = errors.New("provider call timed out")

	// ErrRetriesExhausted tags the last error of a retryable call that never succeeded
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrNonRetryable tags an error the retry policy refused to retry
	ErrNonRetryable = errors.New("non-retryable error")
)

// ParseError reports a source document that could not be parsed.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{ErrParse, e.Err}
}

// RetrievalError reports an embedding or vector search failure for a domain.
type RetrievalError struct {
	Op     string
	Domain string
	Err    error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval %s on %q: %v", e.Op, e.Domain, e.Err)
}

func (e *RetrievalError) Unwrap() []error {
	return []error{ErrRetrieval, e.Err}
}

// GenerationError reports a generation provider failure.
type GenerationError struct {
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation via %s: %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() []error {
	return []error{ErrGeneration, e.Err}
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}
