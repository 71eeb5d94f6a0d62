package config

import (
	"errors"
	"fmt"
	"strings"

	normerrors "github.com/sweetpotato0/normrag/errors"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for field %q: %s", e.Field, e.Message)
}

// Validator provides configuration validation utilities
type Validator struct {
	errors []ValidationError
}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{
		errors: []ValidationError{},
	}
}

// RequireNonEmpty validates that a string field is not empty
func (v *Validator) RequireNonEmpty(field, value string) *Validator {
	if value == "" {
		v.errors = append(v.errors, ValidationError{
			Field:   field,
			Message: "value cannot be empty",
		})
	}
	return v
}

// RequirePositive validates that an integer field is greater than 0
func (v *Validator) RequirePositive(field string, value int) *Validator {
	if value <= 0 {
		v.errors = append(v.errors, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("value must be positive, got %d", value),
		})
	}
	return v
}

// ValidateRange validates that an integer field is within a range [min, max]
func (v *Validator) ValidateRange(field string, value, min, max int) *Validator {
	if value < min || value > max {
		v.errors = append(v.errors, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("value must be between %d and %d, got %d", min, max, value),
		})
	}
	return v
}

// ValidateFloatRange validates that a float field is within a range [min, max]
func (v *Validator) ValidateFloatRange(field string, value, min, max float64) *Validator {
	if value < min || value > max {
		v.errors = append(v.errors, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("value must be between %.2f and %.2f, got %.2f", min, max, value),
		})
	}
	return v
}

// ValidatePort validates that a port number is valid (1-65535)
func (v *Validator) ValidatePort(field string, port int) *Validator {
	return v.ValidateRange(field, port, 1, 65535)
}

// RequireNonNegative validates that an integer field is 0 or greater
func (v *Validator) RequireNonNegative(field string, value int) *Validator {
	if value < 0 {
		v.errors = append(v.errors, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("value must not be negative, got %d", value),
		})
	}
	return v
}

// ValidateDBNumber validates that a database number is valid (0-15 for Redis)
func (v *Validator) ValidateDBNumber(field string, db int) *Validator {
	return v.ValidateRange(field, db, 0, 15)
}

// ValidateOneOf validates that a string value is one of the allowed options
func (v *Validator) ValidateOneOf(field string, value string, allowed ...string) *Validator {
	for _, a := range allowed {
		if a == value {
			return v
		}
	}
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be one of %v, got %q", allowed, value),
	})
	return v
}

// add merges the problems of a nested validation under prefix.
func (v *Validator) add(prefix string, err error) *Validator {
	if err == nil {
		return v
	}
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		v.errors = append(v.errors, ValidationError{Field: prefix, Message: err.Error()})
		return v
	}
	for _, p := range cfgErr.Problems {
		v.errors = append(v.errors, ValidationError{Field: prefix + "." + p.Field, Message: p.Message})
	}
	return v
}

// HasErrors returns true if there are any validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Error returns a ConfigurationError or nil if no errors
func (v *Validator) Error() error {
	if !v.HasErrors() {
		return nil
	}
	return &ConfigurationError{Problems: append([]ValidationError(nil), v.errors...)}
}

// Errors returns all validation errors
func (v *Validator) Errors() []ValidationError {
	return v.errors
}

// ConfigurationError aggregates every validation failure found at startup.
type ConfigurationError struct {
	Problems []ValidationError
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration validation failed:\n")
	for _, p := range e.Problems {
		fmt.Fprintf(&b, "  - %s: %s\n", p.Field, p.Message)
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error {
	return normerrors.ErrConfiguration
}

// ValidatePostgresConfig validates PostgreSQL configuration
func ValidatePostgresConfig(host string, port int, user string, dbName string, sslMode string) error {
	v := NewValidator()

	v.RequireNonEmpty("host", host)
	v.ValidatePort("port", port)
	v.RequireNonEmpty("user", user)
	v.RequireNonEmpty("dbName", dbName)
	v.ValidateOneOf("sslMode", sslMode, "disable", "require", "verify-ca", "verify-full")

	return v.Error()
}

// ValidateRedisConfig validates Redis configuration
func ValidateRedisConfig(addr string, db int, prefix string) error {
	v := NewValidator()

	v.RequireNonEmpty("addr", addr)
	v.ValidateDBNumber("db", db)
	v.RequireNonEmpty("prefix", prefix)

	return v.Error()
}

// ValidateMongoDBConfig validates MongoDB configuration
func ValidateMongoDBConfig(uri string, database string, collection string) error {
	v := NewValidator()

	v.RequireNonEmpty("uri", uri)
	v.RequireNonEmpty("database", database)
	v.RequireNonEmpty("collection", collection)

	return v.Error()
}

// ValidateLLMConfig validates the generation provider settings. API keys are
// checked per provider by Settings.Validate.
func ValidateLLMConfig(provider, model string, temperature float64, maxTokens int) error {
	v := NewValidator()

	v.ValidateOneOf("provider", provider, "openai", "claude", "gemini", "ollama")
	v.RequireNonEmpty("model", model)
	v.ValidateFloatRange("temperature", temperature, 0.0, 2.0)
	v.RequirePositive("max_tokens", maxTokens)

	return v.Error()
}

// ValidateRetrievalConfig validates query-time retrieval parameters
func ValidateRetrievalConfig(topK int, minScore float64) error {
	v := NewValidator()
	v.ValidateRange("top_k", topK, 1, 10)
	v.ValidateFloatRange("min_score", minScore, 0.0, 1.0)
	return v.Error()
}

// ValidateRateLimiterConfig validates rate limiter configuration
func ValidateRateLimiterConfig(requestsPerMinute int) error {
	v := NewValidator()
	v.RequirePositive("requests_per_minute", requestsPerMinute)
	return v.Error()
}
