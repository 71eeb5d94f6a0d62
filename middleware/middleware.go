// Package middleware holds the gin middlewares shared by the HTTP server.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// RequestIDHeader carries the request identifier in and out.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin context key of the request identifier.
	RequestIDKey = "request_id"

	// APIKeyHeader identifies a client when present.
	APIKeyHeader = "X-API-Key"
)

// ClientKey identifies the caller: the API key when one is sent, the client IP otherwise.
func ClientKey(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader(APIKeyHeader)); key != "" {
		return "key:" + key
	}
	return "ip:" + c.ClientIP()
}

// RequestID returns the identifier set by the enricher, if any.
func RequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}
