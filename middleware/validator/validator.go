package validator

import (
	"fmt"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"

	normerrors "github.com/sweetpotato0/normrag/errors"
)

// DefaultMaxBodyBytes bounds request bodies.
const DefaultMaxBodyBytes = 64 << 10

// RequireJSON rejects requests with a body that is not JSON and caps the body
// at maxBytes. Requests without a body pass through.
func RequireJSON(maxBytes int64) gin.HandlerFunc {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	return func(c *gin.Context) {
		if c.Request.ContentLength == 0 {
			c.Next()
			return
		}
		mt, _, err := mime.ParseMediaType(c.GetHeader("Content-Type"))
		if err != nil || mt != "application/json" {
			_ = c.Error(fmt.Errorf("%w: content type must be application/json", normerrors.ErrInvalidInput))
			c.Abort()
			return
		}
		if c.Request.ContentLength > maxBytes {
			_ = c.Error(fmt.Errorf("%w: body exceeds %d bytes", normerrors.ErrInvalidInput, maxBytes))
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
