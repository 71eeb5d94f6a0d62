package enricher

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sweetpotato0/normrag/middleware"
)

// RequestID tags every request with the incoming X-Request-ID or a new UUID
// and echoes it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(middleware.RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(middleware.RequestIDKey, id)
		c.Header(middleware.RequestIDHeader, id)
		c.Next()
	}
}
