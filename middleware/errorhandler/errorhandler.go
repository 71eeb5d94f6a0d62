package errorhandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	normerrors "github.com/sweetpotato0/normrag/errors"
	"github.com/sweetpotato0/normrag/middleware"
)

// Status maps an error to its HTTP status and envelope code.
func Status(err error) (int, string) {
	switch {
	case errors.Is(err, normerrors.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, normerrors.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, normerrors.ErrRetrieval),
		errors.Is(err, normerrors.ErrGeneration),
		errors.Is(err, normerrors.ErrRetriesExhausted):
		return http.StatusBadGateway, "UPSTREAM_ERROR"
	case errors.Is(err, normerrors.ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, normerrors.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// Handler renders the last error a handler attached with c.Error, unless a
// response was already written.
func Handler(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		status, code := Status(err)

		level := slog.LevelWarn
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "request failed",
			"path", c.Request.URL.Path,
			"status", status,
			"request_id", middleware.RequestID(c),
			"error", err,
		)

		c.JSON(status, gin.H{
			"success": false,
			"error": gin.H{
				"code":    code,
				"message": err.Error(),
			},
		})
	}
}
