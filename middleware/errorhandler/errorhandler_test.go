package errorhandler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	normerrors "github.com/sweetpotato0/normrag/errors"
	"github.com/sweetpotato0/normrag/pkg/logging"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: empty question", normerrors.ErrInvalidInput), http.StatusBadRequest, "INVALID_REQUEST"},
		{normerrors.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{&normerrors.RetrievalError{Op: "search", Domain: "pix", Err: normerrors.ErrRateLimited}, http.StatusBadGateway, "UPSTREAM_ERROR"},
		{normerrors.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
		{normerrors.ErrTimeout, http.StatusGatewayTimeout, "TIMEOUT"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, code := Status(tt.err)
			if status != tt.status || code != tt.code {
				t.Fatalf("Status(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
			}
		})
	}
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("renders attached error", func(t *testing.T) {
		r := gin.New()
		r.Use(Handler(logging.Discard()))
		r.GET("/", func(c *gin.Context) {
			_ = c.Error(fmt.Errorf("%w: domain %q", normerrors.ErrInvalidInput, "cambio"))
		})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status %d", w.Code)
		}
		var body struct {
			Success bool `json:"success"`
			Error   struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Success || body.Error.Code != "INVALID_REQUEST" {
			t.Fatalf("unexpected body %s", w.Body.String())
		}
	})

	t.Run("leaves written responses alone", func(t *testing.T) {
		r := gin.New()
		r.Use(Handler(logging.Discard()))
		r.GET("/", func(c *gin.Context) {
			c.String(http.StatusAccepted, "done")
			_ = c.Error(errors.New("late"))
		})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusAccepted || w.Body.String() != "done" {
			t.Fatalf("response rewritten: %d %q", w.Code, w.Body.String())
		}
	})
}
