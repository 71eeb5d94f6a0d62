// Package server exposes the regulatory question answering service over
// HTTP and MCP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	normerrors "github.com/sweetpotato0/normrag/errors"
	"github.com/sweetpotato0/normrag/middleware"
	"github.com/sweetpotato0/normrag/middleware/enricher"
	"github.com/sweetpotato0/normrag/middleware/errorhandler"
	"github.com/sweetpotato0/normrag/middleware/limiter"
	"github.com/sweetpotato0/normrag/middleware/logger"
	"github.com/sweetpotato0/normrag/middleware/validator"
	"github.com/sweetpotato0/normrag/pkg/logging"
	"github.com/sweetpotato0/normrag/rag/document"
	"github.com/sweetpotato0/normrag/rag/ingest"
	"github.com/sweetpotato0/normrag/rag/pipeline"
)

// Asker answers questions and reports index health.
type Asker interface {
	Ask(ctx context.Context, q pipeline.Query) (*pipeline.Response, error)
	Health(ctx context.Context) pipeline.HealthReport
	Domains() []document.Domain
	HasDomain(d document.Domain) bool
}

// ReindexFunc ingests the documents of one domain.
type ReindexFunc func(ctx context.Context, domain document.Domain, force bool) (ingest.Report, error)

// MCPPath is where the streamable MCP endpoint is mounted.
const MCPPath = "/mcp"

const shutdownTimeout = 10 * time.Second

// Server is the HTTP front of the pipeline.
type Server struct {
	asker   Asker
	reindex ReindexFunc
	limiter *limiter.Limiter
	mcp     http.Handler
	maxBody int64
	logger  *slog.Logger

	reindexing sync.Mutex
	engine     *gin.Engine
}

// Option customises a Server.
type Option func(*Server)

// WithReindex enables POST /reindex.
func WithReindex(fn ReindexFunc) Option {
	return func(s *Server) { s.reindex = fn }
}

// WithLimiter replaces the default per-client limiter.
func WithLimiter(l *limiter.Limiter) Option {
	return func(s *Server) {
		if l != nil {
			s.limiter = l
		}
	}
}

// WithMCPHandler mounts an MCP handler at MCPPath.
func WithMCPHandler(h http.Handler) Option {
	return func(s *Server) { s.mcp = h }
}

// WithMaxBodyBytes bounds JSON request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New builds the server and its routes.
func New(asker Asker, opts ...Option) *Server {
	s := &Server{
		asker:   asker,
		maxBody: validator.DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.WithComponent("server")
	}
	if s.limiter == nil {
		s.limiter = limiter.PerMinute(limiter.DefaultRequestsPerMinute)
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(
		gin.Recovery(),
		enricher.RequestID(),
		logger.RequestLogger(s.logger),
		errorhandler.Handler(s.logger),
	)

	r.GET("/health", s.health)

	api := r.Group("/", s.limiter.Middleware(middleware.ClientKey), validator.RequireJSON(s.maxBody))
	api.POST("/chat", s.chat)
	if s.reindex != nil {
		api.POST("/reindex", s.reindexDomain)
	}
	if s.mcp != nil {
		r.Any(MCPPath, gin.WrapH(s.mcp))
	}
	return r
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Question string   `json:"question" binding:"required"`
	Domain   string   `json:"domain" binding:"required"`
	TopK     int      `json:"top_k"`
	MinScore *float64 `json:"min_score"`
}

func (s *Server) chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(fmt.Errorf("%w: %v", normerrors.ErrInvalidInput, err))
		return
	}

	resp, err := s.asker.Ask(c.Request.Context(), pipeline.Query{
		Question: req.Question,
		Domain:   domainOf(req.Domain),
		TopK:     req.TopK,
		MinScore: req.MinScore,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) health(c *gin.Context) {
	report := s.asker.Health(c.Request.Context())
	status := http.StatusOK
	if report.Status == pipeline.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

func (s *Server) reindexDomain(c *gin.Context) {
	raw := c.DefaultQuery("domain", string(document.DomainPix))
	domain := domainOf(raw)
	if !s.asker.HasDomain(domain) {
		_ = c.Error(fmt.Errorf("%w: unknown domain %q", normerrors.ErrInvalidInput, raw))
		return
	}
	force := false
	if raw := c.Query("force"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			_ = c.Error(fmt.Errorf("%w: force must be a boolean", normerrors.ErrInvalidInput))
			return
		}
		force = v
	}

	if !s.reindexing.TryLock() {
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "REINDEX_IN_PROGRESS",
				"message": "another reindex is running",
			},
		})
		return
	}
	defer s.reindexing.Unlock()

	report, err := s.reindex(c.Request.Context(), domain, force)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// domainOf maps aliases such as "open-finance" to their domain and keeps
// unknown names as given so validation can reject them.
func domainOf(raw string) document.Domain {
	name := strings.ToLower(strings.TrimSpace(raw))
	d := document.ParseDomain(name)
	if d == document.DomainOther && name != string(document.DomainOther) {
		return document.Domain(name)
	}
	return d
}
