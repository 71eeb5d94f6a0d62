// Command normrag-server answers questions about Pix and Open Finance
// regulation over HTTP and MCP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/sweetpotato0/normrag/config"
	"github.com/sweetpotato0/normrag/middleware/limiter"
	"github.com/sweetpotato0/normrag/pkg/logging"
	"github.com/sweetpotato0/normrag/pkg/telemetry"
	"github.com/sweetpotato0/normrag/rag/document"
	"github.com/sweetpotato0/normrag/rag/ingest"
	"github.com/sweetpotato0/normrag/runtime"
	"github.com/sweetpotato0/normrag/server"
)

var version = "dev"

const (
	mcpStdio = "stdio"
	mcpHTTP  = "http"
	mcpOff   = "off"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML settings file")
	addr := flag.String("addr", "", "Listen address, overrides server.addr")
	mcpMode := flag.String("mcp", mcpHTTP, "MCP transport: stdio, http (mounted at /mcp) or off")
	flag.Parse()

	if err := run(*configPath, *addr, *mcpMode); err != nil {
		fmt.Fprintln(os.Stderr, "normrag-server:", err)
		os.Exit(1)
	}
}

func run(configPath, addr, mcpMode string) error {
	switch mcpMode {
	case mcpStdio, mcpHTTP, mcpOff:
	default:
		return fmt.Errorf("invalid -mcp %q (stdio, http or off)", mcpMode)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	// stdout belongs to the protocol when MCP runs over stdio
	var logger *slog.Logger
	if mcpMode == mcpStdio {
		logger = logging.New(os.Stderr, cfg.Log.Format, cfg.Log.Level)
		logging.SetLogger(logger)
	} else {
		logger = logging.Configure(cfg.Log.Format, cfg.Log.Level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "normrag-server",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		Domains:        cfg.Domains,
		VectorBackend:  cfg.Vector.Backend,
		LLMProvider:    cfg.LLM.Provider,
		Disable:        mcpMode == mcpStdio && cfg.Telemetry.OTLPEndpoint == "",
	})
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	rt, err := runtime.Build(ctx, cfg, logging.WithComponent("runtime"))
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			logger.Warn("runtime close failed", "error", err)
		}
	}()

	mcpServer := server.NewMCPServer(rt.Pipeline, version)
	if mcpMode == mcpStdio {
		logger.Info("serving MCP over stdio")
		err := server.ServeStdio(ctx, mcpServer)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	opts := []server.Option{
		server.WithLimiter(limiter.PerMinute(cfg.RateLimit.RequestsPerMinute)),
		server.WithReindex(func(ctx context.Context, domain document.Domain, force bool) (ingest.Report, error) {
			src, err := runtime.NewSource(ctx, cfg, runtime.SourceFS, nil)
			if err != nil {
				return ingest.Report{}, err
			}
			return rt.Runner.Run(ctx, domain, src, force)
		}),
		server.WithLogger(logging.WithComponent("server")),
	}
	if mcpMode == mcpHTTP {
		opts = append(opts, server.WithMCPHandler(server.MCPHandler(mcpServer)))
	}

	return server.New(rt.Pipeline, opts...).ListenAndServe(ctx, cfg.Server.Addr)
}
