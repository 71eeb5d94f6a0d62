// Command normrag-ingest indexes regulatory documents into the per-domain
// collections.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/sweetpotato0/normrag/config"
	"github.com/sweetpotato0/normrag/pkg/logging"
	"github.com/sweetpotato0/normrag/pkg/telemetry"
	"github.com/sweetpotato0/normrag/rag/document"
	"github.com/sweetpotato0/normrag/runtime"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML settings file")
	domain := flag.String("domain", "", "Domain to ingest (pix, open_finance); empty ingests every configured domain")
	force := flag.Bool("force", false, "Delete the collection and forget processed documents first")
	source := flag.String("source", runtime.SourceFS, "Document source: fs, bacen or s3")
	var norms []string
	flag.Func("norm", `Norm to fetch from Bacen as "<type>:<number>", e.g. "Resolução BCB:1"; repeatable`, func(v string) error {
		norms = append(norms, v)
		return nil
	})
	flag.Parse()

	if err := run(*configPath, *domain, *source, norms, *force); err != nil {
		fmt.Fprintln(os.Stderr, "normrag-ingest:", err)
		os.Exit(1)
	}
}

func run(configPath, domainFlag, sourceKind string, norms []string, force bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.Configure(cfg.Log.Format, cfg.Log.Level)

	configured, err := runtime.Domains(cfg.Domains)
	if err != nil {
		return err
	}
	domains := configured
	if strings.TrimSpace(domainFlag) != "" {
		d := document.ParseDomain(domainFlag)
		if !slices.Contains(configured, d) {
			return fmt.Errorf("domain %q is not configured (%v)", domainFlag, configured)
		}
		domains = []document.Domain{d}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "normrag-ingest",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		Domains:        cfg.Domains,
		VectorBackend:  cfg.Vector.Backend,
		LLMProvider:    cfg.LLM.Provider,
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

	src, err := runtime.NewSource(ctx, cfg, sourceKind, norms)
	if err != nil {
		return err
	}

	failed := 0
	for _, d := range domains {
		report, err := rt.Runner.Run(ctx, d, src, force)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", d, err)
		}
		fmt.Printf("%s: %d documents, %d units indexed, %d skipped, %d failed, %d rejected in %s\n",
			d, report.Documents, report.Units, report.Skipped, report.Failed, report.Rejected, report.Duration.Round(time.Millisecond))
		failed += report.Failed
	}
	if failed > 0 {
		return fmt.Errorf("%d documents failed, see the log for details", failed)
	}
	return nil
}
