package fs

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/sweetpotato0/normrag/pkg/logging"
	"github.com/sweetpotato0/normrag/rag/document"
	"github.com/sweetpotato0/normrag/rag/ingest"
)

// Source reads documents from <raw>/<domain>/ and moves each indexed file to
// <processed>/<domain>/.
type Source struct {
	rawDir       string
	processedDir string
	logger       *slog.Logger
}

var _ ingest.Source = (*Source)(nil)

func New(rawDir, processedDir string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = logging.WithComponent("source.fs")
	}
	return &Source{rawDir: rawDir, processedDir: processedDir, logger: logger}
}

func (s *Source) Name() string { return "fs" }

// Documents yields every supported file of the domain directory in name order.
// Unsupported extensions and subdirectories are ignored.
func (s *Source) Documents(ctx context.Context, domain document.Domain) iter.Seq2[document.Source, error] {
	return func(yield func(document.Source, error) bool) {
		dir := filepath.Join(s.rawDir, string(domain))
		entries, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("raw directory not found", "path", dir)
			return
		}
		if err != nil {
			yield(document.Source{}, fmt.Errorf("read %s: %w", dir, err))
			return
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		for _, e := range entries {
			if ctx.Err() != nil {
				return
			}
			if e.IsDir() {
				continue
			}
			kind, ok := document.KindFromName(e.Name())
			if !ok {
				s.logger.Debug("unsupported file skipped", "file", e.Name())
				continue
			}

			path := filepath.Join(dir, e.Name())
			body, err := os.ReadFile(path)
			if err != nil {
				if !yield(document.Source{Name: e.Name()}, fmt.Errorf("read %s: %w", path, err)) {
					return
				}
				continue
			}
			src := document.Source{
				Name:       e.Name(),
				Kind:       kind,
				Body:       body,
				DomainHint: domain,
			}
			if !yield(src, nil) {
				return
			}
		}
	}
}

// Done moves the file out of the raw directory.
func (s *Source) Done(_ context.Context, domain document.Domain, src document.Source) error {
	target := filepath.Join(s.processedDir, string(domain))
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	from := filepath.Join(s.rawDir, string(domain), src.Name)
	to := filepath.Join(target, src.Name)
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("move %s: %w", src.Name, err)
	}
	s.logger.Debug("document moved to processed", "from", from, "to", to)
	return nil
}
