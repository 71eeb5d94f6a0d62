package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sweetpotato0/normrag/pkg/logging"
	"github.com/sweetpotato0/normrag/rag/document"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDocuments(t *testing.T) {
	root := t.TempDir()
	raw := filepath.Join(root, "raw")
	writeFile(t, filepath.Join(raw, "pix", "pix_resolucao_1_2020.html"), "<p>Art. 1</p>")
	writeFile(t, filepath.Join(raw, "pix", "b.txt"), "Art. 2")
	writeFile(t, filepath.Join(raw, "pix", "planilha.xlsx"), "ignored")
	writeFile(t, filepath.Join(raw, "pix", "nested", "c.txt"), "ignored")

	src := New(raw, filepath.Join(root, "processed"), logging.Discard())
	var got []document.Source
	for doc, err := range src.Documents(context.Background(), document.DomainPix) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, doc)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(got))
	}
	if got[0].Name != "b.txt" || got[0].Kind != document.KindText {
		t.Fatalf("unexpected first document %+v", got[0])
	}
	if got[1].Kind != document.KindHTML || string(got[1].Body) != "<p>Art. 1</p>" || got[1].DomainHint != document.DomainPix {
		t.Fatalf("unexpected second document %+v", got[1])
	}
}

func TestDocumentsMissingDirectory(t *testing.T) {
	src := New(filepath.Join(t.TempDir(), "absent"), t.TempDir(), logging.Discard())
	for range src.Documents(context.Background(), document.DomainOpenFinance) {
		t.Fatalf("expected no documents")
	}
}

func TestDoneMovesFile(t *testing.T) {
	root := t.TempDir()
	raw, processed := filepath.Join(root, "raw"), filepath.Join(root, "processed")
	writeFile(t, filepath.Join(raw, "pix", "a.txt"), "Art. 1")

	src := New(raw, processed, logging.Discard())
	if err := src.Done(context.Background(), document.DomainPix, document.Source{Name: "a.txt"}); err != nil {
		t.Fatalf("Done: %v", err)
	}
	if _, err := os.Stat(filepath.Join(raw, "pix", "a.txt")); !os.IsNotExist(err) {
		t.Fatalf("file should have left the raw directory")
	}
	if _, err := os.Stat(filepath.Join(processed, "pix", "a.txt")); err != nil {
		t.Fatalf("file not found in processed directory: %v", err)
	}
}
