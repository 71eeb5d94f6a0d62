package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	normerrors "github.com/sweetpotato0/normrag/errors"
	"github.com/sweetpotato0/normrag/rag/document"
	"github.com/sweetpotato0/normrag/rag/preprocess"
)

// Extracted is the normalized text of a source and the structured record it
// carried, if any.
type Extracted struct {
	Text   string
	Record *document.Record
}

// Extract decodes src according to its kind and normalizes the result.
// An empty Text means the document has no usable content.
func Extract(n *preprocess.Normalizer, src document.Source) (Extracted, error) {
	switch src.Kind {
	case document.KindPDF:
		raw, err := pdfText(src.Body)
		if err != nil {
			return Extracted{}, &normerrors.ParseError{Source: src.Name, Err: err}
		}
		return Extracted{Text: n.NormalizePlain(raw), Record: src.Record}, nil

	case document.KindHTML:
		text, err := n.Normalize(src.Name, string(src.Body))
		if err != nil {
			return Extracted{}, err
		}
		return Extracted{Text: text, Record: src.Record}, nil

	case document.KindJSON:
		rec := src.Record
		if rec == nil {
			rec = new(document.Record)
			if err := json.Unmarshal(src.Body, rec); err != nil {
				return Extracted{}, &normerrors.ParseError{Source: src.Name, Err: err}
			}
		}
		text, err := recordText(n, src.Name, rec.Text)
		if err != nil {
			return Extracted{}, err
		}
		return Extracted{Text: text, Record: rec}, nil

	case document.KindText:
		return Extracted{Text: n.NormalizePlain(string(src.Body)), Record: src.Record}, nil

	default:
		return Extracted{}, &normerrors.ParseError{Source: src.Name, Err: fmt.Errorf("unsupported kind %q", src.Kind)}
	}
}

// recordText treats record bodies with markup as HTML and the rest as plain text.
func recordText(n *preprocess.Normalizer, name, body string) (string, error) {
	if strings.Contains(body, "<") && strings.Contains(body, ">") {
		return n.Normalize(name, body)
	}
	return n.NormalizePlain(body), nil
}

// pdfText returns the plain text layer of a PDF. The reader panics on some
// malformed files, which is reported as an error.
func pdfText(body []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract plain text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("failed to read text: %w", err)
	}
	return buf.String(), nil
}
