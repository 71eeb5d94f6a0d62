package preprocess

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	normerrors "github.com/sweetpotato0/normrag/errors"
	"github.com/sweetpotato0/normrag/pkg/logging"
)

// MinContentChars is the smallest amount of non-whitespace text a document
// must yield to be considered usable.
const MinContentChars = 50

var (
	reNewlines     = regexp.MustCompile(`\n{3,}`)
	reInlineSpaces = regexp.MustCompile(`[ \t]+`)
)

// Normalizer converts raw normative documents into clean plain text.
type Normalizer struct {
	logger *slog.Logger
}

// NewNormalizer builds a Normalizer. A nil logger uses the shared component logger.
func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = logging.WithComponent("normalizer")
	}
	return &Normalizer{logger: logger}
}

// Normalize extracts readable text from an HTML document. Struck-through
// (repealed) passages are dropped. An unusable document yields "" and no error.
func (n *Normalizer) Normalize(source, markup string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", &normerrors.ParseError{Source: source, Err: err}
	}

	doc.Find("s, script, style, noscript").Remove()
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(inlineText(s))
		if text == "" {
			return
		}
		s.ReplaceWithNodes(&html.Node{Type: html.TextNode, Data: text + "\n"})
	})
	doc.Find("br").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithNodes(&html.Node{Type: html.TextNode, Data: "\n"})
	})

	var parts []string
	for _, node := range doc.Nodes {
		collectText(node, &parts)
	}
	text := strings.Join(parts, "\n")

	if contentChars(text) < MinContentChars {
		n.logger.Warn("document has no usable content", "source", source)
		return "", nil
	}
	return collapseWhitespace(text), nil
}

// NormalizePlain applies the whitespace rules to extracted plain text such as
// PDF output, after dropping control characters and common ligature artifacts.
func (n *Normalizer) NormalizePlain(text string) string {
	if text == "" {
		return ""
	}

	// remove control chars except newline and tab
	b := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)

	// fix common ligatures / OCR artifacts
	b = ligatures.Replace(b)
	return collapseWhitespace(b)
}

var ligatures = strings.NewReplacer(
	"ﬁ", "fi",
	"ﬂ", "fl",
	"\u00a0", " ",
	"•", "-",
)

// collectText appends every non-blank text node under n, trimmed, in document order.
func collectText(n *html.Node, out *[]string) {
	if n.Type == html.TextNode {
		if t := strings.TrimSpace(n.Data); t != "" {
			*out = append(*out, t)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, out)
	}
}

// inlineText flattens a paragraph: text nodes are joined by single spaces
// and <br> becomes a line break.
func inlineText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.ElementNode && n.Data == "br":
			b.WriteByte('\n')
			return
		case n.Type == html.TextNode:
			t := strings.TrimSpace(n.Data)
			if t == "" {
				return
			}
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
				b.WriteByte(' ')
			}
			b.WriteString(t)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	return b.String()
}

func contentChars(s string) int {
	count := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			count++
		}
	}
	return count
}

// collapseWhitespace reduces 3+ newlines to two and runs of inline spaces to
// one, keeping each line's leading indentation.
func collapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		body := strings.TrimLeft(line, " \t")
		indent := line[:len(line)-len(body)]
		body = reInlineSpaces.ReplaceAllString(body, " ")
		lines[i] = strings.TrimRight(indent+body, " \t")
	}
	s = strings.Join(lines, "\n")
	s = reNewlines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
