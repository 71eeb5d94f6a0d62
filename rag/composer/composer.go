package composer

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sweetpotato0/normrag/contrib/provider"
	normerrors "github.com/sweetpotato0/normrag/errors"
	"github.com/sweetpotato0/normrag/pkg/logging"
	"github.com/sweetpotato0/normrag/pkg/telemetry"
	"github.com/sweetpotato0/normrag/rag/document"
	"github.com/sweetpotato0/normrag/rag/retry"
	"github.com/sweetpotato0/normrag/rag/validator"
)

// Generation defaults.
const (
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 1000
)

// SystemPrompt frames the model as a regulatory assistant bound to the evidence.
const SystemPrompt = `Você é um assistente especializado na regulação do Banco Central do Brasil sobre Pix e Open Finance.
Responda apenas com base nos trechos normativos fornecidos. Nunca invente normas, artigos, números ou datas.
Toda afirmação deve indicar o artigo, o tipo de norma, o número e o ano de onde foi extraída.
Quando os trechos não permitirem responder, diga exatamente: "` + validator.Disclaimer + `"`

const contextSeparator = "\n---\n\n"

var inlineArticle = regexp.MustCompile(`(?i)\b(artigo|art\.?)\s+(\d+)`)

// Composer turns a question and its evidence into a generated answer.
type Composer struct {
	gen          provider.Generator
	providerName string
	policy       retry.Policy
	temperature  float64
	maxTokens    int
	logger       *slog.Logger
}

// Option customizes a Composer.
type Option func(*Composer)

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Composer) {
		if t > 0 {
			c.temperature = t
		}
	}
}

// WithMaxTokens overrides the response token limit.
func WithMaxTokens(n int) Option {
	return func(c *Composer) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithRetryPolicy sets the policy wrapped around generation calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Composer) {
		c.policy = p
	}
}

// WithProviderName labels errors and spans with the provider in use.
func WithProviderName(name string) Option {
	return func(c *Composer) {
		if name != "" {
			c.providerName = name
		}
	}
}

// WithLogger sets the composer logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Composer) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(gen provider.Generator, opts ...Option) *Composer {
	c := &Composer{
		gen:          gen,
		providerName: "llm",
		policy:       retry.DefaultPolicy(),
		temperature:  DefaultTemperature,
		maxTokens:    DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.WithComponent("composer")
	}
	if c.policy.Logger == nil {
		c.policy.Logger = c.logger
	}
	return c
}

// Compose asks the generator to answer question from evidence.
func (c *Composer) Compose(ctx context.Context, question string, evidence document.EvidenceSet) (_ string, err error) {
	ctx, span := telemetry.Start(ctx, "composer.compose",
		attribute.String("provider", c.providerName),
		attribute.Int("evidence", len(evidence)),
	)
	defer func() { telemetry.End(span, err) }()

	if c.gen == nil {
		return "", &normerrors.GenerationError{Provider: c.providerName, Err: fmt.Errorf("generator is not configured")}
	}

	contextBlock := BuildContext(evidence)
	c.logger.Debug("context built", "chars", len(contextBlock), "units", len(evidence))

	req := provider.Request{
		System:      SystemPrompt,
		User:        BuildPrompt(question, contextBlock),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	answer, err := retry.Call(ctx, c.policy, "generate answer", func(ctx context.Context) (string, error) {
		return c.gen.Complete(ctx, req)
	})
	if err != nil {
		return "", &normerrors.GenerationError{Provider: c.providerName, Err: err}
	}
	return strings.TrimSpace(answer), nil
}

// BuildContext renders evidence as numbered blocks in retrieval order.
func BuildContext(evidence document.EvidenceSet) string {
	parts := make([]string, 0, len(evidence))
	for i, u := range evidence {
		article := "Sem artigo específico"
		if u.Metadata.Article != "" {
			article = "Art. " + u.Metadata.Article
		}
		parts = append(parts, fmt.Sprintf("[Documento %d]\nReferência Normativa: %s, %s\nTema: %s\nConteúdo:\n%s\n",
			i+1, u.Metadata.Reference(), article, u.Metadata.Domain, u.Text))
	}
	return strings.Join(parts, contextSeparator)
}

// BuildPrompt embeds the question and context in the answering instructions.
func BuildPrompt(question, contextBlock string) string {
	var b strings.Builder
	b.WriteString("Trechos normativos recuperados para esta pergunta:\n\n")
	b.WriteString(contextBlock)
	b.WriteString("\n\nPergunta: ")
	b.WriteString(question)
	b.WriteString("\n\nInstruções:\n")
	b.WriteString("1. Leia todos os trechos antes de responder e use somente o que eles dizem.\n")
	b.WriteString("2. Comece a resposta com a citação no formato \"Conforme Art. X da <Norma> <Número>/<Ano>\".\n")
	b.WriteString("3. Cite cada artigo usado como \"Art. X\" e informe o tipo de norma, o número e o ano.\n")
	b.WriteString("4. Não acrescente informação que não esteja nos trechos.\n")
	fmt.Fprintf(&b, "5. Se os trechos não responderem à pergunta, escreva apenas: \"%s\"\n", validator.Disclaimer)
	b.WriteString("\nResposta:\n")
	return b.String()
}

// ExtractCitations collects "Art. N" mentions from answer plus the full
// citation of every evidence unit that has an article, deduplicated and
// sorted.
func ExtractCitations(answer string, evidence document.EvidenceSet) []string {
	seen := make(map[string]struct{})
	out := []string{}
	add := func(c string) {
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	for _, m := range inlineArticle.FindAllStringSubmatch(answer, -1) {
		add("Art. " + m[2])
	}
	for _, u := range evidence {
		if c := u.Metadata.Citation(); c != "" {
			add(c)
		}
	}
	sort.Strings(out)
	return out
}
