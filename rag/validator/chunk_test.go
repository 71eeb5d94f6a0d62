package validator

import (
	"reflect"
	"strings"
	"testing"

	"github.com/sweetpotato0/normrag/pkg/logging"
	"github.com/sweetpotato0/normrag/rag/document"
)

func defaultMeta() document.Metadata {
	return document.Metadata{
		Source:     "manual.pdf",
		NormType:   document.DefaultNormType,
		NormNumber: document.DefaultNormNumber,
		Year:       2026,
		Domain:     document.DomainOther,
	}
}

func TestChunkValidatorAccept(t *testing.T) {
	v := NewChunkValidator(logging.Discard())

	withArticle := defaultMeta()
	withArticle.Article = "5"
	knownNorm := defaultMeta()
	knownNorm.NormType = "Circular"

	tests := []struct {
		name   string
		unit   document.Unit
		ok     bool
		reason string
	}{
		{"article wins even for short text", document.Unit{Text: "curto", Metadata: withArticle}, true, ReasonArticle},
		{"long text with signal", document.Unit{
			Text:     "Os participantes do arranjo devem observar as obrigações previstas neste regulamento do Pix.",
			Metadata: defaultMeta(),
		}, true, ReasonNormativeSignal},
		{"short text with signal", document.Unit{Text: "Ver art. 5", Metadata: defaultMeta()}, false, ReasonNoSignal},
		{"long text without signal", document.Unit{
			Text:     strings.Repeat("texto corrido sem qualquer marcador ", 3),
			Metadata: defaultMeta(),
		}, false, ReasonNoSignal},
		{"known norm preamble", document.Unit{Text: "Preâmbulo.", Metadata: knownNorm}, true, ReasonKnownNorm},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := v.Accept(tt.unit)
			if ok != tt.ok || reason != tt.reason {
				t.Fatalf("Accept() = %v,%q want %v,%q", ok, reason, tt.ok, tt.reason)
			}
		})
	}
}

func TestHasNormativeSignalPatterns(t *testing.T) {
	pad := ": texto adicional para atingir o tamanho mínimo exigido."
	for _, text := range []string{
		"Conforme o artigo 12" + pad,
		"Nos termos do inciso IV" + pad,
		"Ver parágrafo 2" + pad,
		"A Instrução em vigor" + pad,
		"Esta seção regulamenta o tema" + pad,
		"Comunicação ao Banco Central" + pad,
		"Fluxos de Open Finance" + pad,
		"Há proibição expressa" + pad,
	} {
		if !HasNormativeSignal(text) {
			t.Errorf("expected signal in %q", text)
		}
	}
}

func TestChunkValidatorFilterIdempotent(t *testing.T) {
	v := NewChunkValidator(logging.Discard())
	withArticle := defaultMeta()
	withArticle.Article = "1"

	units := []document.Unit{
		{Text: "Art. 1 Esta norma institui o Pix.", Metadata: withArticle},
		{Text: "rodapé", Metadata: defaultMeta()},
		{Text: "O Banco Central do Brasil poderá editar normas complementares a este regulamento.", Metadata: defaultMeta()},
		{Text: "página 3 de 10", Metadata: defaultMeta()},
	}

	once := v.Filter(units)
	twice := v.Filter(once)
	if len(once) != 2 {
		t.Fatalf("expected 2 accepted units, got %d", len(once))
	}
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("filter is not idempotent:\n%+v\n%+v", once, twice)
	}
	if once[0].Text != units[0].Text || once[1].Text != units[2].Text {
		t.Fatalf("order not preserved: %+v", once)
	}
}
