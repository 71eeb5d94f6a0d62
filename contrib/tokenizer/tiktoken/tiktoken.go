package tiktoken

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/sweetpotato0/normrag/rag/tokenizer"
)

// DefaultEncoding is the BPE encoding used by gpt-4 class models.
const DefaultEncoding = "cl100k_base"

// Counter counts tokens with a tiktoken BPE encoding.
type Counter struct {
	enc *tiktoken.Tiktoken
}

var _ tokenizer.Counter = (*Counter)(nil)

// NewCounter resolves name first as a model name, then as an encoding name.
// An empty name selects DefaultEncoding.
func NewCounter(name string) (*Counter, error) {
	if name == "" {
		name = DefaultEncoding
	}
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		// try by name
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			return nil, err
		}
	}
	return &Counter{enc: enc}, nil
}

func (c *Counter) CountTokens(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}
