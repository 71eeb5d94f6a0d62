package tokenizer

import "unicode"

// Counter counts model tokens in a piece of text.
type Counter interface {
	CountTokens(text string) int
}

// SimpleCounter approximates a BPE tokenizer without encoding files, for
// offline tests and as the segmenter fallback. Runs of letters and digits
// count as one token, every other non-space rune counts as one.
type SimpleCounter struct{}

var _ Counter = SimpleCounter{}

func (SimpleCounter) CountTokens(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inWord {
				n++
				inWord = true
			}
		case unicode.IsSpace(r):
			inWord = false
		default:
			n++
			inWord = false
		}
	}
	return n
}
