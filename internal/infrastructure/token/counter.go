package token

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Counter estimates token counts for prompt budgeting. It prefers a real
// BPE encoding; when the encoding asset cannot be loaded it falls back to
// a rune heuristic so the pipeline keeps working offline.
type Counter struct {
	encoding *tiktoken.Tiktoken
}

func NewCounter(encodingName string) *Counter {
	if encodingName == "" {
		encodingName = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return &Counter{}
	}
	return &Counter{encoding: enc}
}

func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c.encoding != nil {
		return len(c.encoding.Encode(text, nil, nil))
	}
	// English prose averages roughly four characters per token.
	runes := utf8.RuneCountInString(text)
	count := runes / 4
	if count == 0 {
		count = 1
	}
	return count
}
