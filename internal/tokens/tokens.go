// Package tokens counts tokens for conversation turns.
package tokens

import (
	"fmt"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
)

// charsPerToken is the rough estimate used when no codec is available.
const charsPerToken = 4

// Counter counts tokens with the cl100k_base encoding.
type Counter struct {
	codec tokenizer.Codec
}

// New returns a Counter backed by tiktoken.
func New() (*Counter, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("tokens: get encoding: %w", err)
	}
	return &Counter{codec: codec}, nil
}

// Estimator returns a Counter that only estimates from character counts.
func Estimator() *Counter {
	return &Counter{}
}

// Count returns the token count of text. Encoding failures fall back to the estimate.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c == nil || c.codec == nil {
		return estimate(text)
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return estimate(text)
	}
	return len(ids)
}

func estimate(text string) int {
	n := utf8.RuneCountInString(text) / charsPerToken
	if n == 0 {
		return 1
	}
	return n
}
