// Package tokenizer counts the token cost of message text for batch
// budgeting. Costs only need to match what the embedding provider will
// count, so the encoding is fixed to the embedding model's.
package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Counter reports the token cost of a string.
type Counter interface {
	Count(text string) int
}

// Func adapts a plain function to Counter; tests use fixed-cost funcs.
type Func func(string) int

func (f Func) Count(text string) int { return f(text) }

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken returns a Counter backed by the tokenizer of the given
// embedding model (e.g. "text-embedding-3-small").
func NewTiktoken(model string) (Counter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer for %s: %w", model, err)
	}
	return &tiktokenCounter{enc: enc}, nil
}

func (c *tiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}
