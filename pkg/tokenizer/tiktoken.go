package tokenizer

import (
	"context"
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE used by the tiktoken counter.
const DefaultEncoding = "cl100k_base"

// Tiktoken counts tokens locally with a BPE encoding.
type Tiktoken struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %s: %w", encoding, err)
	}
	return &Tiktoken{encoding: enc}, nil
}

func (t *Tiktoken) CountTokens(_ context.Context, text string) (int, error) {
	return len(t.encoding.Encode(text, nil, nil)), nil
}
