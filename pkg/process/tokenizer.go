package process

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts tokens with a tiktoken encoding, estimating when no codec is loaded.
// A nil *TokenCounter is valid and always estimates.
type TokenCounter struct {
	codec    tokenizer.Codec
	encoding string
}

// NewTokenCounter loads the named encoding.
// Common encodings: "cl100k_base" (GPT-4), "o200k_base" (GPT-4o), "p50k_base" (GPT-3).
// Empty defaults to "cl100k_base".
func NewTokenCounter(encoding string) (*TokenCounter, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}

	var enc tokenizer.Encoding
	switch encoding {
	case "cl100k_base":
		enc = tokenizer.Cl100kBase
	case "p50k_base":
		enc = tokenizer.P50kBase
	case "p50k_edit":
		enc = tokenizer.P50kEdit
	case "r50k_base":
		enc = tokenizer.R50kBase
	case "o200k_base":
		enc = tokenizer.O200kBase
	default:
		return nil, fmt.Errorf("unknown tokenizer encoding %q", encoding)
	}

	codec, err := tokenizer.Get(enc)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer %q: %w", encoding, err)
	}
	return &TokenCounter{codec: codec, encoding: encoding}, nil
}

// Encoding returns the loaded encoding name, or "estimate"
func (tc *TokenCounter) Encoding() string {
	if tc == nil || tc.codec == nil {
		return "estimate"
	}
	return tc.encoding
}

// Count returns the token count for text
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.codec == nil {
		return estimateTokens(text)
	}
	ids, _, err := tc.codec.Encode(text)
	if err != nil {
		return estimateTokens(text)
	}
	return len(ids)
}

// estimateTokens approximates one token per four bytes
func estimateTokens(text string) int {
	return len(text) / 4
}
