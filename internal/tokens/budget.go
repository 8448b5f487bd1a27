// Package tokens measures and trims text against a model's context window.
package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Budget counts tokens with the model's tokenizer and keeps prompts inside
// the context window.
type Budget struct {
	mu        sync.Mutex
	tokenizer *tiktoken.Tiktoken
	maxTokens int
	reserve   int
}

// New creates a Budget for model.
// maxTokens is the model's context window size.
// reserve is the number of tokens to reserve for the model's response.
func New(model string, maxTokens, reserve int) (*Budget, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Budget{
		tokenizer: enc,
		maxTokens: maxTokens,
		reserve:   reserve,
	}, nil
}

func (b *Budget) encode(text string) []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokenizer.Encode(text, nil, nil)
}

func (b *Budget) decode(tokens []int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokenizer.Decode(tokens)
}

// Count returns the token count for a string.
func (b *Budget) Count(text string) int {
	return len(b.encode(text))
}

// Input returns the number of tokens available for the prompt.
func (b *Budget) Input() int {
	return b.maxTokens - b.reserve
}

// Fit truncates text so that it plus overhead tokens of surrounding prompt
// fit in the input budget. The second result reports whether text was cut.
func (b *Budget) Fit(text string, overhead int) (string, bool) {
	limit := b.Input() - overhead
	if limit <= 0 {
		return "", text != ""
	}
	toks := b.encode(text)
	if len(toks) <= limit {
		return text, false
	}
	return b.decode(toks[:limit]), true
}

// Split cuts text into windows of at most size tokens, each sharing
// overlap tokens with the previous one.
func (b *Budget) Split(text string, size, overlap int) []string {
	if size <= 0 {
		return []string{text}
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	toks := b.encode(text)
	if len(toks) == 0 {
		return nil
	}

	var chunks []string
	step := size - overlap
	for start := 0; start < len(toks); start += step {
		end := start + size
		if end > len(toks) {
			end = len(toks)
		}
		chunks = append(chunks, b.decode(toks[start:end]))
		if end == len(toks) {
			break
		}
	}
	return chunks
}
