package memory

import "strings"

// TokenCounter estimates the token cost of a string. Implementations must be
// total (never fail) and only approximately accurate; callers compare budgets,
// they do not bill by the result.
type TokenCounter interface {
	Estimate(text string) int
}

// HeuristicTokenCounter approximates token counts without a model tokenizer.
// It blends a character-based and a word-based estimate, which tracks real
// tokenizers closely enough for budget comparisons on English-ish text.
type HeuristicTokenCounter struct {
	// CharsPerToken is the assumed average characters per token. Zero or
	// negative falls back to 4, the common rule of thumb.
	CharsPerToken float64
}

// NewHeuristicTokenCounter returns a counter with the default ratio.
func NewHeuristicTokenCounter() *HeuristicTokenCounter {
	return &HeuristicTokenCounter{CharsPerToken: 4}
}

// Estimate returns a non-negative token estimate for text.
func (c *HeuristicTokenCounter) Estimate(text string) int {
	if text == "" {
		return 0
	}
	ratio := c.CharsPerToken
	if ratio <= 0 {
		ratio = 4
	}
	byChars := int(float64(len(text))/ratio + 0.5)
	// Words plus a punctuation allowance. Whichever estimate is larger wins:
	// prose is dominated by the word count, code and URLs by raw length.
	words := len(strings.Fields(text))
	byWords := words + words/3
	if byWords > byChars {
		return byWords
	}
	if byChars < 1 {
		return 1
	}
	return byChars
}
