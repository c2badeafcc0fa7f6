package summarizer

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Local is an extractive summarizer with no external dependencies: it keeps
// leading sentences up to a byte budget. It is the default provider when no
// LLM is configured, so compression always has a working collaborator.
type Local struct {
	maxLen int
}

// DefaultLocalMaxLen is the default summary byte budget.
const DefaultLocalMaxLen = 280

// NewLocal creates a Local summarizer keeping at most maxLen bytes.
// Non-positive values fall back to DefaultLocalMaxLen.
func NewLocal(maxLen int) *Local {
	if maxLen <= 0 {
		maxLen = DefaultLocalMaxLen
	}
	return &Local{maxLen: maxLen}
}

// Summarize truncates content at the last sentence boundary that fits the
// budget, or at a rune boundary when no sentence fits. Content already
// within budget is returned unchanged, which keeps re-summarization stable.
func (l *Local) Summarize(ctx context.Context, content string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(content) <= l.maxLen {
		return content, nil
	}

	cut := content[:l.maxLen]
	if i := lastSentenceEnd(cut); i > 0 {
		return strings.TrimSpace(cut[:i]), nil
	}

	// No sentence boundary inside the budget: cut at a rune boundary.
	for !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return strings.TrimSpace(cut), nil
}

// Close is a no-op.
func (l *Local) Close() error { return nil }

func lastSentenceEnd(s string) int {
	end := 0
	for i, r := range s {
		switch r {
		case '.', '!', '?':
			end = i + 1
		}
	}
	return end
}
