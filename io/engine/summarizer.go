// Package engine provides the host-side engine implementations wired in
// by the phone role. Real deployments substitute platform bridges behind
// the same interfaces.
package engine

import (
	"context"
	"strings"
	"unicode/utf8"

	coreengine "github.com/perminder-klair/apple-watch-notes/core/engine"
)

// minContentLen mirrors the requester-side precondition as a responder
// guard against clients that skipped it.
const minContentLen = 50

// defaultMaxSummaryLen bounds the extracted summary length in characters.
const defaultMaxSummaryLen = 280

// Extractive is a naive on-device summarizer: it keeps leading sentences
// until the length budget is spent. Always available.
type Extractive struct {
	maxLen int
}

// NewExtractive creates the summarizer. maxLen <= 0 selects the default
// summary length budget.
func NewExtractive(maxLen int) *Extractive {
	if maxLen <= 0 {
		maxLen = defaultMaxSummaryLen
	}
	return &Extractive{maxLen: maxLen}
}

// Summarize keeps whole leading sentences within the length budget.
func (e *Extractive) Summarize(_ context.Context, content string) (string, error) {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) < minContentLen {
		return "", coreengine.NewError(coreengine.CodeTooShort, "content below summarizable minimum")
	}

	var result string
	for _, sentence := range splitSentences(content) {
		candidate := sentence
		if result != "" {
			candidate = result + " " + sentence
		}
		if utf8.RuneCountInString(candidate) > e.maxLen {
			break
		}
		result = candidate
	}

	if result == "" {
		// a single sentence longer than the budget: hard-truncate
		runes := []rune(content)
		if len(runes) > e.maxLen {
			runes = runes[:e.maxLen]
		}
		result = string(runes)
	}
	return result, nil
}

// Ready always reports available.
func (e *Extractive) Ready() (bool, string) {
	return true, "on-device summarizer ready"
}

func splitSentences(content string) []string {
	var sentences []string
	var current strings.Builder
	for _, r := range content {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
