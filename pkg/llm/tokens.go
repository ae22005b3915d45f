package llm

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// charsPerToken is the approximate number of characters per token for English text.
// Used for budget estimation only — not exact token counting.
const charsPerToken = 4

// EstimateTokens returns an approximate token count for the given text.
// Uses the common heuristic of ~4 characters per token for English text.
// This is intentionally approximate — exact counts would require a tokenizer
// library and add a dependency for minimal benefit (the context budget is a
// soft limit, not a hard boundary).
//
// Note: len(text) counts bytes, not Unicode characters. For multi-byte UTF-8
// content (CJK, emoji), this overestimates the token count. This is a safe
// direction to err — compression triggers slightly earlier than necessary,
// which is preferable to overflowing a backend's context window.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken // Round up
}

// TokensToChars converts a token budget to the byte budget used for
// truncation, inverse of EstimateTokens.
func TokensToChars(tokens int) int {
	return tokens * charsPerToken
}

// TruncateToTokens cuts content to roughly maxTokens, at the last newline
// before the limit to avoid splitting mid-line — important when the content
// is code or indented output. A marker noting the truncation is appended.
//
// The cut point is adjusted backwards to avoid splitting multi-byte UTF-8
// characters, then further adjusted to the last newline when possible.
func TruncateToTokens(content string, maxTokens int) string {
	maxChars := TokensToChars(maxTokens)
	if maxChars <= 0 || len(content) <= maxChars {
		return content
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	truncated := content[:cut]
	if idx := strings.LastIndex(truncated, "\n"); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated + fmt.Sprintf(
		"\n\n[TRUNCATED — original ~%d tokens, limit %d tokens]",
		EstimateTokens(content), maxTokens,
	)
}
