package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected int
	}{
		{name: "empty", text: "", expected: 0},
		{name: "exact multiple", text: "abcdefgh", expected: 2},
		{name: "rounds up", text: "abcde", expected: 2},
		{name: "single char", text: "a", expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, EstimateTokens(tt.text))
		})
	}
}

func TestTruncateToTokens(t *testing.T) {
	t.Run("under limit unchanged", func(t *testing.T) {
		assert.Equal(t, "short", TruncateToTokens("short", 100))
	})

	t.Run("cuts at line boundary", func(t *testing.T) {
		content := strings.Repeat("0123456789\n", 100)
		out := TruncateToTokens(content, 10) // 40 chars

		assert.Less(t, len(out), len(content))
		assert.Contains(t, out, "[TRUNCATED")
		// Everything before the marker ends at a full line.
		body := out[:strings.Index(out, "\n\n[TRUNCATED")]
		assert.True(t, strings.HasSuffix(body, "0123456789"))
	})

	t.Run("does not split multibyte runes", func(t *testing.T) {
		content := strings.Repeat("héllo wörld ", 50)
		out := TruncateToTokens(content, 5)
		assert.True(t, strings.Contains(out, "[TRUNCATED"))
		assert.True(t, len(out) > 0)
		for _, r := range out {
			assert.NotEqual(t, '�', r)
		}
	})
}
