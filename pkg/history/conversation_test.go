package history

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/pkg/models"
)

type fakeSummarizer struct {
	calls   int
	summary string
	err     error
}

func (f *fakeSummarizer) Summarize(_ context.Context, text string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if f.summary != "" {
		return f.summary, nil
	}
	return "summary of " + text[:min(20, len(text))], nil
}

// filler returns a string estimating to roughly n tokens.
func filler(n int) string {
	return strings.Repeat("word", n)
}

func TestConversation_AppendAndRender(t *testing.T) {
	c := New("planner", 1000)
	c.Append("system", "you are a planner")
	c.Append("user", "plan this")
	c.Append("assistant", "the plan")

	msgs := c.Render()
	require.Len(t, msgs, 3)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "the plan", msgs[2].Content)
}

func TestConversation_NoCompressionUnderBudget(t *testing.T) {
	c := New("planner", 1000)
	c.Append("user", filler(100))

	s := &fakeSummarizer{}
	compressed, err := c.CompressIfNeeded(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, compressed)
	assert.Zero(t, s.calls)
}

func TestConversation_CompressesOldestSpan(t *testing.T) {
	// Budget 1000 tokens; 12 records of ~100 tokens each = ~1200 > 95%.
	c := New("coder", 1000)
	c.Append("system", "sys prompt")
	for i := 0; i < 12; i++ {
		c.Append("user", filler(100))
	}
	before := c.Len()

	s := &fakeSummarizer{summary: "condensed"}
	compressed, err := c.CompressIfNeeded(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, compressed)
	assert.Equal(t, 1, s.calls)
	assert.Less(t, c.Len(), before)

	// System record survives at the front, followed by the summary.
	records := c.Records()
	assert.Equal(t, "system", records[0].Role)
	assert.False(t, records[0].Summary)
	assert.True(t, records[1].Summary)
	assert.Equal(t, "condensed", records[1].Content)

	// The last recentExempt records are untouched originals.
	for _, r := range records[len(records)-recentExempt:] {
		assert.False(t, r.Summary)
	}

	// Rendered summary carries the marker prefix.
	msgs := c.Render()
	assert.True(t, strings.HasPrefix(msgs[1].Content, summaryPrefix))
}

func TestConversation_SummariesNeverRecompressed(t *testing.T) {
	c := New("coder", 1000)
	c.Append("system", "sys")
	// An existing summary at the front, then fresh overflow.
	c.records = append(c.records, models.ConversationRecord{Role: "user", Content: filler(50), Summary: true})
	for i := 0; i < 12; i++ {
		c.Append("user", filler(100))
	}

	s := &fakeSummarizer{summary: "second summary"}
	compressed, err := c.CompressIfNeeded(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, compressed)

	// The old summary is intact; the new span started after it.
	records := c.Records()
	assert.True(t, records[1].Summary)
	assert.Equal(t, filler(50), records[1].Content)
	assert.True(t, records[2].Summary)
	assert.Equal(t, "second summary", records[2].Content)
}

func TestConversation_FallbackTruncationOnSummarizerError(t *testing.T) {
	c := New("coder", 1000)
	for i := 0; i < 12; i++ {
		c.Append("user", filler(100))
	}

	before := c.TokenEstimate()
	s := &fakeSummarizer{err: errors.New("backend down")}
	compressed, err := c.CompressIfNeeded(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, compressed)

	// Span replaced by a truncated summary record; budget pressure relieved.
	assert.Less(t, c.TokenEstimate(), before)
}

func TestConversation_CancellationPropagates(t *testing.T) {
	c := New("coder", 1000)
	for i := 0; i < 12; i++ {
		c.Append("user", filler(100))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &fakeSummarizer{err: context.Canceled}
	_, err := c.CompressIfNeeded(ctx, s)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConversation_TruncatesWhenNothingEligible(t *testing.T) {
	// Fewer records than the exempt window, but huge: nothing to
	// summarize, so contents are truncated in place.
	c := New("coder", 100)
	c.Append("user", filler(500))
	c.Append("assistant", filler(500))

	s := &fakeSummarizer{}
	compressed, err := c.CompressIfNeeded(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, compressed)
	assert.Zero(t, s.calls)
	assert.Equal(t, 2, c.Len())
	assert.Less(t, c.TokenEstimate(), 500)
}

func TestFromRecords(t *testing.T) {
	records := []models.ConversationRecord{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "hi"},
	}
	c := FromRecords("planner", 1000, records)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, "hi", c.Render()[1].Content)
}
