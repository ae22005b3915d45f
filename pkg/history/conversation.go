// Package history maintains per-agent conversation contexts under a token
// budget. When a conversation approaches its budget, the oldest span of
// records is condensed into a summary record via an LLM summarizer, with a
// lossy truncation fallback when the summarizer is unavailable.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"maestro/pkg/llm"
	"maestro/pkg/models"
)

const (
	// compressTriggerRatio: compression runs when the estimated token
	// count reaches this fraction of the budget.
	compressTriggerRatio = 0.95

	// spanMinRatio: the selected span must cover at least this fraction of
	// the budget, so one compression buys meaningful headroom instead of
	// thrashing on every append.
	spanMinRatio = 0.30

	// recentExempt: the newest records are never compressed — agents need
	// verbatim recent turns (reviewer feedback, current instructions).
	recentExempt = 6

	// summaryPrefix marks summary records in rendered output.
	summaryPrefix = "[Summary of earlier conversation]\n"
)

// Summarizer condenses a conversation span into a compact brief.
// Implemented by the pipeline using the preprocessor backend.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Conversation is one agent's bounded message history. Not safe for
// concurrent use; the pipeline owns each conversation exclusively.
type Conversation struct {
	budget  int // tokens
	records []models.ConversationRecord
	log     *slog.Logger
}

// New creates an empty conversation with the given token budget.
func New(agent string, budget int) *Conversation {
	return &Conversation{
		budget: budget,
		log:    slog.With("component", "history", "agent", agent),
	}
}

// FromRecords restores a conversation from persisted records (resume path).
func FromRecords(agent string, budget int, records []models.ConversationRecord) *Conversation {
	c := New(agent, budget)
	c.records = append(c.records, records...)
	return c
}

// Append adds a turn to the conversation.
func (c *Conversation) Append(role, content string) {
	c.records = append(c.records, models.ConversationRecord{Role: role, Content: content})
}

// Records returns the raw records for persistence.
func (c *Conversation) Records() []models.ConversationRecord {
	return c.records
}

// Len returns the number of records.
func (c *Conversation) Len() int {
	return len(c.records)
}

// Render produces the message list sent to the backend. Summary records
// render with a marker prefix so the model knows it is reading condensed
// history.
func (c *Conversation) Render() []llm.Message {
	msgs := make([]llm.Message, 0, len(c.records))
	for _, r := range c.records {
		content := r.Content
		if r.Summary {
			content = summaryPrefix + content
		}
		msgs = append(msgs, llm.Message{Role: r.Role, Content: content})
	}
	return msgs
}

// TokenEstimate returns the approximate token count of the rendered
// conversation.
func (c *Conversation) TokenEstimate() int {
	total := 0
	for _, r := range c.records {
		total += llm.EstimateTokens(r.Content)
	}
	return total
}

// CompressIfNeeded compresses the oldest eligible span when the
// conversation is close to budget. Returns true when a compression (or
// fallback truncation) happened.
//
// Eligible records: non-summary, non-system, and older than the last
// recentExempt records. The span is the oldest contiguous run of eligible
// records covering at least spanMinRatio of the budget (or all eligible
// records when they fall short of that).
func (c *Conversation) CompressIfNeeded(ctx context.Context, summarizer Summarizer) (bool, error) {
	estimate := c.TokenEstimate()
	if float64(estimate) < compressTriggerRatio*float64(c.budget) {
		return false, nil
	}

	start, end := c.selectSpan()
	if start >= end {
		// Nothing eligible: the recent tail alone blew the budget.
		// Truncate in place as a last resort.
		c.truncateFallback()
		return true, nil
	}

	spanText := c.renderSpan(start, end)
	c.log.Info("Compressing conversation span",
		"records", end-start,
		"span_tokens", llm.EstimateTokens(spanText),
		"estimate", estimate,
		"budget", c.budget)

	summary, err := summarizer.Summarize(ctx, spanText)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		// Fail open: lossy truncation keeps the pipeline moving.
		c.log.Warn("Summarization failed, falling back to lossy truncation", "error", err)
		summary = llm.TruncateToTokens(spanText, c.budget/10)
	}

	c.replaceSpan(start, end, summary)
	return true, nil
}

// selectSpan returns the [start, end) range of the oldest contiguous
// eligible records covering spanMinRatio of the budget.
func (c *Conversation) selectSpan() (int, int) {
	limit := len(c.records) - recentExempt
	if limit < 0 {
		limit = 0
	}

	start := -1
	end := 0
	spanTokens := 0
	target := int(spanMinRatio * float64(c.budget))

	for i := 0; i < limit; i++ {
		r := c.records[i]
		if r.Summary || r.Role == "system" {
			if start >= 0 {
				break // keep the span contiguous
			}
			continue
		}
		if start < 0 {
			start = i
		}
		spanTokens += llm.EstimateTokens(r.Content)
		end = i + 1
		if spanTokens >= target {
			break
		}
	}

	if start < 0 {
		return 0, 0
	}
	return start, end
}

func (c *Conversation) renderSpan(start, end int) string {
	var sb strings.Builder
	for _, r := range c.records[start:end] {
		fmt.Fprintf(&sb, "%s: %s\n\n", r.Role, r.Content)
	}
	return sb.String()
}

// replaceSpan substitutes records[start:end] with a single summary record.
func (c *Conversation) replaceSpan(start, end int, summary string) {
	replaced := make([]models.ConversationRecord, 0, len(c.records)-(end-start)+1)
	replaced = append(replaced, c.records[:start]...)
	replaced = append(replaced, models.ConversationRecord{
		Role:    "user",
		Content: summary,
		Summary: true,
	})
	replaced = append(replaced, c.records[end:]...)
	c.records = replaced
}

// truncateFallback shrinks the largest records in place when no span is
// eligible for summarization. Content is lost; that beats overflowing the
// backend's context window.
func (c *Conversation) truncateFallback() {
	c.log.Warn("No compressible span, truncating records in place",
		"records", len(c.records), "estimate", c.TokenEstimate(), "budget", c.budget)

	perRecord := c.budget / max(len(c.records), 1)
	if perRecord < 1 {
		perRecord = 1
	}
	for i := range c.records {
		if llm.EstimateTokens(c.records[i].Content) > perRecord {
			c.records[i].Content = llm.TruncateToTokens(c.records[i].Content, perRecord)
		}
	}
}
