// Package llm provides the client used to invoke agent LLM backends.
//
// Every backend speaks the OpenAI chat-completions API over HTTP; streaming
// responses are consumed as server-sent events. Callers get a channel of
// typed chunks; errors are delivered in-band as ErrorChunk values so a
// consumer never has to select over two channels.
package llm

import (
	"context"
	"strings"
	"time"
)

// Client is the interface for calling an agent backend.
type Client interface {
	// Generate sends a conversation to the backend and returns a stream of
	// chunks. The returned channel is closed when the stream completes.
	// Errors after the stream starts are delivered as ErrorChunk values.
	Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error)

	// Close releases idle connections.
	Close() error
}

// GenerateInput is a single chat-completion request.
type GenerateInput struct {
	TaskID   string // for logging and span attributes
	Agent    string // role tag, e.g. "coder"
	Messages []Message
	Options  Options
}

// Message is one turn of an agent conversation.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// PromptChars returns the total content length of the conversation, used
// for span attributes and token estimates.
func (in *GenerateInput) PromptChars() int {
	n := 0
	for _, m := range in.Messages {
		n += len(m.Content)
	}
	return n
}

// Options control a single generation call.
type Options struct {
	// Temperature overrides the backend default when non-nil.
	Temperature *float64

	// MaxTokens caps the completion. Zero means backend default.
	MaxTokens int

	// Stream selects SSE delivery. When false the call still returns a
	// chunk channel, carrying the whole completion as one TextChunk.
	Stream bool

	// Stop sequences end the completion early.
	Stop []string

	// Timeout bounds the whole call including streaming. Zero means no
	// client-side bound beyond the caller's context.
	Timeout time.Duration
}

// Chunk is the interface for all streaming chunk types.
type Chunk interface {
	chunkType() ChunkType
}

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

const (
	ChunkTypeText  ChunkType = "text"
	ChunkTypeUsage ChunkType = "usage"
	ChunkTypeError ChunkType = "error"
)

// TextChunk is a piece of the backend's text response.
type TextChunk struct{ Content string }

// UsageChunk reports token consumption for this call. Sent at most once,
// before the channel closes, when the backend reports usage.
type UsageChunk struct{ InputTokens, OutputTokens, TotalTokens int }

// ErrorChunk signals a failure after streaming started. It is always the
// last chunk before the channel closes.
type ErrorChunk struct {
	Err error
}

func (c *TextChunk) chunkType() ChunkType  { return ChunkTypeText }
func (c *UsageChunk) chunkType() ChunkType { return ChunkTypeUsage }
func (c *ErrorChunk) chunkType() ChunkType { return ChunkTypeError }

// Result is a fully collected generation.
type Result struct {
	Content string
	Usage   UsageChunk
}

// Collect drains a Generate call into a single Result. Text chunks are
// concatenated; an ErrorChunk aborts with its error (partial text is
// discarded — callers that want partials consume the channel themselves).
func Collect(ctx context.Context, client Client, input *GenerateInput) (*Result, error) {
	ch, err := client.Generate(ctx, input)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	var usage UsageChunk
	for chunk := range ch {
		switch c := chunk.(type) {
		case *TextChunk:
			sb.WriteString(c.Content)
		case *UsageChunk:
			usage = *c
		case *ErrorChunk:
			// Drain remaining chunks so the producer goroutine exits.
			for range ch {
			}
			return nil, c.Err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Result{Content: sb.String(), Usage: usage}, nil
}
