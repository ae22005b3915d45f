package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// retryBackoff is the pause before the single retry of a failed send.
	retryBackoff = 500 * time.Millisecond

	// sseBufferSize accommodates large SSE payloads (whole code files in
	// one delta from some backends).
	sseBufferSize = 1024 * 1024
)

// ClientConfig configures an HTTPClient for one agent backend.
type ClientConfig struct {
	Agent       string // role tag for logs, spans, errors
	Endpoint    string // base URL; /v1/chat/completions is appended
	Model       string
	APIKey      string        // empty = unauthenticated
	Timeout     time.Duration // default call bound; Options.Timeout overrides
	Temperature *float64      // default sampling temperature
	MaxTokens   int           // default completion cap
}

// HTTPClient calls an OpenAI-compatible chat-completions endpoint.
// Works with OpenAI, vLLM, Ollama, llama.cpp server, and anything else
// implementing the chat completions API with SSE streaming.
//
// Transport failures and 5xx responses get exactly one retry after a short
// backoff; 4xx responses never retry (the request will not get better).
type HTTPClient struct {
	cfg    ClientConfig
	client *http.Client
	tracer trace.Tracer
	log    *slog.Logger
}

// NewHTTPClient creates a client for one agent backend.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	return &HTTPClient{
		cfg: cfg,
		// No Timeout on the http.Client: streaming responses legitimately
		// outlive any fixed bound. Deadlines come from the call context.
		client: &http.Client{},
		tracer: otel.Tracer("maestro/llm"),
		log:    slog.With("agent", cfg.Agent, "model", cfg.Model),
	}
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// chatRequest is the OpenAI chat-completions request body.
type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	Temperature   *float64       `json:"temperature,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Stream        bool           `json:"stream"`
	Stop          []string       `json:"stop,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// chatResponse covers both complete responses (Message set) and streaming
// chunks (Delta set).
type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message *struct {
			Content string `json:"content"`
		} `json:"message,omitempty"`
		Delta *struct {
			Content string `json:"content"`
		} `json:"delta,omitempty"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

// Generate implements Client.
func (c *HTTPClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	timeout := input.Options.Timeout
	if timeout == 0 {
		timeout = c.cfg.Timeout
	}
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}

	ctx, span := c.tracer.Start(ctx, "llm.generate", trace.WithAttributes(
		attribute.String("llm.agent", c.cfg.Agent),
		attribute.String("llm.model", c.cfg.Model),
		attribute.String("llm.task_id", input.TaskID),
		attribute.Int("llm.prompt_chars", input.PromptChars()),
		attribute.Bool("llm.stream", input.Options.Stream),
	))

	body := c.buildBody(input)
	start := time.Now()

	resp, err := c.sendWithRetry(ctx, body)
	if err != nil {
		err = c.classify(ctx, err, 0)
		c.finishSpan(span, start, 0, err)
		cancel()
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		err := c.statusError(resp)
		c.finishSpan(span, start, 0, err)
		cancel()
		return nil, err
	}

	ch := make(chan Chunk, 16)
	go func() {
		defer cancel()
		defer close(ch)
		defer resp.Body.Close()

		var responseChars int
		var err error
		if input.Options.Stream {
			responseChars, err = c.consumeSSE(ctx, resp.Body, ch)
		} else {
			responseChars, err = c.consumeComplete(resp.Body, ch)
		}
		if err != nil {
			err = c.classify(ctx, err, 0)
			ch <- &ErrorChunk{Err: err}
		}
		c.finishSpan(span, start, responseChars, err)
	}()

	return ch, nil
}

func (c *HTTPClient) buildBody(input *GenerateInput) *chatRequest {
	req := &chatRequest{
		Model:       c.cfg.Model,
		Messages:    input.Messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Stream:      input.Options.Stream,
		Stop:        input.Options.Stop,
	}
	if input.Options.Temperature != nil {
		req.Temperature = input.Options.Temperature
	}
	if input.Options.MaxTokens > 0 {
		req.MaxTokens = input.Options.MaxTokens
	}
	if req.Stream {
		req.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return req
}

// sendWithRetry posts the request, retrying once after retryBackoff on
// transport errors and 5xx responses. 4xx responses return immediately.
func (c *HTTPClient) sendWithRetry(ctx context.Context, body *chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.send(ctx, payload)
	if err == nil && (resp.StatusCode < 500 || resp.StatusCode > 599) {
		return resp, nil
	}

	if err == nil {
		// 5xx: drain and retry once.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		c.log.Warn("Backend returned server error, retrying once", "status", resp.StatusCode)
	} else {
		if ctx.Err() != nil {
			return nil, err
		}
		c.log.Warn("Backend request failed, retrying once", "error", err)
	}

	select {
	case <-time.After(retryBackoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return c.send(ctx, payload)
}

func (c *HTTPClient) send(ctx context.Context, payload []byte) (*http.Response, error) {
	url := strings.TrimSuffix(c.cfg.Endpoint, "/") + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	return c.client.Do(req)
}

// consumeSSE reads the event stream, forwarding text deltas as they arrive.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	data: [DONE]\n
func (c *HTTPClient) consumeSSE(ctx context.Context, body io.Reader, ch chan<- Chunk) (int, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, sseBufferSize), sseBufferSize)

	var responseChars int
	var usage *UsageChunk

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed chunks; a wholly broken stream surfaces as an
			// empty response, which callers treat as a failed generation.
			continue
		}

		if chunk.Usage != nil {
			usage = &UsageChunk{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta == nil {
			continue
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			responseChars += len(content)
			select {
			case ch <- &TextChunk{Content: content}:
			case <-ctx.Done():
				return responseChars, ctx.Err()
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return responseChars, err
	}
	if usage != nil {
		select {
		case ch <- usage:
		case <-ctx.Done():
			return responseChars, ctx.Err()
		}
	}
	return responseChars, nil
}

// consumeComplete parses a non-streaming response into a single TextChunk.
func (c *HTTPClient) consumeComplete(body io.Reader, ch chan<- Chunk) (int, error) {
	var resp chatResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return 0, NewAgentError(c.cfg.Agent, ErrAgentMalformedResponse, 0, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return 0, NewAgentError(c.cfg.Agent, ErrAgentMalformedResponse, 0,
			errors.New("response has no choices"))
	}

	content := resp.Choices[0].Message.Content
	ch <- &TextChunk{Content: content}
	if resp.Usage != nil {
		ch <- &UsageChunk{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		}
	}
	return len(content), nil
}

// statusError maps a non-200 response to the error taxonomy. The body is
// read (bounded) for the message; callers must not reuse the response.
func (c *HTTPClient) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	cause := fmt.Errorf("%s", strings.TrimSpace(string(body)))
	return NewAgentError(c.cfg.Agent, ErrAgentUnavailable, resp.StatusCode, cause)
}

// classify maps transport and context errors to the taxonomy. Caller
// cancellation passes through unwrapped so the pipeline can tell user
// aborts from backend failures.
func (c *HTTPClient) classify(ctx context.Context, err error, status int) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled) && ctx.Err() == context.Canceled:
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return NewAgentError(c.cfg.Agent, ErrAgentTimeout, status, nil)
	default:
		var agentErr *AgentError
		if errors.As(err, &agentErr) {
			return err
		}
		return NewAgentError(c.cfg.Agent, ErrAgentUnavailable, status, err)
	}
}

func (c *HTTPClient) finishSpan(span trace.Span, start time.Time, responseChars int, err error) {
	span.SetAttributes(
		attribute.Int("llm.response_chars", responseChars),
		attribute.Int64("llm.latency_ms", time.Since(start).Milliseconds()),
	)
	if err != nil {
		span.SetAttributes(attribute.String("llm.error_kind", ErrorKind(err)))
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Compile-time interface check.
var _ Client = (*HTTPClient)(nil)
