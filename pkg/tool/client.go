// Package tool provides the client for the optional REST tool server the
// planner may query during planning (code search, file reads, test runs).
// Tool availability is best-effort: a missing or failing tool server
// degrades planning, it never fails the task.
package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrToolUnavailable indicates the tool server could not be reached or
	// answered with an error status.
	ErrToolUnavailable = errors.New("tool server unavailable")

	// ErrToolInvalidResult indicates the tool server answered with a body
	// the client could not interpret.
	ErrToolInvalidResult = errors.New("tool server returned invalid result")
)

// Client queries the tool server.
type Client interface {
	// Query runs one tool query and returns its textual result. The query
	// is a planner directive body: tool name followed by its argument.
	Query(ctx context.Context, query string) (string, error)
}

// HTTPClient talks to a REST tool server: POST {endpoint}/api/tool with
// {"tool": ..., "args": {...}}, expecting {"result": ...}.
type HTTPClient struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
}

// NewHTTPClient creates a tool client. Timeout bounds each query.
func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		timeout:  timeout,
		client:   &http.Client{},
	}
}

type toolRequest struct {
	Tool string            `json:"tool"`
	Args map[string]string `json:"args"`
}

type toolResponse struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// argKeys names the primary argument of each known tool. Unknown tools
// get their argument under "input"; the server decides what to do with it.
var argKeys = map[string]string{
	"read_file":   "path",
	"run_tests":   "path",
	"search_code": "query",
}

// buildRequest splits a directive body into tool name and argument map.
// "search_code auth middleware" → {tool: search_code, args: {query: "auth
// middleware"}}. A bare tool name sends empty args (analyze_codebase).
func buildRequest(query string) toolRequest {
	name, rest, _ := strings.Cut(strings.TrimSpace(query), " ")
	req := toolRequest{Tool: name, Args: map[string]string{}}
	if rest = strings.TrimSpace(rest); rest != "" {
		key, ok := argKeys[name]
		if !ok {
			key = "input"
		}
		req.Args[key] = rest
	}
	return req
}

// Query implements Client.
func (c *HTTPClient) Query(ctx context.Context, query string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(buildRequest(query))
	if err != nil {
		return "", fmt.Errorf("marshal tool query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/tool", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrToolUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != context.DeadlineExceeded {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrToolUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%w: status %d: %s", ErrToolUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out toolResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrToolInvalidResult, err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrToolInvalidResult, out.Error)
	}
	if out.Result == "" {
		return "", fmt.Errorf("%w: empty result", ErrToolInvalidResult)
	}
	return out.Result, nil
}

// Compile-time interface check.
var _ Client = (*HTTPClient)(nil)

// ParseDirectives extracts tool queries from planner output. A directive
// is a line of the form "TOOL: <tool> <argument>"; matching is lenient
// about leading whitespace and list markers since models decorate freely.
func ParseDirectives(text string) []string {
	var queries []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimLeft(line, " \t-*>0123456789.")
		rest, ok := strings.CutPrefix(line, "TOOL:")
		if !ok {
			rest, ok = strings.CutPrefix(line, "tool:")
		}
		if !ok {
			continue
		}
		if query := strings.TrimSpace(rest); query != "" {
			queries = append(queries, query)
		}
	}
	return queries
}
