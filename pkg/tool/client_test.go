package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tool", r.URL.Path)
		var req toolRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "search_code", req.Tool)
		assert.Equal(t, map[string]string{"query": "usages of Foo"}, req.Args)
		fmt.Fprint(w, `{"result":"Foo is used in bar.go"}`)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, 15*time.Second)
	result, err := client.Query(context.Background(), "search_code usages of Foo")
	require.NoError(t, err)
	assert.Equal(t, "Foo is used in bar.go", result)
}

func TestBuildRequest(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected toolRequest
	}{
		{
			name:     "known tool with argument",
			query:    "read_file pkg/api/server.go",
			expected: toolRequest{Tool: "read_file", Args: map[string]string{"path": "pkg/api/server.go"}},
		},
		{
			name:     "bare tool",
			query:    "analyze_codebase",
			expected: toolRequest{Tool: "analyze_codebase", Args: map[string]string{}},
		},
		{
			name:     "unknown tool",
			query:    "summarize docs/design.md briefly",
			expected: toolRequest{Tool: "summarize", Args: map[string]string{"input": "docs/design.md briefly"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, buildRequest(tt.query))
		})
	}
}

func TestHTTPClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "kaboom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, time.Second)
	_, err := client.Query(context.Background(), "q")
	assert.ErrorIs(t, err, ErrToolUnavailable)
}

func TestHTTPClient_InvalidResult(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "garbage"},
		{name: "error field", body: `{"error":"index not built"}`},
		{name: "empty result", body: `{"result":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			client := NewHTTPClient(srv.URL, time.Second)
			_, err := client.Query(context.Background(), "q")
			assert.ErrorIs(t, err, ErrToolInvalidResult)
		})
	}
}

func TestHTTPClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, 20*time.Millisecond)
	_, err := client.Query(context.Background(), "q")
	assert.ErrorIs(t, err, ErrToolUnavailable)
}

func TestParseDirectives(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected []string
	}{
		{
			name:     "plain directive",
			text:     "TOOL: grep handler",
			expected: []string{"grep handler"},
		},
		{
			name:     "decorated lines",
			text:     "1. First I will look around\n- TOOL: list files in pkg/api\n  * tool: read main.go",
			expected: []string{"list files in pkg/api", "read main.go"},
		},
		{
			name:     "no directives",
			text:     "Just a plan.\nNothing toolish here.",
			expected: nil,
		},
		{
			name:     "empty query ignored",
			text:     "TOOL:\nTOOL:   ",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseDirectives(tt.text))
		})
	}
}
