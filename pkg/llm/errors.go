package llm

import (
	"errors"
	"fmt"
)

// Sentinel errors classify agent call failures. Wrap with AgentError to
// attach the agent tag; match with errors.Is.
var (
	// ErrAgentUnavailable indicates the backend could not be reached or
	// returned a server error after retry.
	ErrAgentUnavailable = errors.New("agent unavailable")

	// ErrAgentTimeout indicates the call exceeded its deadline.
	ErrAgentTimeout = errors.New("agent timeout")

	// ErrAgentMalformedResponse indicates the backend answered with a body
	// the client could not interpret.
	ErrAgentMalformedResponse = errors.New("agent returned malformed response")
)

// AgentError attaches the agent tag and HTTP status (when known) to a
// classified failure.
type AgentError struct {
	Agent  string
	Status int // 0 when no HTTP status applies
	Err    error
}

// Error returns formatted error message
func (e *AgentError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("agent %s: %v (status %d)", e.Agent, e.Err, e.Status)
	}
	return fmt.Sprintf("agent %s: %v", e.Agent, e.Err)
}

// Unwrap returns the underlying error
func (e *AgentError) Unwrap() error {
	return e.Err
}

// NewAgentError creates an AgentError wrapping cause classified as kind.
func NewAgentError(agent string, kind error, status int, cause error) *AgentError {
	if cause != nil {
		return &AgentError{Agent: agent, Status: status, Err: fmt.Errorf("%w: %v", kind, cause)}
	}
	return &AgentError{Agent: agent, Status: status, Err: kind}
}

// ErrorKind maps an error to its taxonomy label for logs and spans.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAgentTimeout):
		return "timeout"
	case errors.Is(err, ErrAgentUnavailable):
		return "unavailable"
	case errors.Is(err, ErrAgentMalformedResponse):
		return "malformed"
	default:
		return "other"
	}
}
