package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"maestro/pkg/llm"
	"maestro/pkg/pipeline"
	"maestro/pkg/taskstore"
)

// errorBody is the {error:{type, message}} envelope all error responses use.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// respondError maps internal errors to HTTP responses.
func respondError(c *gin.Context, err error) {
	status, kind := classifyError(err)
	if status == http.StatusInternalServerError {
		slog.Error("Unexpected API error", "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(status, errorBody{Error: errorDetail{Type: kind, Message: err.Error()}})
}

// respondBadRequest reports a malformed client payload.
func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorBody{Error: errorDetail{Type: "bad_request", Message: message}})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, taskstore.ErrTaskNotFound):
		return http.StatusNotFound, "task_not_found"
	case errors.Is(err, taskstore.ErrTaskLocked):
		return http.StatusConflict, "task_locked"
	case errors.Is(err, llm.ErrAgentTimeout):
		return http.StatusRequestTimeout, "agent_timeout"
	case errors.Is(err, llm.ErrAgentUnavailable):
		return http.StatusServiceUnavailable, "agent_unavailable"
	case errors.Is(err, pipeline.ErrMaxIterationsExceeded):
		return http.StatusInternalServerError, "max_iterations_exceeded"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
