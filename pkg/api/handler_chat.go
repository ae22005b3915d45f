package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"maestro/pkg/models"
	"maestro/pkg/pipeline"
	"maestro/pkg/taskstore"
)

// ChatCompletions handles POST /v1/chat/completions: allocates a task for
// the last user message and runs the pipeline, streaming or collecting
// per the request.
func (s *Server) ChatCompletions(c *gin.Context) {
	var req ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	content := req.UserContent()
	if strings.TrimSpace(content) == "" {
		respondBadRequest(c, "messages must include a non-empty user message")
		return
	}

	task := s.engine.NewTask(content, req.Model)
	s.log.Info("Task created", "task_id", task.ID, "stream", req.Stream, "request_id", c.GetString("request_id"))
	s.runTask(c, task, req.Stream, modelName(req.Model))
}

// ResumeSession handles POST /api/session/:id/resume: reattaches to a
// persisted task. Terminal tasks return their existing artifact without
// re-execution; in-progress tasks resume from the last completed stage.
func (s *Server) ResumeSession(c *gin.Context) {
	id := c.Param("id")
	task, err := s.store.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	// Body is optional: {"stream": bool} or nothing at all.
	var req struct {
		Stream bool `json:"stream"`
	}
	_ = c.ShouldBindJSON(&req)

	if task.Status.IsTerminal() {
		s.respondTerminal(c, task, req.Stream)
		return
	}
	if s.registry.Running(id) {
		respondError(c, fmt.Errorf("task %s is already executing: %w", id, taskstore.ErrTaskLocked))
		return
	}

	s.log.Info("Task resumed", "task_id", task.ID, "status", task.Status, "request_id", c.GetString("request_id"))
	s.runTask(c, task, req.Stream, modelName(task.Model))
}

// runTask executes the pipeline for a task, holding the execution lease
// and registry slot for the duration. Client disconnect cancels the task
// context; the per-stage persistence keeps it resumable.
func (s *Server) runTask(c *gin.Context, task *models.TaskState, stream bool, model string) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	if !s.registry.Register(task.ID, cancel) {
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, errorBody{Error: errorDetail{
			Type:    "server_busy",
			Message: "too many in-flight tasks, retry later",
		}})
		return
	}
	defer s.registry.Unregister(task.ID)

	if err := s.store.AcquireLock(ctx, task.ID); err != nil {
		respondError(c, err)
		return
	}
	defer func() {
		if err := s.store.ReleaseLock(context.WithoutCancel(ctx), task.ID); err != nil {
			s.log.Warn("Failed to release task lease", "task_id", task.ID, "error", err)
		}
	}()

	if !stream {
		if err := s.engine.Execute(ctx, task, nil); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, newResponse(newCompletionID(), model, task.Artifact, "stop"))
		return
	}

	id := newCompletionID()
	out := newSSEStream(c)
	emit := func(u pipeline.StreamUnit) {
		out.send(newChunk(id, model, u.Text()))
	}

	// The error, if any, already reached the client as an [ERROR] unit;
	// the SSE stream always terminates cleanly.
	if err := s.engine.Execute(ctx, task, emit); err != nil {
		s.log.Warn("Streamed task ended with error", "task_id", task.ID, "error", err)
	}
	out.send(newFinishChunk(id, model, "stop"))
	out.done()
}

// respondTerminal replays a finished task's artifact in the requested
// response shape.
func (s *Server) respondTerminal(c *gin.Context, task *models.TaskState, stream bool) {
	id := newCompletionID()
	model := modelName(task.Model)
	content := task.Artifact
	if task.Status != models.StatusComplete && content == "" {
		content = "[ERROR] " + task.Error
	}

	if !stream {
		c.JSON(http.StatusOK, newResponse(id, model, content, "stop"))
		return
	}
	out := newSSEStream(c)
	out.send(newChunk(id, model, content))
	out.send(newFinishChunk(id, model, "stop"))
	out.done()
}

// sseStream serializes SSE writes. MAKER progress events arrive from
// generator goroutines, so concurrent sends must not interleave.
type sseStream struct {
	mu sync.Mutex
	c  *gin.Context
}

func newSSEStream(c *gin.Context) *sseStream {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeaderNow()
	return &sseStream{c: c}
}

func (s *sseStream) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.c.Writer, "data: %s\n\n", data)
	s.c.Writer.Flush()
}

func (s *sseStream) done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprint(s.c.Writer, "data: [DONE]\n\n")
	s.c.Writer.Flush()
}
