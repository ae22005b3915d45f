package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"maestro/pkg/config"
	"maestro/pkg/models"
)

// defaultListLimit bounds GET /api/tasks.
const defaultListLimit = 50

// TaskSummary is the compact listing shape; full state is one GET away.
type TaskSummary struct {
	ID        string        `json:"id"`
	Status    models.Status `json:"status"`
	Intent    models.Intent `json:"intent,omitempty"`
	Iteration int           `json:"iteration"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ListTasks handles GET /api/tasks: recent tasks, newest first.
func (s *Server) ListTasks(c *gin.Context) {
	tasks, err := s.store.List(c.Request.Context(), defaultListLimit)
	if err != nil {
		respondError(c, err)
		return
	}
	summaries := make([]TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		summaries = append(summaries, TaskSummary{
			ID:        t.ID,
			Status:    t.Status,
			Intent:    t.Intent,
			Iteration: t.Iteration,
			CreatedAt: t.CreatedAt,
			UpdatedAt: t.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"tasks": summaries})
}

// GetTask handles GET /api/task/:id: the full persisted task state.
func (s *Server) GetTask(c *gin.Context) {
	task, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// CancelTask handles POST /api/task/:id/cancel: aborts a running
// execution. The task stays resumable from its last completed stage.
func (s *Server) CancelTask(c *gin.Context) {
	id := c.Param("id")
	if !s.registry.Cancel(id) {
		c.JSON(http.StatusNotFound, errorBody{Error: errorDetail{
			Type:    "task_not_running",
			Message: "task is not currently executing",
		}})
		return
	}
	s.log.Info("Task cancelled", "task_id", id)
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// GetMelodicLine handles GET /api/task/:id/melodic-line: the task's
// reasoning chain in sequence order.
func (s *Server) GetMelodicLine(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.store.Get(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	nodes := []models.ChainNode{}
	if s.chain != nil {
		var err error
		nodes, err = s.chain.Chain(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"task_id": id, "nodes": nodes})
}

// GetAgentContext handles GET /api/task/:id/agent/:agent/context: one
// agent's persisted conversation for the task.
func (s *Server) GetAgentContext(c *gin.Context) {
	role := config.Role(c.Param("agent"))
	if !role.IsValid() {
		respondBadRequest(c, "unknown agent role: "+c.Param("agent"))
		return
	}

	task, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	records := task.Conversations[string(role)]
	if records == nil {
		records = []models.ConversationRecord{}
	}
	c.JSON(http.StatusOK, gin.H{
		"task_id": task.ID,
		"agent":   string(role),
		"records": records,
	})
}
