package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"maestro/pkg/database"
)

const healthTimeout = 5 * time.Second

// Health handles GET /health: reachability of the task store and chain
// database plus the in-flight execution count. Degraded dependencies do
// not fail the probe — the service keeps working on its fallbacks — but
// an unreachable task store does.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	body := gin.H{
		"status":    "healthy",
		"in_flight": s.registry.InFlight(),
	}
	status := http.StatusOK

	if err := s.store.Ping(ctx); err != nil {
		body["status"] = "unhealthy"
		body["task_store"] = gin.H{"status": "unhealthy", "error": err.Error()}
		status = http.StatusServiceUnavailable
	} else {
		body["task_store"] = gin.H{"status": "healthy"}
	}

	if s.db != nil {
		dbHealth, err := database.Health(ctx, s.db.DB())
		body["database"] = dbHealth
		if err != nil && body["status"] == "healthy" {
			body["status"] = "degraded"
		}
	}

	c.JSON(status, body)
}
