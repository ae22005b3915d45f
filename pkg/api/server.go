// Package api exposes maestro over HTTP: the OpenAI-compatible
// chat-completions surface, task introspection and resume endpoints, and
// health/version reporting. Built on gin; streaming responses are
// server-sent events in the OpenAI chunk schema.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"maestro/pkg/config"
	"maestro/pkg/database"
	"maestro/pkg/melody"
	"maestro/pkg/pipeline"
	"maestro/pkg/taskstore"
	"maestro/pkg/version"
)

// Server wires the HTTP surface to the pipeline engine and stores.
type Server struct {
	cfg      *config.Config
	engine   *pipeline.Engine
	store    taskstore.Store
	chain    melody.Store // nil when the reasoning chain is disabled
	db       *database.Client
	registry *pipeline.Registry
	log      *slog.Logger
}

// NewServer creates the API server. db may be nil (in-memory chain);
// chain may be nil (chain disabled entirely).
func NewServer(cfg *config.Config, engine *pipeline.Engine, store taskstore.Store, chain melody.Store, db *database.Client) *Server {
	return &Server{
		cfg:      cfg,
		engine:   engine,
		store:    store,
		chain:    chain,
		db:       db,
		registry: pipeline.NewRegistry(cfg.Server.MaxInFlight),
		log:      slog.With("component", "api"),
	}
}

// Registry exposes the execution registry (used by shutdown to report
// in-flight work).
func (s *Server) Registry() *pipeline.Registry {
	return s.registry
}

// Routes builds the gin engine with all endpoints registered.
func (s *Server) Routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog())

	r.POST("/v1/chat/completions", s.ChatCompletions)
	r.GET("/v1/models", s.ListModels)

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/session/:id/resume", s.ResumeSession)
		apiGroup.GET("/tasks", s.ListTasks)
		apiGroup.GET("/task/:id", s.GetTask)
		apiGroup.POST("/task/:id/cancel", s.CancelTask)
		apiGroup.GET("/task/:id/melodic-line", s.GetMelodicLine)
		apiGroup.GET("/task/:id/agent/:agent/context", s.GetAgentContext)
		apiGroup.GET("/version", s.Version)
	}

	r.GET("/health", s.Health)
	return r
}

// ListModels handles GET /v1/models: a static list announcing the
// orchestrator.
func (s *Server) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, ModelList{
		Object: "list",
		Data: []Model{{
			ID:      version.AppName,
			Object:  "model",
			OwnedBy: version.AppName,
		}},
	})
}

// Version handles GET /api/version.
func (s *Server) Version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    version.AppName,
		"version": version.Full(),
		"commit":  version.GitCommit,
	})
}
