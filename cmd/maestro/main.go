// Maestro orchestrator server — OpenAI-compatible HTTP surface driving a
// fleet of LLM agents through the staged code-assistant pipeline.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"maestro/pkg/api"
	"maestro/pkg/config"
	"maestro/pkg/database"
	"maestro/pkg/llm"
	"maestro/pkg/melody"
	"maestro/pkg/pipeline"
	"maestro/pkg/taskstore"
	"maestro/pkg/tool"
	"maestro/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// buildClients constructs one LLM client per configured role.
func buildClients(cfg *config.Config) map[config.Role]llm.Client {
	clients := make(map[config.Role]llm.Client)
	for _, role := range cfg.AgentRegistry.ConfiguredRoles() {
		agent, err := cfg.AgentRegistry.Get(role)
		if err != nil {
			continue
		}
		apiKey := ""
		if agent.APIKeyEnv != "" {
			apiKey = os.Getenv(agent.APIKeyEnv)
			if apiKey == "" {
				slog.Warn("API key env var is empty, calling unauthenticated",
					"agent", role, "env", agent.APIKeyEnv)
			}
		}
		clients[role] = llm.NewHTTPClient(llm.ClientConfig{
			Agent:       string(role),
			Endpoint:    agent.Endpoint,
			Model:       agent.Model,
			APIKey:      apiKey,
			Timeout:     agent.EffectiveTimeout(role),
			Temperature: agent.Temperature,
			MaxTokens:   agent.MaxTokens,
		})
	}
	return clients
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env from the config directory; absence is fine.
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "path", envPath)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting maestro", "version", version.Full(), "config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	stats := cfg.Stats()
	slog.Info("Configuration loaded",
		"agents", stats.Agents,
		"validator_mode", stats.ValidatorMode,
		"maker", stats.MakerEnabled,
		"chain", stats.ChainEnabled)

	// 2. Task store: Redis when configured, in-process memory otherwise.
	storeOpts := taskstore.Options{TTL: cfg.Task.TTL, LockTTL: cfg.Task.LockTTL}
	var store taskstore.Store
	if cfg.Storage.RedisURL != "" {
		redisStore, err := taskstore.NewRedisStore(ctx, cfg.Storage.RedisURL, storeOpts)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		store = redisStore
		slog.Info("Task store: Redis")
	} else {
		store = taskstore.NewMemoryStore(storeOpts)
		slog.Warn("Task store: in-memory (tasks do not survive restarts; set REDIS_URL for durability)")
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Error closing task store", "error", err)
		}
	}()

	// 3. Reasoning-chain store: Postgres when configured, else in-memory.
	// The chain is an enhancement — a broken database degrades, never blocks.
	var chain melody.Store
	var dbClient *database.Client
	if cfg.Chain.IsEnabled() {
		if cfg.Storage.DatabaseURL != "" {
			dbClient, err = database.NewClient(ctx, database.DefaultConfig(cfg.Storage.DatabaseURL))
			if err != nil {
				slog.Warn("Failed to connect to PostgreSQL, reasoning chain falls back to memory", "error", err)
				chain = melody.NewMemoryStore()
			} else {
				chain = melody.NewPostgresStore(dbClient.DB())
				slog.Info("Reasoning chain: PostgreSQL")
			}
		} else {
			chain = melody.NewMemoryStore()
			slog.Info("Reasoning chain: in-memory (set DATABASE_URL for durability)")
		}
	} else {
		slog.Info("Reasoning chain disabled")
	}
	if dbClient != nil {
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
	}

	// 4. LLM clients, one per configured agent role.
	clients := buildClients(cfg)
	defer func() {
		for _, c := range clients {
			_ = c.Close()
		}
	}()
	slog.Info("LLM clients initialized", "count", len(clients))

	// 5. Optional tool server for the planner.
	var tools tool.Client
	if cfg.Tools.Endpoint != "" {
		tools = tool.NewHTTPClient(cfg.Tools.Endpoint, cfg.Tools.Timeout)
		slog.Info("Tool server configured", "endpoint", cfg.Tools.Endpoint)
	}

	// 6. Pipeline engine and HTTP server.
	engine := pipeline.New(cfg, clients, chain, store, tools)
	server := api.NewServer(cfg, engine, store, chain, dbClient)

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: server.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// 7. Wait for shutdown signal or server error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown. In-flight pipelines persist per stage, so
	// anything cut off here resumes from its last completed stage.
	inFlight := server.Registry().InFlight()
	if inFlight > 0 {
		slog.Info("Shutting down with in-flight tasks; they stay resumable", "in_flight", inFlight)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
