package config

import "time"

// Built-in default values. YAML overrides built-in, environment variables
// override YAML (see applyEnvOverrides).
const (
	// DefaultMaxInFlight caps concurrently executing tasks; above this the
	// server sheds load with a retryable 503.
	DefaultMaxInFlight = 32

	// DefaultNumCandidates is the MAKER candidate fan-out (N).
	DefaultNumCandidates = 5

	// DefaultVoteK is the MAKER consensus threshold (K). The voter budget
	// is 2K-1 so a first-to-K winner always exists when nobody abstains.
	DefaultVoteK = 3

	// DefaultMaxContextTokens is the per-agent conversation budget.
	DefaultMaxContextTokens = 100_000

	// DefaultMaxIterations bounds the code→review loop.
	DefaultMaxIterations = 3

	// DefaultTaskTTL is how long finished and in-progress task state stays
	// in the KV store.
	DefaultTaskTTL = 24 * time.Hour

	// DefaultTaskLockTTL is the soft lease held by an executing pipeline.
	DefaultTaskLockTTL = 5 * time.Minute

	// DefaultChainRenderBudget caps the rendered reasoning-chain text
	// injected into agent prompts, in characters.
	DefaultChainRenderBudget = 4000

	// DefaultToolTimeout bounds a single tool-server query.
	DefaultToolTimeout = 15 * time.Second

	// DefaultPlannerQueryBudget caps tool-server round trips per planning
	// stage.
	DefaultPlannerQueryBudget = 5
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	MaxInFlight     int           `yaml:"max_in_flight"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultServerConfig returns server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr:      ":8080",
		MaxInFlight:     DefaultMaxInFlight,
		ShutdownTimeout: 30 * time.Second,
	}
}

// MakerConfig holds voting parameters.
type MakerConfig struct {
	// Enabled toggles the whole vote stage. When false the first coder
	// candidate is accepted directly.
	Enabled *bool `yaml:"enabled,omitempty"`

	// NumCandidates is N, the parallel generation fan-out.
	NumCandidates int `yaml:"num_candidates"`

	// VoteK is K, the consensus threshold (first-to-K wins).
	VoteK int `yaml:"vote_k"`
}

// DefaultMakerConfig returns MAKER defaults.
func DefaultMakerConfig() *MakerConfig {
	return &MakerConfig{
		NumCandidates: DefaultNumCandidates,
		VoteK:         DefaultVoteK,
	}
}

// IsEnabled treats nil as enabled.
func (m *MakerConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// ContextConfig holds conversation compression settings.
type ContextConfig struct {
	MaxTokens int `yaml:"max_tokens"`
}

// DefaultContextConfig returns context defaults.
func DefaultContextConfig() *ContextConfig {
	return &ContextConfig{MaxTokens: DefaultMaxContextTokens}
}

// ChainConfig holds reasoning-chain memory settings.
type ChainConfig struct {
	Enabled      *bool `yaml:"enabled,omitempty"`
	RenderBudget int   `yaml:"render_budget"`
}

// DefaultChainConfig returns chain defaults.
func DefaultChainConfig() *ChainConfig {
	return &ChainConfig{RenderBudget: DefaultChainRenderBudget}
}

// IsEnabled treats nil as enabled.
func (c *ChainConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// TaskConfig holds pipeline/task lifecycle settings.
type TaskConfig struct {
	MaxIterations int           `yaml:"max_iterations"`
	TTL           time.Duration `yaml:"ttl"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
}

// DefaultTaskConfig returns task defaults.
func DefaultTaskConfig() *TaskConfig {
	return &TaskConfig{
		MaxIterations: DefaultMaxIterations,
		TTL:           DefaultTaskTTL,
		LockTTL:       DefaultTaskLockTTL,
	}
}

// ToolsConfig holds the optional REST tool-server settings.
// An empty endpoint disables tool use entirely.
type ToolsConfig struct {
	Endpoint    string        `yaml:"endpoint,omitempty"`
	Timeout     time.Duration `yaml:"timeout"`
	QueryBudget int           `yaml:"query_budget"`
}

// DefaultToolsConfig returns tool-server defaults.
func DefaultToolsConfig() *ToolsConfig {
	return &ToolsConfig{
		Timeout:     DefaultToolTimeout,
		QueryBudget: DefaultPlannerQueryBudget,
	}
}

// StorageConfig holds external store connection settings. Both are
// optional: without Redis task state lives in process memory, without
// Postgres the reasoning chain degrades to in-memory.
type StorageConfig struct {
	RedisURL    string `yaml:"redis_url,omitempty"`
	DatabaseURL string `yaml:"database_url,omitempty"`
}
