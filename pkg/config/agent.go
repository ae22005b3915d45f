package config

import (
	"fmt"
	"time"
)

// AgentConfig describes one LLM backend bound to a pipeline role.
// Each role maps to exactly one backend; the same endpoint may appear
// under several roles (e.g. voter and coder sharing a deployment).
type AgentConfig struct {
	// Endpoint is the base URL of an OpenAI-compatible server
	// (the client appends /v1/chat/completions).
	Endpoint string `yaml:"endpoint"`

	// Model is the model name sent in the request body.
	Model string `yaml:"model"`

	// APIKeyEnv names the environment variable holding the bearer token.
	// Empty means the endpoint is unauthenticated.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// Timeout bounds a single chat-completion call. Zero means the
	// role's built-in default (see DefaultTimeouts).
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// SystemPrompt overrides the built-in system prompt for the role.
	SystemPrompt string `yaml:"system_prompt,omitempty"`

	// Temperature is the default sampling temperature. The MAKER voter
	// overrides this per candidate.
	Temperature *float64 `yaml:"temperature,omitempty"`

	// MaxTokens caps the completion length. Zero means server default.
	MaxTokens int `yaml:"max_tokens,omitempty"`
}

// DefaultTimeouts are the per-role call timeouts applied when the YAML
// leaves Timeout unset. The coder gets the longest budget because code
// generation dominates wall-clock time; voters are kept short so a slow
// voter cannot stall consensus.
var DefaultTimeouts = map[Role]time.Duration{
	RolePreprocessor: 60 * time.Second,
	RolePlanner:      60 * time.Second,
	RoleCoder:        120 * time.Second,
	RoleVoter:        30 * time.Second,
	RoleValidator:    60 * time.Second,
}

// EffectiveTimeout returns the configured timeout, falling back to the
// role default.
func (a *AgentConfig) EffectiveTimeout(role Role) time.Duration {
	if a.Timeout > 0 {
		return a.Timeout
	}
	if d, ok := DefaultTimeouts[role]; ok {
		return d
	}
	return 60 * time.Second
}

// AgentRegistry holds the role → backend bindings.
// Built once at startup and immutable thereafter, so no locking.
type AgentRegistry struct {
	agents map[Role]*AgentConfig
}

// NewAgentRegistry creates a registry from the merged configuration map.
func NewAgentRegistry(agents map[Role]*AgentConfig) *AgentRegistry {
	if agents == nil {
		agents = make(map[Role]*AgentConfig)
	}
	return &AgentRegistry{agents: agents}
}

// Get retrieves an agent configuration by role.
func (r *AgentRegistry) Get(role Role) (*AgentConfig, error) {
	agent, ok := r.agents[role]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, role)
	}
	return agent, nil
}

// Has reports whether a role is bound to a backend.
func (r *AgentRegistry) Has(role Role) bool {
	_, ok := r.agents[role]
	return ok
}

// Len returns the number of configured agents.
func (r *AgentRegistry) Len() int {
	return len(r.agents)
}

// ConfiguredRoles returns the configured roles (order unspecified).
func (r *AgentRegistry) ConfiguredRoles() []Role {
	roles := make([]Role, 0, len(r.agents))
	for role := range r.agents {
		roles = append(roles, role)
	}
	return roles
}
