// Package config loads and validates maestro configuration.
//
// Configuration comes from three layers, later layers overriding earlier:
//  1. Built-in defaults (defaults.go)
//  2. maestro.yaml in the config directory ({{.VAR}} env expansion applied)
//  3. Environment variables (MAKER_*, MAX_CONTEXT_TOKENS, AGENT_<ROLE>_URL, ...)
//
// The resulting Config and its registries are built once at startup and
// immutable thereafter: safe for concurrent reads without locking.
package config

// Config is the root configuration object.
type Config struct {
	configDir string

	Server        *ServerConfig
	Maker         *MakerConfig
	Context       *ContextConfig
	Chain         *ChainConfig
	Task          *TaskConfig
	Tools         *ToolsConfig
	Storage       *StorageConfig
	ValidatorMode ValidatorMode

	AgentRegistry *AgentRegistry
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Stats summarizes loaded configuration for startup logging.
type Stats struct {
	Agents        int
	ValidatorMode ValidatorMode
	MakerEnabled  bool
	ChainEnabled  bool
}

// Stats returns configuration statistics.
func (c *Config) Stats() Stats {
	s := Stats{
		ValidatorMode: c.ValidatorMode,
		MakerEnabled:  c.Maker.IsEnabled(),
		ChainEnabled:  c.Chain.IsEnabled(),
	}
	if c.AgentRegistry != nil {
		s.Agents = c.AgentRegistry.Len()
	}
	return s
}

// GetAgent retrieves an agent configuration by role.
// This is a convenience method that wraps AgentRegistry.Get().
func (c *Config) GetAgent(role Role) (*AgentConfig, error) {
	return c.AgentRegistry.Get(role)
}
