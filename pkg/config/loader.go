package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// MaestroYAMLConfig represents the complete maestro.yaml file structure
type MaestroYAMLConfig struct {
	Server        *ServerConfig           `yaml:"server"`
	Maker         *MakerConfig            `yaml:"maker"`
	Context       *ContextConfig          `yaml:"context"`
	Chain         *ChainConfig            `yaml:"chain"`
	Task          *TaskConfig             `yaml:"task"`
	Tools         *ToolsConfig            `yaml:"tools"`
	Storage       *StorageConfig          `yaml:"storage"`
	ValidatorMode ValidatorMode           `yaml:"validator_mode"`
	Agents        map[Role]*AgentConfig   `yaml:"agents"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load maestro.yaml from configDir (tolerated missing: defaults + env)
//  2. Expand environment variables ({{.VAR}} syntax)
//  3. Merge YAML over built-in defaults
//  4. Apply environment variable overrides
//  5. Build the agent registry
//  6. Validate all configuration
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"agents", stats.Agents,
		"validator_mode", stats.ValidatorMode,
		"maker_enabled", stats.MakerEnabled,
		"chain_enabled", stats.ChainEnabled)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	yamlCfg, err := loader.loadMaestroYAML()
	if err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			// Env-only deployments are supported: defaults + overrides.
			slog.Warn("maestro.yaml not found, using defaults and environment", "config_dir", configDir)
			yamlCfg = &MaestroYAMLConfig{Agents: make(map[Role]*AgentConfig)}
		} else {
			return nil, NewLoadError("maestro.yaml", err)
		}
	}

	// Merge YAML sections over built-in defaults (non-zero values override).
	server := DefaultServerConfig()
	maker := DefaultMakerConfig()
	contextCfg := DefaultContextConfig()
	chain := DefaultChainConfig()
	task := DefaultTaskConfig()
	tools := DefaultToolsConfig()
	storage := &StorageConfig{}
	if yamlCfg.Server != nil {
		if err := mergo.Merge(server, yamlCfg.Server, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge server config: %w", err)
		}
	}
	if yamlCfg.Maker != nil {
		if err := mergo.Merge(maker, yamlCfg.Maker, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge maker config: %w", err)
		}
	}
	if yamlCfg.Context != nil {
		if err := mergo.Merge(contextCfg, yamlCfg.Context, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge context config: %w", err)
		}
	}
	if yamlCfg.Chain != nil {
		if err := mergo.Merge(chain, yamlCfg.Chain, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge chain config: %w", err)
		}
	}
	if yamlCfg.Task != nil {
		if err := mergo.Merge(task, yamlCfg.Task, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge task config: %w", err)
		}
	}
	if yamlCfg.Tools != nil {
		if err := mergo.Merge(tools, yamlCfg.Tools, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge tools config: %w", err)
		}
	}
	if yamlCfg.Storage != nil {
		if err := mergo.Merge(storage, yamlCfg.Storage, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge storage config: %w", err)
		}
	}

	validatorMode := yamlCfg.ValidatorMode
	if validatorMode == "" {
		validatorMode = ValidatorModeHigh
	}

	cfg := &Config{
		configDir:     configDir,
		Server:        server,
		Maker:         maker,
		Context:       contextCfg,
		Chain:         chain,
		Task:          task,
		Tools:         tools,
		Storage:       storage,
		ValidatorMode: validatorMode,
		AgentRegistry: NewAgentRegistry(yamlCfg.Agents),
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies recognized environment variables on top of the
// merged configuration. Invalid values are logged and ignored rather than
// failing startup.
func applyEnvOverrides(cfg *Config) {
	// MAKER_MODE selects the validator implementation (high = dedicated
	// Validator agent, low = planner self-reflection); VALIDATOR_MODE is
	// an accepted alias.
	for _, name := range []string{"MAKER_MODE", "VALIDATOR_MODE"} {
		if v := os.Getenv(name); v != "" {
			mode := ValidatorMode(strings.ToLower(v))
			if mode.IsValid() {
				cfg.ValidatorMode = mode
			} else {
				slog.Warn("Ignoring invalid validator mode override", "var", name, "value", v)
			}
		}
	}
	if v := os.Getenv("MAKER_ENABLED"); v != "" {
		enabled := !(strings.EqualFold(v, "false") || v == "0" || strings.EqualFold(v, "off"))
		cfg.Maker.Enabled = &enabled
	}
	overrideInt("MAKER_NUM_CANDIDATES", &cfg.Maker.NumCandidates)
	overrideInt("MAKER_VOTE_K", &cfg.Maker.VoteK)
	overrideInt("MAX_CONTEXT_TOKENS", &cfg.Context.MaxTokens)
	overrideInt("MAX_ITERATIONS", &cfg.Task.MaxIterations)

	if v := os.Getenv("TASK_TTL_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Task.TTL = time.Duration(secs) * time.Second
		} else {
			slog.Warn("Ignoring invalid TASK_TTL_SECONDS", "value", v)
		}
	}
	if v := os.Getenv("ENABLE_REASONING_CHAIN"); v != "" {
		enabled := !(strings.EqualFold(v, "false") || v == "0" || strings.EqualFold(v, "off"))
		cfg.Chain.Enabled = &enabled
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Storage.RedisURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("TOOL_SERVER_URL"); v != "" {
		cfg.Tools.Endpoint = v
	}

	// Per-agent endpoint and timeout overrides:
	//   AGENT_CODER_URL, AGENT_CODER_MODEL, AGENT_CODER_TIMEOUT (duration)
	for _, role := range Roles {
		prefix := "AGENT_" + strings.ToUpper(string(role)) + "_"
		url := os.Getenv(prefix + "URL")
		model := os.Getenv(prefix + "MODEL")
		timeout := os.Getenv(prefix + "TIMEOUT")
		if url == "" && model == "" && timeout == "" {
			continue
		}
		agent := cfg.AgentRegistry.agents[role]
		if agent == nil {
			agent = &AgentConfig{}
			cfg.AgentRegistry.agents[role] = agent
		}
		if url != "" {
			agent.Endpoint = url
		}
		if model != "" {
			agent.Model = model
		}
		if timeout != "" {
			if d, err := time.ParseDuration(timeout); err == nil && d > 0 {
				agent.Timeout = d
			} else {
				slog.Warn("Ignoring invalid agent timeout override", "var", prefix+"TIMEOUT", "value", timeout)
			}
		}
	}
}

func overrideInt(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("Ignoring invalid integer override", "var", name, "value", v)
		return
	}
	*dst = n
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadMaestroYAML() (*MaestroYAMLConfig, error) {
	var config MaestroYAMLConfig
	config.Agents = make(map[Role]*AgentConfig)

	if err := l.loadYAML("maestro.yaml", &config); err != nil {
		return nil, err
	}

	return &config, nil
}
