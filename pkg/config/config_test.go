package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "maestro.yaml"), []byte(content), 0o644))
	return dir
}

const minimalYAML = `
agents:
  preprocessor:
    endpoint: http://localhost:9001
    model: small-1
  planner:
    endpoint: http://localhost:9002
    model: big-1
  coder:
    endpoint: http://localhost:9003
    model: code-1
  voter:
    endpoint: http://localhost:9001
    model: small-1
`

func TestInitialize_Minimal(t *testing.T) {
	dir := writeConfig(t, minimalYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, DefaultNumCandidates, cfg.Maker.NumCandidates)
	assert.Equal(t, DefaultVoteK, cfg.Maker.VoteK)
	assert.Equal(t, DefaultMaxContextTokens, cfg.Context.MaxTokens)
	assert.Equal(t, DefaultMaxIterations, cfg.Task.MaxIterations)
	assert.Equal(t, DefaultTaskTTL, cfg.Task.TTL)
	assert.Equal(t, ValidatorModeHigh, cfg.ValidatorMode)
	assert.True(t, cfg.Maker.IsEnabled())
	assert.True(t, cfg.Chain.IsEnabled())
	assert.Equal(t, 4, cfg.AgentRegistry.Len())
}

func TestInitialize_MissingFileUsesEnv(t *testing.T) {
	t.Setenv("AGENT_PREPROCESSOR_URL", "http://localhost:9001")
	t.Setenv("AGENT_PREPROCESSOR_MODEL", "small-1")
	t.Setenv("AGENT_PLANNER_URL", "http://localhost:9002")
	t.Setenv("AGENT_PLANNER_MODEL", "big-1")
	t.Setenv("AGENT_CODER_URL", "http://localhost:9003")
	t.Setenv("AGENT_CODER_MODEL", "code-1")
	t.Setenv("MAKER_ENABLED", "off")
	t.Setenv("MAKER_MODE", "low")

	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.False(t, cfg.Maker.IsEnabled())
	assert.Equal(t, ValidatorModeLow, cfg.ValidatorMode)
	agent, err := cfg.GetAgent(RoleCoder)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9003", agent.Endpoint)
}

func TestInitialize_EnvOverridesYAML(t *testing.T) {
	dir := writeConfig(t, minimalYAML+`
maker:
  num_candidates: 7
  vote_k: 2
`)
	t.Setenv("MAKER_NUM_CANDIDATES", "3")
	t.Setenv("MAX_CONTEXT_TOKENS", "50000")
	t.Setenv("TASK_TTL_SECONDS", "3600")
	t.Setenv("ENABLE_REASONING_CHAIN", "false")
	t.Setenv("AGENT_CODER_TIMEOUT", "90s")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Maker.NumCandidates)
	assert.Equal(t, 2, cfg.Maker.VoteK)
	assert.Equal(t, 50000, cfg.Context.MaxTokens)
	assert.Equal(t, time.Hour, cfg.Task.TTL)
	assert.False(t, cfg.Chain.IsEnabled())

	coder, err := cfg.GetAgent(RoleCoder)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, coder.Timeout)
}

func TestInitialize_InvalidEnvIgnored(t *testing.T) {
	dir := writeConfig(t, minimalYAML)
	t.Setenv("MAKER_NUM_CANDIDATES", "banana")
	t.Setenv("TASK_TTL_SECONDS", "-5")
	t.Setenv("MAKER_MODE", "sideways")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, DefaultNumCandidates, cfg.Maker.NumCandidates)
	assert.Equal(t, DefaultTaskTTL, cfg.Task.TTL)
	assert.Equal(t, ValidatorModeHigh, cfg.ValidatorMode)
}

func TestInitialize_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing required role",
			yaml: `
agents:
  planner:
    endpoint: http://localhost:9002
    model: big-1
`,
		},
		{
			name: "agent without model",
			yaml: `
agents:
  preprocessor:
    endpoint: http://localhost:9001
`,
		},
		{
			name: "unknown role",
			yaml: minimalYAML + `
  sommelier:
    endpoint: http://localhost:9009
    model: wine-1
`,
		},
		{
			name: "too few candidates",
			yaml: minimalYAML + `
maker:
  num_candidates: 1
`,
		},
		{
			name: "pool below voter budget",
			yaml: minimalYAML + `
maker:
  num_candidates: 3
  vote_k: 3
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeConfig(t, tt.yaml)
			_, err := Initialize(context.Background(), dir)
			assert.Error(t, err)
		})
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("MAESTRO_TEST_KEY", "sk-test-123")

	out := ExpandEnv([]byte("api_key: {{.MAESTRO_TEST_KEY}}"))
	assert.Equal(t, "api_key: sk-test-123", string(out))

	// Missing variables expand to empty.
	out = ExpandEnv([]byte("api_key: {{.MAESTRO_TEST_ABSENT_VAR}}"))
	assert.Equal(t, "api_key: ", string(out))

	// Literal $ untouched.
	out = ExpandEnv([]byte("pattern: ^secret.*$"))
	assert.Equal(t, "pattern: ^secret.*$", string(out))
}

func TestEffectiveTimeout(t *testing.T) {
	a := &AgentConfig{}
	assert.Equal(t, 120*time.Second, a.EffectiveTimeout(RoleCoder))
	assert.Equal(t, 30*time.Second, a.EffectiveTimeout(RoleVoter))
	assert.Equal(t, 60*time.Second, a.EffectiveTimeout(RolePlanner))

	a.Timeout = 5 * time.Second
	assert.Equal(t, 5*time.Second, a.EffectiveTimeout(RoleCoder))
}

func TestSystemPromptOverride(t *testing.T) {
	dir := writeConfig(t, minimalYAML+`
  validator:
    endpoint: http://localhost:9004
    model: review-1
    system_prompt: "house rules"
`)
	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "house rules", cfg.SystemPrompt(RoleValidator))
	assert.NotEmpty(t, cfg.SystemPrompt(RoleCoder))
	assert.NotEqual(t, "house rules", cfg.SystemPrompt(RoleCoder))
}
