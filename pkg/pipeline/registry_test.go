package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/pkg/config"
	"maestro/pkg/llm"
	"maestro/pkg/models"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry(2)
	noop := func() {}

	assert.True(t, r.Register("a", noop))
	assert.False(t, r.Register("a", noop), "duplicate registration rejected")
	assert.True(t, r.Register("b", noop))
	assert.False(t, r.Register("c", noop), "limit reached")
	assert.Equal(t, 2, r.InFlight())
	assert.True(t, r.Running("a"))

	r.Unregister("a")
	assert.False(t, r.Running("a"))
	assert.True(t, r.Register("c", noop))
}

func TestRegistryCancel(t *testing.T) {
	r := NewRegistry(4)
	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, r.Register("task", cancel))

	assert.False(t, r.Cancel("unknown"))
	assert.True(t, r.Cancel("task"))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

type fakeTool struct {
	mu      sync.Mutex
	queries []string
	result  string
}

func (f *fakeTool) Query(_ context.Context, query string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return f.result, nil
}

func TestExecute_PlannerToolLoop(t *testing.T) {
	tools := &fakeTool{result: "main.py, util.py"}
	planner := &fakeClient{fn: func(call int, in *llm.GenerateInput) (string, error) {
		if call == 1 {
			return "TOOL: list repository files\n", nil
		}
		// The regeneration request carries the tool results.
		last := in.Messages[len(in.Messages)-1].Content
		if !strings.Contains(last, "main.py") {
			return "tool results missing", nil
		}
		return "1. Edit main.py\n2. Keep util.py unchanged", nil
	}}

	env := newTestEnv(testConfig(false, 3, 2), map[config.Role]llm.Client{
		config.RolePreprocessor: static(codeJSON),
		config.RolePlanner:      planner,
		config.RoleCoder:        static(addFunction),
		config.RoleVoter:        static("A"),
		config.RoleValidator:    static(approvedJSON),
	})
	eng := New(env.cfg, env.clients, env.chain, env.store, tools)
	task := eng.NewTask("Write add(a,b).", "")

	err := eng.Execute(context.Background(), task, env.rec.emit)
	require.NoError(t, err)

	assert.Equal(t, models.StatusComplete, task.Status)
	assert.Equal(t, []string{"list repository files"}, tools.queries)
	assert.Equal(t, 2, planner.callCount())
	assert.Contains(t, task.Plan, "Edit main.py")
}

func TestExecute_ChainStoreFailureIsNonFatal(t *testing.T) {
	env := newTestEnv(testConfig(false, 3, 2), map[config.Role]llm.Client{
		config.RolePreprocessor: static(codeJSON),
		config.RolePlanner:      static("1. Do the thing"),
		config.RoleCoder:        static(addFunction),
		config.RoleVoter:        static("A"),
		config.RoleValidator:    static(approvedJSON),
	})
	// No chain store at all: the pipeline runs without reasoning memory.
	eng := New(env.cfg, env.clients, nil, env.store, nil)
	task := eng.NewTask("Write add(a,b).", "")

	err := eng.Execute(context.Background(), task, env.rec.emit)
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, task.Status)
}

func TestExecute_InvalidStoredStateFails(t *testing.T) {
	env := newTestEnv(testConfig(false, 3, 2), map[config.Role]llm.Client{
		config.RolePreprocessor: static(codeJSON),
	})
	eng := env.engine()
	task := eng.NewTask("anything", "")
	// A stage history that the machine cannot continue from.
	task.Status = models.StatusCreated
	task.Stages = []models.StageResult{{Stage: models.Status("bogus")}}

	err := eng.Execute(context.Background(), task, env.rec.emit)
	require.Error(t, err)
	assert.Equal(t, models.StatusFailed, task.Status)
}
