package melody

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/pkg/models"
)

func TestMemoryStore_RecordAndChain(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.OpenTask(ctx, "t1"))
	// OpenTask is idempotent.
	require.NoError(t, store.OpenTask(ctx, "t1"))

	n1 := &models.ChainNode{TaskID: "t1", NodeID: "n1", Agent: "planner", Stage: "planning", Content: "first"}
	n2 := &models.ChainNode{TaskID: "t1", NodeID: "n2", Agent: "coder", Stage: "coding", Content: "second"}
	require.NoError(t, store.Record(ctx, n1))
	require.NoError(t, store.Record(ctx, n2))

	assert.Equal(t, 1, n1.Seq)
	assert.Equal(t, 2, n2.Seq)

	chain, err := store.Chain(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "first", chain[0].Content)
	assert.Equal(t, "second", chain[1].Content)
	assert.False(t, chain[0].CreatedAt.IsZero())
}

func TestMemoryStore_DuplicateNodeRejected(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.OpenTask(ctx, "t1"))

	node := &models.ChainNode{TaskID: "t1", NodeID: "n1", Agent: "planner", Stage: "planning", Content: "x"}
	require.NoError(t, store.Record(ctx, node))

	dup := &models.ChainNode{TaskID: "t1", NodeID: "n1", Agent: "coder", Stage: "coding", Content: "y"}
	err := store.Record(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateNode)

	chain, err := store.Chain(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, chain, 1)
}

func TestMemoryStore_RecordRequiresOpenTask(t *testing.T) {
	store := NewMemoryStore()
	node := &models.ChainNode{TaskID: "never-opened", NodeID: "n1"}
	err := store.Record(context.Background(), node)
	assert.ErrorIs(t, err, ErrTaskNotOpen)
}

func TestMemoryStore_UnknownTaskEmptyChain(t *testing.T) {
	store := NewMemoryStore()
	chain, err := store.Chain(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestMemoryStore_TasksIsolated(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.OpenTask(ctx, "a"))
	require.NoError(t, store.OpenTask(ctx, "b"))

	// Same node id in different tasks is fine.
	require.NoError(t, store.Record(ctx, &models.ChainNode{TaskID: "a", NodeID: "n1", Content: "for a"}))
	require.NoError(t, store.Record(ctx, &models.ChainNode{TaskID: "b", NodeID: "n1", Content: "for b"}))

	chainA, _ := store.Chain(ctx, "a")
	chainB, _ := store.Chain(ctx, "b")
	assert.Equal(t, "for a", chainA[0].Content)
	assert.Equal(t, "for b", chainB[0].Content)
}

func TestRender(t *testing.T) {
	t.Run("empty chain", func(t *testing.T) {
		assert.Equal(t, "", Render(nil, 4000))
	})

	t.Run("within budget", func(t *testing.T) {
		nodes := []models.ChainNode{
			{Seq: 1, Agent: "planner", Stage: "planning", Content: "decided on approach X"},
			{Seq: 2, Agent: "coder", Stage: "coding", Content: "implemented X"},
		}
		out := Render(nodes, 4000)
		assert.Contains(t, out, "1. [planner/planning] decided on approach X")
		assert.Contains(t, out, "2. [coder/coding] implemented X")
		// Chronological order.
		assert.Less(t, strings.Index(out, "1. "), strings.Index(out, "2. "))
	})

	t.Run("elides oldest over budget", func(t *testing.T) {
		var nodes []models.ChainNode
		for i := 1; i <= 50; i++ {
			nodes = append(nodes, models.ChainNode{
				Seq: i, Agent: "coder", Stage: "coding",
				Content: fmt.Sprintf("step %d %s", i, strings.Repeat("x", 100)),
			})
		}
		out := Render(nodes, 1000)
		assert.LessOrEqual(t, len(out), 1000)
		assert.True(t, strings.HasPrefix(out, "(earlier reasoning elided)"))
		// The newest node always survives.
		assert.Contains(t, out, "step 50")
		assert.NotContains(t, out, "step 1 ")
	})

	t.Run("single oversized node hard cut", func(t *testing.T) {
		nodes := []models.ChainNode{{Seq: 1, Agent: "coder", Stage: "coding", Content: strings.Repeat("y", 5000)}}
		out := Render(nodes, 100)
		assert.Len(t, out, 100)
	})
}
