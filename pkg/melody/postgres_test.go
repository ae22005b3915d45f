package melody_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/pkg/melody"
	"maestro/pkg/models"
	"maestro/test/util"
)

func setupStore(t *testing.T) *melody.PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database integration test in short mode")
	}
	db := util.SetupTestDatabase(t)
	return melody.NewPostgresStore(db)
}

func TestPostgresStore_RecordAndChain(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.OpenTask(ctx, "t1"))
	require.NoError(t, store.OpenTask(ctx, "t1")) // idempotent

	n1 := &models.ChainNode{TaskID: "t1", NodeID: "n1", Agent: "planner", Stage: "planning", Content: "chose approach"}
	n2 := &models.ChainNode{TaskID: "t1", NodeID: "n2", Agent: "coder", Stage: "coding", Content: "implemented it"}
	require.NoError(t, store.Record(ctx, n1))
	require.NoError(t, store.Record(ctx, n2))
	assert.Equal(t, 1, n1.Seq)
	assert.Equal(t, 2, n2.Seq)

	chain, err := store.Chain(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "chose approach", chain[0].Content)
	assert.Equal(t, 2, chain[1].Seq)
	assert.False(t, chain[0].CreatedAt.IsZero())
}

func TestPostgresStore_DuplicateNodeRejected(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.OpenTask(ctx, "t1"))

	require.NoError(t, store.Record(ctx, &models.ChainNode{TaskID: "t1", NodeID: "n1", Agent: "planner", Stage: "planning", Content: "x"}))
	err := store.Record(ctx, &models.ChainNode{TaskID: "t1", NodeID: "n1", Agent: "coder", Stage: "coding", Content: "y"})
	assert.ErrorIs(t, err, melody.ErrDuplicateNode)
}

func TestPostgresStore_RecordRequiresOpenTask(t *testing.T) {
	store := setupStore(t)
	err := store.Record(context.Background(), &models.ChainNode{TaskID: "ghost", NodeID: "n1", Agent: "planner", Stage: "planning", Content: "x"})
	assert.ErrorIs(t, err, melody.ErrTaskNotOpen)
}

func TestPostgresStore_UnknownTaskEmptyChain(t *testing.T) {
	store := setupStore(t)
	chain, err := store.Chain(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, chain)
}
