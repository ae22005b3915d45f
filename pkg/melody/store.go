// Package melody implements per-task reasoning-chain memory: an append-only
// log of reasoning nodes forming a linear chain (the task's melodic line).
// The chain is injected into downstream agent prompts so later stages see
// the reasoning that led to the current state.
//
// Two stores exist: a PostgreSQL-backed durable store and an in-memory
// fallback used when no database is configured or reachable. The pipeline
// treats chain failures as non-fatal — a task never dies because its
// melodic line could not be written.
package melody

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"maestro/pkg/models"
)

var (
	// ErrDuplicateNode indicates a (task_id, node_id) pair was recorded twice.
	ErrDuplicateNode = errors.New("duplicate chain node")

	// ErrTaskNotOpen indicates Record was called before OpenTask.
	ErrTaskNotOpen = errors.New("task not open in chain store")
)

// Store persists reasoning chains.
type Store interface {
	// OpenTask registers a task with the store. Idempotent.
	OpenTask(ctx context.Context, taskID string) error

	// Record appends a node to the task's chain. The store assigns the
	// sequence number; (TaskID, NodeID) must be unique.
	Record(ctx context.Context, node *models.ChainNode) error

	// Chain returns all nodes of a task in sequence order. An unknown
	// task yields an empty chain, not an error.
	Chain(ctx context.Context, taskID string) ([]models.ChainNode, error)

	// Close releases store resources.
	Close() error
}

// Render formats a chain for prompt injection, newest nodes last, within a
// character budget. When the chain exceeds the budget the oldest nodes are
// elided — recent reasoning matters most to the next stage.
func Render(nodes []models.ChainNode, budget int) string {
	if len(nodes) == 0 {
		return ""
	}

	lines := make([]string, len(nodes))
	total := 0
	for i, n := range nodes {
		lines[i] = fmt.Sprintf("%d. [%s/%s] %s", n.Seq, n.Agent, n.Stage, n.Content)
		total += len(lines[i]) + 1
	}

	start := 0
	const elision = "(earlier reasoning elided)\n"
	for start < len(lines)-1 && total+len(elision) > budget {
		total -= len(lines[start]) + 1
		start++
	}

	var sb strings.Builder
	if start > 0 {
		sb.WriteString(elision)
	}
	for _, line := range lines[start:] {
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	out := sb.String()
	if len(out) > budget {
		// A single oversized node: hard cut.
		out = out[:budget]
	}
	return out
}
