// Package taskstore persists task state in a key-value store with TTL.
//
// Keys follow the scheme task:{id} for state and task:{id}:lock for the
// execution lease. The lease is a soft lock: it prevents two live
// executions (including resume racing a running pipeline) but expires on
// its own if the holder crashes, so an orphaned task becomes resumable
// after at most the lease TTL.
package taskstore

import (
	"context"
	"errors"
	"time"

	"maestro/pkg/models"
)

var (
	// ErrTaskNotFound indicates no state exists under the task id (never
	// created, or expired).
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskLocked indicates another execution holds the task lease.
	ErrTaskLocked = errors.New("task is locked by another execution")
)

// Store persists task state.
type Store interface {
	// Save writes the full task state, refreshing its TTL.
	Save(ctx context.Context, task *models.TaskState) error

	// Get loads a task's state. Returns ErrTaskNotFound for unknown ids.
	Get(ctx context.Context, id string) (*models.TaskState, error)

	// List returns up to limit recent task states, newest first.
	List(ctx context.Context, limit int) ([]*models.TaskState, error)

	// AcquireLock takes the execution lease for a task. Returns
	// ErrTaskLocked when another execution holds it.
	AcquireLock(ctx context.Context, id string) error

	// ReleaseLock drops the lease. Releasing an unheld lease is a no-op.
	ReleaseLock(ctx context.Context, id string) error

	// Ping checks store reachability for health reporting.
	Ping(ctx context.Context) error

	// Close releases store resources.
	Close() error
}

// Options configure a store's TTL behavior.
type Options struct {
	// TTL applies to task state keys.
	TTL time.Duration

	// LockTTL applies to execution leases.
	LockTTL time.Duration
}
