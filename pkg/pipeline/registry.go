package pipeline

import (
	"context"
	"sync"
)

// Registry tracks running task executions: their cancel functions for
// explicit cancellation and the in-flight count for load shedding.
type Registry struct {
	mu      sync.RWMutex
	cancels map[string]context.CancelFunc
	limit   int
}

// NewRegistry creates a registry with the given in-flight limit.
func NewRegistry(limit int) *Registry {
	return &Registry{
		cancels: make(map[string]context.CancelFunc),
		limit:   limit,
	}
}

// Register records a running execution. Returns false when the in-flight
// limit is reached or the task is already registered; the caller sheds
// load with a retryable error.
func (r *Registry) Register(taskID string, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cancels) >= r.limit {
		return false
	}
	if _, exists := r.cancels[taskID]; exists {
		return false
	}
	r.cancels[taskID] = cancel
	return true
}

// Unregister removes a finished execution.
func (r *Registry) Unregister(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, taskID)
}

// Cancel aborts a running execution. Returns false when the task is not
// currently executing.
func (r *Registry) Cancel(taskID string) bool {
	r.mu.RLock()
	cancel, ok := r.cancels[taskID]
	r.mu.RUnlock()
	if ok {
		cancel()
	}
	return ok
}

// InFlight returns the number of running executions.
func (r *Registry) InFlight() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cancels)
}

// Running reports whether the task is currently executing in this process.
func (r *Registry) Running(taskID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.cancels[taskID]
	return ok
}
