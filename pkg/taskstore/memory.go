package taskstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"maestro/pkg/models"
)

// MemoryStore keeps task state in process memory with TTL semantics
// matching the Redis store. Used when no Redis is configured; tasks are
// then not resumable across restarts.
type MemoryStore struct {
	mu    sync.Mutex
	opts  Options
	tasks map[string]memoryEntry
	locks map[string]time.Time // lock expiry
	now   func() time.Time     // injectable clock for TTL tests
}

type memoryEntry struct {
	data    []byte    // JSON, to mirror the Redis round-trip exactly
	expires time.Time // zero = no expiry, like a Redis key set without TTL
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// NewMemoryStore creates an in-memory task store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:  opts,
		tasks: make(map[string]memoryEntry),
		locks: make(map[string]time.Time),
		now:   time.Now,
	}
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, task *models.TaskState) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task state: %w", err)
	}
	var expires time.Time
	if s.opts.TTL > 0 {
		expires = s.now().Add(s.opts.TTL)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = memoryEntry{data: data, expires: expires}
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*models.TaskState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tasks[id]
	if !ok || entry.expired(s.now()) {
		delete(s.tasks, id)
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	var task models.TaskState
	if err := json.Unmarshal(entry.data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task state: %w", err)
	}
	return &task, nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, limit int) ([]*models.TaskState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var tasks []*models.TaskState
	for id, entry := range s.tasks {
		if entry.expired(now) {
			delete(s.tasks, id)
			continue
		}
		var task models.TaskState
		if err := json.Unmarshal(entry.data, &task); err != nil {
			continue
		}
		tasks = append(tasks, &task)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].UpdatedAt.After(tasks[j].UpdatedAt)
	})
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

// AcquireLock implements Store.
func (s *MemoryStore) AcquireLock(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiry, held := s.locks[id]; held && (expiry.IsZero() || now.Before(expiry)) {
		return fmt.Errorf("%w: %s", ErrTaskLocked, id)
	}
	// Zero LockTTL leases hold until explicitly released.
	var expiry time.Time
	if s.opts.LockTTL > 0 {
		expiry = now.Add(s.opts.LockTTL)
	}
	s.locks[id] = expiry
	return nil
}

// ReleaseLock implements Store.
func (s *MemoryStore) ReleaseLock(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, id)
	return nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)
