package melody

import (
	"context"
	"fmt"
	"sync"
	"time"

	"maestro/pkg/models"
)

// MemoryStore keeps chains in process memory. Used when no database is
// configured and as the degradation target when Postgres is unreachable.
// Chains vanish on restart; resume then proceeds without injected history.
type MemoryStore struct {
	mu     sync.Mutex
	chains map[string][]models.ChainNode
	seen   map[string]map[string]bool // taskID → nodeID set
}

// NewMemoryStore creates an empty in-memory chain store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chains: make(map[string][]models.ChainNode),
		seen:   make(map[string]map[string]bool),
	}
}

// OpenTask implements Store.
func (s *MemoryStore) OpenTask(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[taskID]; !ok {
		s.seen[taskID] = make(map[string]bool)
	}
	return nil
}

// Record implements Store.
func (s *MemoryStore) Record(_ context.Context, node *models.ChainNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, ok := s.seen[node.TaskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotOpen, node.TaskID)
	}
	if ids[node.NodeID] {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateNode, node.TaskID, node.NodeID)
	}

	stored := *node
	stored.Seq = len(s.chains[node.TaskID]) + 1
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	ids[node.NodeID] = true
	s.chains[node.TaskID] = append(s.chains[node.TaskID], stored)
	node.Seq = stored.Seq
	return nil
}

// Chain implements Store.
func (s *MemoryStore) Chain(_ context.Context, taskID string) ([]models.ChainNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes := s.chains[taskID]
	out := make([]models.ChainNode, len(nodes))
	copy(out, nodes)
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)
