package dispatch

import (
	"context"
	"sync"
)

// CheckpointStore persists memoized step results for one logical run.
// The postgres adapter satisfies this interface; MemoryCheckpoints serves
// tests and single-process deployments.
type CheckpointStore interface {
	GetCheckpoint(ctx context.Context, runID, step string) ([]byte, bool, error)
	PutCheckpoint(ctx context.Context, runID, step string, result []byte) error
	DeleteRunCheckpoints(ctx context.Context, runID string) error
}

// MemoryCheckpoints is an in-memory CheckpointStore.
type MemoryCheckpoints struct {
	mu    sync.Mutex
	steps map[string][]byte
}

// NewMemoryCheckpoints creates an empty in-memory checkpoint store.
func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{steps: make(map[string][]byte)}
}

func (m *MemoryCheckpoints) key(runID, step string) string { return runID + "\x00" + step }

// GetCheckpoint returns the memoized result for (runID, step), if any.
func (m *MemoryCheckpoints) GetCheckpoint(_ context.Context, runID, step string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.steps[m.key(runID, step)]
	return data, ok, nil
}

// PutCheckpoint stores the result for (runID, step).
func (m *MemoryCheckpoints) PutCheckpoint(_ context.Context, runID, step string, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[m.key(runID, step)] = result
	return nil
}

// DeleteRunCheckpoints removes every checkpoint belonging to runID.
func (m *MemoryCheckpoints) DeleteRunCheckpoints(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := runID + "\x00"
	for k := range m.steps {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(m.steps, k)
		}
	}
	return nil
}
