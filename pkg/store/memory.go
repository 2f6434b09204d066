package store

import (
	"sync"

	"github.com/astromechza/sketch-sync/pkg/protocol"
)

// MemoryRepository is a pure in-memory increment log with the same semantics as
// the sqlite repository. Suitable for tests and throwaway deployments.
type MemoryRepository struct {
	mu          sync.Mutex
	commitOrder []protocol.Increment
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) LastVersion() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.commitOrder)), nil
}

func (m *MemoryRepository) SinceVersion(version int64) ([]protocol.Increment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if version >= int64(len(m.commitOrder)) {
		return []protocol.Increment{}, nil
	}
	if version < 0 {
		version = 0
	}
	tail := m.commitOrder[version:]
	out := make([]protocol.Increment, len(tail))
	copy(out, tail)
	return out, nil
}

func (m *MemoryRepository) SaveAll(increments []protocol.Increment) ([]protocol.Increment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	base := int64(len(m.commitOrder))
	committed := make([]protocol.Increment, 0, len(increments))
	for i, increment := range increments {
		stamped, _, err := stampIncrement(increment, base+int64(i)+1)
		if err != nil {
			return nil, err
		}
		committed = append(committed, stamped)
	}
	m.commitOrder = append(m.commitOrder, committed...)
	return committed, nil
}
