package checkpoint

import (
	"context"
	"sort"
	"sync"

	"github.com/lprior-repo/oya-sub007/internal/ids"
)

// MemoryStore is a process-local checkpoint store, useful for tests and the
// single-node in-memory deployment profile.
type MemoryStore struct {
	mu  sync.RWMutex
	all map[ids.ID]map[ids.ID]Checkpoint // workflowID -> phaseID -> checkpoint
}

// NewMemoryStore returns an empty checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{all: make(map[ids.ID]map[ids.ID]Checkpoint)}
}

func (m *MemoryStore) SaveCheckpoint(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPhase, ok := m.all[cp.WorkflowID]
	if !ok {
		byPhase = make(map[ids.ID]Checkpoint)
		m.all[cp.WorkflowID] = byPhase
	}
	byPhase[cp.PhaseID] = cp
	return nil
}

func (m *MemoryStore) LoadCheckpoint(_ context.Context, workflowID, phaseID ids.ID) (Checkpoint, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byPhase, ok := m.all[workflowID]
	if !ok {
		return Checkpoint{}, false, nil
	}
	cp, ok := byPhase[phaseID]
	return cp, ok, nil
}

func (m *MemoryStore) ListCheckpoints(_ context.Context, workflowID ids.ID) ([]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byPhase := m.all[workflowID]
	out := make([]Checkpoint, 0, len(byPhase))
	for _, cp := range byPhase {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventSequence < out[j].EventSequence })
	return out, nil
}

func (m *MemoryStore) ClearCheckpointsAfter(_ context.Context, workflowID ids.ID, eventSequence uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPhase, ok := m.all[workflowID]
	if !ok {
		return nil
	}
	for phaseID, cp := range byPhase {
		if cp.EventSequence > eventSequence {
			delete(byPhase, phaseID)
		}
	}
	return nil
}
