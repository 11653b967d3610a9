package eventstore

import (
	"context"
	"sync"
	"time"

	"github.com/lprior-repo/oya-sub007/internal/ids"
)

// MemoryStore is a growing, shared-immutable event sequence. ReadFrom
// returns a cheap shallow clone: it re-slices the same backing array the
// writer appends into, so N concurrent ReadFrom readers cost no per-reader
// copy. ReadForBead is not a shallow clone: it copies the bead's events
// into a new slice on every call.
type MemoryStore struct {
	mu       sync.RWMutex
	log      []Event
	byBead   map[ids.ID][]int // beadID -> indices into log
	sequence uint64
}

// NewMemoryStore returns an empty in-memory event log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byBead: make(map[ids.ID][]int)}
}

func (s *MemoryStore) Append(_ context.Context, ev Event) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequence++
	ev.Sequence = s.sequence
	if ev.ID.IsNil() {
		ev.ID = ids.New()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	s.log = append(s.log, ev)
	if !ev.BeadID.IsNil() {
		s.byBead[ev.BeadID] = append(s.byBead[ev.BeadID], len(s.log)-1)
	}
	return ev, nil
}

func (s *MemoryStore) ReadForBead(_ context.Context, beadID ids.ID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idxs := s.byBead[beadID]
	if len(idxs) == 0 {
		return nil, nil
	}
	out := make([]Event, len(idxs))
	for i, idx := range idxs {
		out[i] = s.log[idx]
	}
	return out, nil
}

func (s *MemoryStore) ReadFrom(_ context.Context, from uint64, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if from == 0 {
		from = 1
	}
	if from > s.sequence {
		return nil, nil
	}
	start := from - 1
	end := uint64(len(s.log))
	if limit > 0 && start+uint64(limit) < end {
		end = start + uint64(limit)
	}
	// shallow clone: re-slicing shares the backing array, no per-reader copy
	return s.log[start:end:end], nil
}

func (s *MemoryStore) LastSequence() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sequence
}

func (s *MemoryStore) Close() error { return nil }
