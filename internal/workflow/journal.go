package workflow

import (
	"context"
	"sync"
)

// MemoryJournal is a process-local journal, useful for tests and the
// single-node in-memory deployment profile.
type MemoryJournal struct {
	mu      sync.Mutex
	entries []JournalEntry
}

// NewMemoryJournal returns an empty journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) Append(_ context.Context, entry JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
	return nil
}

func (j *MemoryJournal) ReadAll(_ context.Context) ([]JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]JournalEntry, len(j.entries))
	copy(out, j.entries)
	return out, nil
}

// State is the rebuilt in-memory projection of a workflow's phase history.
type State struct {
	LastCompletedOutput []byte
	Completed           map[string]bool
	RolledBack          map[string]bool
}

// Rehydrate rebuilds State by replaying every entry in order. It covers
// every journal entry kind — PhaseStarted carries no persistent effect of
// its own, but PhaseCompleted, PhaseFailed, and PhaseRolledBack all do, and
// a replay that silently dropped any of them would diverge from the state
// produced by the live path.
func Rehydrate(entries []JournalEntry) State {
	st := State{Completed: make(map[string]bool), RolledBack: make(map[string]bool)}
	for _, e := range entries {
		switch e.Kind {
		case PhaseStarted:
			// no persistent effect; presence in the journal is the audit trail
		case PhaseCompleted:
			st.Completed[e.PhaseID.String()] = true
			st.RolledBack[e.PhaseID.String()] = false
			st.LastCompletedOutput = e.Output
		case PhaseFailed:
			st.Completed[e.PhaseID.String()] = false
		case PhaseRolledBack:
			st.RolledBack[e.PhaseID.String()] = true
			st.Completed[e.PhaseID.String()] = false
		}
	}
	return st
}
