package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/lprior-repo/oya-sub007/internal/checkpoint"
	"github.com/lprior-repo/oya-sub007/internal/idempotency"
	"github.com/lprior-repo/oya-sub007/internal/ids"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orchestrator.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndLoadCheckpointRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	wf, phase := ids.New(), ids.New()

	err := s.SaveCheckpoint(ctx, checkpoint.Checkpoint{WorkflowID: wf, PhaseID: phase, EventSequence: 1, Body: []byte("v1")})
	if err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	err = s.SaveCheckpoint(ctx, checkpoint.Checkpoint{WorkflowID: wf, PhaseID: phase, EventSequence: 2, Body: []byte("v2")})
	if err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	cp, ok, err := s.LoadCheckpoint(ctx, wf, phase)
	if err != nil || !ok {
		t.Fatalf("LoadCheckpoint: ok=%v err=%v", ok, err)
	}
	if string(cp.Body) != "v2" || cp.EventSequence != 2 {
		t.Fatalf("expected latest checkpoint (v2, seq 2), got %+v", cp)
	}
}

func TestListCheckpointsReturnsAllForWorkflow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	wf := ids.New()
	p1, p2 := ids.New(), ids.New()

	_ = s.SaveCheckpoint(ctx, checkpoint.Checkpoint{WorkflowID: wf, PhaseID: p1, EventSequence: 1, Body: []byte("a")})
	_ = s.SaveCheckpoint(ctx, checkpoint.Checkpoint{WorkflowID: wf, PhaseID: p2, EventSequence: 2, Body: []byte("b")})

	list, err := s.ListCheckpoints(ctx, wf)
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 checkpoints, got %d", len(list))
	}
}

func TestClearCheckpointsAfterRemovesLaterOnes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	wf, phase := ids.New(), ids.New()

	_ = s.SaveCheckpoint(ctx, checkpoint.Checkpoint{WorkflowID: wf, PhaseID: phase, EventSequence: 1, Body: []byte("a")})
	_ = s.SaveCheckpoint(ctx, checkpoint.Checkpoint{WorkflowID: wf, PhaseID: phase, EventSequence: 5, Body: []byte("b")})

	if err := s.ClearCheckpointsAfter(ctx, wf, 1); err != nil {
		t.Fatalf("ClearCheckpointsAfter: %v", err)
	}

	cp, ok, err := s.LoadCheckpoint(ctx, wf, phase)
	if err != nil || !ok {
		t.Fatalf("LoadCheckpoint: ok=%v err=%v", ok, err)
	}
	if cp.EventSequence != 1 {
		t.Fatalf("expected only seq-1 checkpoint to remain, got seq %d", cp.EventSequence)
	}
}

func TestIdempotencyLoadSaveRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := uuid.New()

	_, ok, err := s.Load(ctx, key)
	if err != nil || ok {
		t.Fatalf("expected no entry yet, got ok=%v err=%v", ok, err)
	}

	entry := idempotency.Entry{Key: key, Status: idempotency.StatusCompleted, Result: []byte(`{"ok":true}`)}
	if err := s.Save(ctx, key, entry); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, ok, err := s.Load(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if loaded.Status != idempotency.StatusCompleted || string(loaded.Result) != `{"ok":true}` {
		t.Fatalf("unexpected loaded entry: %+v", loaded)
	}
}

var _ checkpoint.Store = (*Store)(nil)
var _ idempotency.Store = (*Store)(nil)
