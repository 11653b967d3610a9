package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/lprior-repo/oya-sub007/internal/dag"
	"github.com/lprior-repo/oya-sub007/internal/distribution"
	"github.com/lprior-repo/oya-sub007/internal/errs"
	"github.com/lprior-repo/oya-sub007/internal/eventstore"
	"github.com/lprior-repo/oya-sub007/internal/ids"
)

func newActor(t *testing.T) *WorkflowActor {
	t.Helper()
	a := NewWorkflowActor(ids.New(), distribution.FIFO{})
	t.Cleanup(a.Shutdown)
	return a
}

func TestLinearWorkflowReadySet(t *testing.T) {
	a := newActor(t)
	ctx := context.Background()
	A, B, C := ids.New(), ids.New(), ids.New()
	for _, id := range []ids.ID{A, B, C} {
		if err := a.AddBead(id); err != nil {
			t.Fatalf("AddBead: %v", err)
		}
	}
	if err := a.AddDependency(A, B, dag.Blocking); err != nil {
		t.Fatalf("AddDependency A->B: %v", err)
	}
	if err := a.AddDependency(B, C, dag.Blocking); err != nil {
		t.Fatalf("AddDependency B->C: %v", err)
	}

	assertReady(t, ctx, a, A)

	claimAndStart(t, a, A)
	if err := a.MarkCompleted(A); err != nil {
		t.Fatalf("MarkCompleted A: %v", err)
	}
	assertReady(t, ctx, a, B)

	claimAndStart(t, a, B)
	if err := a.MarkCompleted(B); err != nil {
		t.Fatalf("MarkCompleted B: %v", err)
	}
	assertReady(t, ctx, a, C)

	claimAndStart(t, a, C)
	if err := a.MarkCompleted(C); err != nil {
		t.Fatalf("MarkCompleted C: %v", err)
	}
	assertReady(t, ctx, a)

	status, err := a.GetWorkflowStatus(ctx)
	if err != nil {
		t.Fatalf("GetWorkflowStatus: %v", err)
	}
	if status != WorkflowCompleted {
		t.Fatalf("expected WorkflowCompleted, got %v", status)
	}
}

// claimAndStart walks a Ready bead through Claimed into Running, the only
// state from which MarkCompleted is allowed.
func claimAndStart(t *testing.T, a *WorkflowActor, id ids.ID) {
	t.Helper()
	if err := a.ClaimBead(id, "worker-1"); err != nil {
		t.Fatalf("ClaimBead %v: %v", id, err)
	}
	if err := a.MarkRunning(id); err != nil {
		t.Fatalf("MarkRunning %v: %v", id, err)
	}
}

func assertReady(t *testing.T, ctx context.Context, a *WorkflowActor, want ...ids.ID) {
	t.Helper()
	got, err := a.GetReadyBeads(ctx)
	if err != nil {
		t.Fatalf("GetReadyBeads: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("ready set length mismatch: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ready set mismatch at %d: got %v want %v", i, got, want)
		}
	}
}

func TestClaimIsExclusiveUnderConcurrency(t *testing.T) {
	a := newActor(t)
	bead := ids.New()
	if err := a.AddBead(bead); err != nil {
		t.Fatalf("AddBead: %v", err)
	}

	const callers = 20
	var wg sync.WaitGroup
	oks := make([]bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := a.ClaimBead(bead, "worker-1")
			oks[i] = err == nil
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, ok := range oks {
		if ok {
			successes++
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", successes)
	}
}

func TestClaimOnUnreadyBeadFails(t *testing.T) {
	a := newActor(t)
	A, B := ids.New(), ids.New()
	_ = a.AddBead(A)
	_ = a.AddBead(B)
	_ = a.AddDependency(A, B, dag.Blocking)

	if err := a.ClaimBead(B, "worker-1"); !errs.Is(err, errs.KindInvalidTransition) {
		t.Fatalf("expected InvalidTransition claiming a Pending bead, got %v", err)
	}
}

func TestWorkerDeathReleasesClaimBackToReady(t *testing.T) {
	a := newActor(t)
	ctx := context.Background()
	bead := ids.New()
	_ = a.AddBead(bead)
	if err := a.ClaimBead(bead, "worker-1"); err != nil {
		t.Fatalf("ClaimBead: %v", err)
	}

	if err := a.ReleaseBead(bead); err != nil {
		t.Fatalf("ReleaseBead: %v", err)
	}
	assertReady(t, ctx, a, bead)
}

func TestCancelBeadIsIdempotent(t *testing.T) {
	a := newActor(t)
	bead := ids.New()
	if err := a.AddBead(bead); err != nil {
		t.Fatalf("AddBead: %v", err)
	}
	if err := a.CancelBead(bead); err != nil {
		t.Fatalf("first CancelBead: %v", err)
	}
	if err := a.CancelBead(bead); err != nil {
		t.Fatalf("second CancelBead should be a no-op, got: %v", err)
	}
}

func TestCancelBeadRejectsFromTerminalCompleted(t *testing.T) {
	a := newActor(t)
	bead := ids.New()
	_ = a.AddBead(bead)
	claimAndStart(t, a, bead)
	_ = a.MarkCompleted(bead)
	if err := a.CancelBead(bead); !errs.Is(err, errs.KindInvalidTransition) {
		t.Fatalf("expected InvalidTransition cancelling a completed bead, got %v", err)
	}
}

func TestRehydrateMatchesLivePath(t *testing.T) {
	wf := ids.New()
	A, B := ids.New(), ids.New()

	live := NewWorkflowActor(wf, distribution.FIFO{})
	defer live.Shutdown()
	_ = live.AddBead(A)
	_ = live.AddBead(B)
	_ = live.AddDependency(A, B, dag.Blocking)
	claimAndStart(t, live, A)
	_ = live.MarkCompleted(A)

	events := []eventstore.Event{
		{Type: eventstore.KindBeadScheduled, WorkflowID: wf, BeadID: A},
		{Type: eventstore.KindBeadScheduled, WorkflowID: wf, BeadID: B},
		{Type: eventstore.KindBeadCompleted, WorkflowID: wf, BeadID: A},
	}

	fresh := NewWorkflowActor(wf, distribution.FIFO{})
	defer fresh.Shutdown()
	if err := fresh.Rehydrate(events); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}

	ctx := context.Background()
	liveReady, _ := live.GetReadyBeads(ctx)
	freshReady, _ := fresh.GetReadyBeads(ctx)
	if len(liveReady) != len(freshReady) || len(liveReady) != 1 || liveReady[0] != freshReady[0] {
		t.Fatalf("rehydrated ready-set %v does not match live ready-set %v", freshReady, liveReady)
	}
}
