package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/lprior-repo/oya-sub007/internal/distribution"
	"github.com/lprior-repo/oya-sub007/internal/idempotency"
	"github.com/lprior-repo/oya-sub007/internal/ids"
	"github.com/lprior-repo/oya-sub007/internal/scheduler"
	"github.com/lprior-repo/oya-sub007/internal/swarm"
)

func newTestReconciler(t *testing.T) (*Reconciler, *scheduler.SchedulerActor, *swarm.Registry) {
	t.Helper()
	router := scheduler.NewSchedulerActor(func() distribution.Strategy { return distribution.FIFO{} })
	t.Cleanup(router.Shutdown)
	registry := swarm.NewRegistry()
	keeper := idempotency.NewKeeper(idempotency.NewMemoryStore())
	r := New(router, registry, keeper, 0, 0)
	return r, router, registry
}

func TestReconcileReleasesBeadClaimedByDeadAgent(t *testing.T) {
	r, router, registry := newTestReconciler(t)
	ctx := context.Background()

	wf := ids.New()
	actor := router.RegisterWorkflow(wf)
	bead := ids.New()
	if err := actor.AddBead(bead); err != nil {
		t.Fatalf("AddBead: %v", err)
	}
	if err := actor.ClaimBead(bead, "agent-1"); err != nil {
		t.Fatalf("ClaimBead: %v", err)
	}

	now := time.Now()
	registry.Register("agent-1", swarm.RoleImplementer, nil, now)
	registry.Claim("agent-1", bead.String())
	registry.Sweep(now.Add(time.Hour), time.Second, 2*time.Second)

	actions := r.ReconcileWorkflow(ctx, wf)
	if len(actions) != 1 || actions[0].Kind != "release_dead_claim" {
		t.Fatalf("expected one release action, got %+v", actions)
	}

	ready, err := actor.GetReadyBeads(ctx)
	if err != nil {
		t.Fatalf("GetReadyBeads: %v", err)
	}
	if len(ready) != 1 || ready[0] != bead {
		t.Fatalf("expected bead back in ready set after release, got %v", ready)
	}
}

func TestReconcileIsIdempotentAcrossRepeatedCycles(t *testing.T) {
	r, router, registry := newTestReconciler(t)
	ctx := context.Background()

	wf := ids.New()
	actor := router.RegisterWorkflow(wf)
	bead := ids.New()
	_ = actor.AddBead(bead)
	_ = actor.ClaimBead(bead, "agent-1")

	now := time.Now()
	registry.Register("agent-1", swarm.RoleImplementer, nil, now)
	registry.Claim("agent-1", bead.String())
	registry.Sweep(now.Add(time.Hour), time.Second, 2*time.Second)

	first := r.ReconcileWorkflow(ctx, wf)
	if len(first) != 1 {
		t.Fatalf("expected exactly one release action on first cycle, got %+v", first)
	}
	// Second cycle: the drift is already repaired (registry.ClearClaim cleared
	// the dead agent's claimed-bead record), so it must converge to a
	// stable no-op rather than erroring on an already-Ready bead.
	second := r.ReconcileWorkflow(ctx, wf)
	if len(second) != 0 {
		t.Fatalf("expected no actions once drift is repaired, got %+v", second)
	}
}

func TestReconcileUnknownWorkflowReturnsNil(t *testing.T) {
	r, _, _ := newTestReconciler(t)
	if actions := r.ReconcileWorkflow(context.Background(), ids.New()); actions != nil {
		t.Fatalf("expected nil actions for unknown workflow, got %v", actions)
	}
}

func TestReconcileFailsBeadStuckInRunningPastThreshold(t *testing.T) {
	router := scheduler.NewSchedulerActor(func() distribution.Strategy { return distribution.FIFO{} })
	t.Cleanup(router.Shutdown)
	registry := swarm.NewRegistry()
	keeper := idempotency.NewKeeper(idempotency.NewMemoryStore())
	r := New(router, registry, keeper, 0, time.Millisecond)
	ctx := context.Background()

	wf := ids.New()
	actor := router.RegisterWorkflow(wf)
	bead := ids.New()
	_ = actor.AddBead(bead)
	_ = actor.ClaimBead(bead, "agent-1")
	_ = actor.MarkRunning(bead)

	time.Sleep(5 * time.Millisecond)

	actions := r.ReconcileWorkflow(ctx, wf)
	if len(actions) != 1 || actions[0].Kind != "stuck_bead" || actions[0].BeadID != bead {
		t.Fatalf("expected one stuck_bead action, got %+v", actions)
	}

	// Repeating the sweep is a no-op: the bead is already Failed, not Running.
	second := r.ReconcileWorkflow(ctx, wf)
	if len(second) != 0 {
		t.Fatalf("expected no further actions once the bead is failed, got %+v", second)
	}
}
