// Package reconciler runs a periodic and event-triggered sweep that
// repairs drift between the scheduler's view of a workflow and reality:
// beads claimed by now-dead agents get released, beads stuck in Running
// past a threshold get failed, workflows whose beads are all complete get
// reported as completed. It reuses the same cron scheduling idiom as
// internal/heartbeat for the periodic half of the sweep, and additionally
// runs as a supervised watcher reacting to the event bus for the
// event-triggered half.
package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lprior-repo/oya-sub007/internal/eventbus"
	"github.com/lprior-repo/oya-sub007/internal/idempotency"
	"github.com/lprior-repo/oya-sub007/internal/ids"
	"github.com/lprior-repo/oya-sub007/internal/scheduler"
	"github.com/lprior-repo/oya-sub007/internal/supervision"
	"github.com/lprior-repo/oya-sub007/internal/swarm"
)

// defaultStuckThreshold is how long a bead may remain Running before the
// sweep marks it Failed with reason "stuck_bead".
const defaultStuckThreshold = 5 * time.Minute

// Action is one repair performed by a reconciliation cycle.
type Action struct {
	WorkflowID ids.ID
	BeadID     ids.ID
	Kind       string
}

// Reconciler owns the registry and scheduler router it repairs drift
// across, plus a Keeper so repeated sweeps over the same drift are
// idempotent (a bead released twice in two overlapping cycles is a no-op
// the second time, not a double release).
type Reconciler struct {
	router         *scheduler.SchedulerActor
	agents         *swarm.Registry
	keeper         *idempotency.Keeper
	cron           *cron.Cron
	maxBatch       int
	stuckThreshold time.Duration
}

// New returns a Reconciler bounding each cycle to at most maxBatch repair
// actions, so a pathological sweep can't monopolize the scheduler's
// command channels. stuckThreshold bounds how long a bead may stay Running
// before it is failed as stuck; zero selects defaultStuckThreshold. The
// cron schedule recovers panicking jobs instead of letting one bad sweep
// take the whole process down, matching the heartbeat monitor's schedule.
func New(router *scheduler.SchedulerActor, agents *swarm.Registry, keeper *idempotency.Keeper, maxBatch int, stuckThreshold time.Duration) *Reconciler {
	if maxBatch <= 0 {
		maxBatch = 100
	}
	if stuckThreshold <= 0 {
		stuckThreshold = defaultStuckThreshold
	}
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.PrintfLogger(slogCronLogger{}))))
	return &Reconciler{router: router, agents: agents, keeper: keeper, cron: c, maxBatch: maxBatch, stuckThreshold: stuckThreshold}
}

// slogCronLogger adapts slog to cron.PrintfLogger's Printf-shaped interface
// so a recovered job panic is reported the same way every other component
// logs, rather than through cron's own default stderr logger.
type slogCronLogger struct{}

func (slogCronLogger) Printf(format string, args ...interface{}) {
	slog.Warn(fmt.Sprintf(format, args...))
}

// Start schedules the periodic sweep at cronExpr (matching
// RECONCILE_CRON) in addition to whatever event-triggered sweeps the
// caller drives via ReconcileWorkflow or WatchEvents.
func (r *Reconciler) Start(ctx context.Context, cronExpr string, workflows func() []ids.ID) error {
	_, err := r.cron.AddFunc(cronExpr, func() {
		for _, wf := range workflows() {
			r.ReconcileWorkflow(ctx, wf)
		}
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	slog.Info("reconciler started", "schedule", cronExpr)
	return nil
}

// WatchEvents returns a supervised Child that reconciles the affected
// workflow after each state-changing event observed on bus, satisfying the
// event-triggered half of the sweep (the cron schedule started by Start
// covers the periodic half). The child's Run loop is a real long-running
// worker: a panic while reconciling one event is reported as a crash so the
// owning supervisor restarts it rather than silently wedging the watcher.
func (r *Reconciler) WatchEvents(ctx context.Context, bus *eventbus.Bus) supervision.Child {
	ch, unsubscribe := bus.Subscribe(256)
	stop := make(chan struct{})
	var stopOnce bool

	return supervision.Child{
		Name: "reconciler_event_watch",
		Run: func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("reconciler event watch panicked: %v", rec)
				}
			}()
			for {
				select {
				case ev, ok := <-ch:
					if !ok {
						return nil
					}
					if ev.WorkflowID != ids.Nil {
						r.ReconcileWorkflow(ctx, ev.WorkflowID)
					}
				case <-ctx.Done():
					return nil
				case <-stop:
					return nil
				}
			}
		},
		Stop: func() {
			if stopOnce {
				return
			}
			stopOnce = true
			unsubscribe()
			close(stop)
		},
	}
}

// Stop halts the periodic sweep.
func (r *Reconciler) Stop(ctx context.Context) error {
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReconcileWorkflow runs one sweep cycle for a single workflow: it releases
// claims held by dead agents, fails beads stuck in Running past
// stuckThreshold, and checks whether the workflow has completed — reporting
// every repair it made, bounded in total by maxBatch.
func (r *Reconciler) ReconcileWorkflow(ctx context.Context, workflowID ids.ID) []Action {
	actor, err := r.router.Workflow(workflowID)
	if err != nil {
		slog.Warn("reconcile: unknown workflow", "workflow_id", workflowID, "error", err)
		return nil
	}

	var actions []Action
	for _, deadID := range r.deadAgentIDs() {
		if len(actions) >= r.maxBatch {
			slog.Warn("reconcile: hit max batch size, deferring remainder to next cycle", "workflow_id", workflowID, "max_batch", r.maxBatch)
			return actions
		}
		beadID, ok := r.claimedBead(deadID)
		if !ok {
			continue
		}
		key, err := idempotency.Key(beadID.String(), struct {
			Workflow string
			Agent    string
			Action   string
		}{workflowID.String(), deadID, "release_dead_claim"})
		if err != nil {
			continue
		}
		_, _ = r.keeper.ExecuteIdempotent(ctx, key, func(ctx context.Context) (json.RawMessage, error) {
			if err := actor.ReleaseBead(beadID); err != nil {
				return nil, err
			}
			return json.RawMessage(`"released"`), nil
		})
		r.agents.ClearClaim(deadID)
		actions = append(actions, Action{WorkflowID: workflowID, BeadID: beadID, Kind: "release_dead_claim"})
	}

	now := time.Now()
	stuck, err := actor.StuckBeads(ctx, now, r.stuckThreshold)
	if err != nil {
		slog.Warn("reconcile: stuck bead query failed", "workflow_id", workflowID, "error", err)
	}
	for _, beadID := range stuck {
		if len(actions) >= r.maxBatch {
			slog.Warn("reconcile: hit max batch size, deferring remainder to next cycle", "workflow_id", workflowID, "max_batch", r.maxBatch)
			return actions
		}
		key, err := idempotency.Key(beadID.String(), struct {
			Workflow string
			Action   string
		}{workflowID.String(), "stuck_bead"})
		if err != nil {
			continue
		}
		_, _ = r.keeper.ExecuteIdempotent(ctx, key, func(ctx context.Context) (json.RawMessage, error) {
			if err := actor.MarkFailed(beadID, "stuck_bead"); err != nil {
				return nil, err
			}
			return json.RawMessage(`"failed"`), nil
		})
		actions = append(actions, Action{WorkflowID: workflowID, BeadID: beadID, Kind: "stuck_bead"})
	}

	status, err := actor.GetWorkflowStatus(ctx)
	if err == nil && status == scheduler.WorkflowCompleted {
		actions = append(actions, Action{WorkflowID: workflowID, Kind: "workflow_completed"})
	}

	return actions
}

func (r *Reconciler) deadAgentIDs() []string {
	var out []string
	for _, role := range []swarm.Role{swarm.RoleTestWriter, swarm.RoleImplementer, swarm.RoleReviewer, swarm.RolePlanner} {
		for _, a := range r.agents.ByRole(role) {
			if a.State == swarm.AgentDead && a.ClaimedBead != "" {
				out = append(out, a.ID)
			}
		}
	}
	return out
}

func (r *Reconciler) claimedBead(agentID string) (ids.ID, bool) {
	a, ok := r.agents.Get(agentID)
	if !ok || a.ClaimedBead == "" {
		return ids.Nil, false
	}
	beadID, err := ids.Parse(a.ClaimedBead)
	if err != nil {
		return ids.Nil, false
	}
	return beadID, true
}
