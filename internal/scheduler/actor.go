package scheduler

import (
	"context"
	"time"

	"github.com/lprior-repo/oya-sub007/internal/dag"
	"github.com/lprior-repo/oya-sub007/internal/distribution"
	"github.com/lprior-repo/oya-sub007/internal/errs"
	"github.com/lprior-repo/oya-sub007/internal/eventstore"
	"github.com/lprior-repo/oya-sub007/internal/ids"
)

// WorkflowStatus is the aggregate status of a workflow's beads.
type WorkflowStatus int

const (
	WorkflowPending WorkflowStatus = iota
	WorkflowRunning
	WorkflowCompleted
	WorkflowFailed
)

type command struct {
	kind  commandKind
	reply chan error

	beadID     ids.ID
	from, to   ids.ID
	edgeKind   dag.EdgeKind
	workerID   string
	reason     string
	events     []eventstore.Event

	// agentCandidates and claimReply are only set on cmdClaimNext, which
	// bypasses the plain reply-chan-error path since it must return which
	// bead and agent the strategy picked, not just a success/failure.
	agentCandidates []distribution.AgentCandidate
	claimReply      chan claimResult
}

type commandKind int

const (
	cmdAddBead commandKind = iota
	cmdMarkCompleted
	cmdMarkFailed
	cmdMarkRunning
	cmdAddDependency
	cmdClaimBead
	cmdClaimNext
	cmdReleaseBead
	cmdCancelBead
	cmdRehydrate
	cmdShutdown
)

// claimResult is the outcome of a cmdClaimNext command: the strategy-selected
// bead and agent, or ok=false if no ready bead or no eligible agent exists.
type claimResult struct {
	beadID  ids.ID
	agentID string
	ok      bool
}

type query struct {
	kind      queryKind
	reply     chan queryResult
	id        ids.ID
	now       time.Time
	threshold time.Duration
}

type queryKind int

const (
	qryGetReadyBeads queryKind = iota
	qryIsBeadReady
	qryGetWorkflowStatus
	qryGetAllReadyBeads
	qryStuckBeads
)

type queryResult struct {
	ids    []ids.ID
	ready  bool
	status WorkflowStatus
}

// WorkflowActor holds the only mutable handle to one workflow's DAG and
// bead records. Commands are fire-and-forget except for their reply
// channel (used only to report business-rule failures, never to crash the
// actor); queries return via a single-shot reply channel. Both are
// delivered through bounded inboxes read by a single goroutine, so
// per-workflow commands and queries are totally ordered.
type WorkflowActor struct {
	workflowID ids.ID
	graph      *dag.Graph
	beads      map[ids.ID]*Bead
	strategy   distribution.Strategy

	commands chan command
	queries  chan query
	done     chan struct{}
}

// NewWorkflowActor starts the actor's run loop in a new goroutine and
// returns a handle to it.
func NewWorkflowActor(workflowID ids.ID, strategy distribution.Strategy) *WorkflowActor {
	a := &WorkflowActor{
		workflowID: workflowID,
		graph:      dag.New(),
		beads:      make(map[ids.ID]*Bead),
		strategy:   strategy,
		commands:   make(chan command, 256),
		queries:    make(chan query, 256),
		done:       make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *WorkflowActor) run() {
	for {
		select {
		case cmd := <-a.commands:
			if cmd.kind == cmdClaimNext {
				cmd.claimReply <- a.handleClaimNext(cmd.agentCandidates)
				continue
			}
			err := a.handleCommand(cmd)
			if cmd.reply != nil {
				cmd.reply <- err
			}
			if cmd.kind == cmdShutdown {
				close(a.done)
				return
			}
		case q := <-a.queries:
			q.reply <- a.handleQuery(q)
		}
	}
}

func (a *WorkflowActor) handleCommand(cmd command) error {
	switch cmd.kind {
	case cmdAddBead:
		if err := a.graph.AddNode(cmd.beadID); err != nil {
			return err
		}
		a.beads[cmd.beadID] = &Bead{ID: cmd.beadID, WorkflowID: a.workflowID, State: StatePending}
		a.recomputeReady()
		return nil

	case cmdAddDependency:
		if err := a.graph.AddEdge(cmd.from, cmd.to, cmd.edgeKind); err != nil {
			return err
		}
		// A new Blocking edge from an unfinished bead takes the dependent
		// out of the ready set again.
		if b, ok := a.beads[cmd.to]; ok && b.State == StateReady && !a.graph.IsReady(cmd.to) {
			b.State = StatePending
		}
		return nil

	case cmdMarkCompleted:
		b, ok := a.beads[cmd.beadID]
		if !ok {
			return errs.NotFound("bead", cmd.beadID.String())
		}
		if !canTransition(b.State, StateCompleted) {
			return errs.InvalidTransition(b.State.String(), StateCompleted.String())
		}
		b.State = StateCompleted
		if err := a.graph.MarkCompleted(cmd.beadID); err != nil {
			return err
		}
		a.recomputeReady()
		return nil

	case cmdMarkFailed:
		b, ok := a.beads[cmd.beadID]
		if !ok {
			return errs.NotFound("bead", cmd.beadID.String())
		}
		if !canTransition(b.State, StateFailed) {
			return errs.InvalidTransition(b.State.String(), StateFailed.String())
		}
		b.State = StateFailed
		b.AttemptCount++
		b.FailReason = cmd.reason
		return nil

	case cmdMarkRunning:
		b, ok := a.beads[cmd.beadID]
		if !ok {
			return errs.NotFound("bead", cmd.beadID.String())
		}
		if !canTransition(b.State, StateRunning) {
			return errs.InvalidTransition(b.State.String(), StateRunning.String())
		}
		b.State = StateRunning
		b.RunningAt = time.Now()
		return nil

	case cmdClaimBead:
		b, ok := a.beads[cmd.beadID]
		if !ok {
			return errs.NotFound("bead", cmd.beadID.String())
		}
		if b.State == StateClaimed || b.State == StateRunning {
			return errs.AlreadyClaimed(cmd.beadID.String(), b.ClaimedBy)
		}
		if !canTransition(b.State, StateClaimed) {
			return errs.InvalidTransition(b.State.String(), StateClaimed.String())
		}
		b.State = StateClaimed
		b.ClaimedBy = cmd.workerID
		return nil

	case cmdReleaseBead:
		b, ok := a.beads[cmd.beadID]
		if !ok {
			return errs.NotFound("bead", cmd.beadID.String())
		}
		if !canTransition(b.State, StateReady) {
			return errs.InvalidTransition(b.State.String(), StateReady.String())
		}
		b.State = StateReady
		b.ClaimedBy = ""
		return nil

	case cmdCancelBead:
		b, ok := a.beads[cmd.beadID]
		if !ok {
			return errs.NotFound("bead", cmd.beadID.String())
		}
		if b.State == StateCancelled {
			return nil
		}
		if !canTransition(b.State, StateCancelled) {
			return errs.InvalidTransition(b.State.String(), StateCancelled.String())
		}
		b.State = StateCancelled
		b.ClaimedBy = ""
		return nil

	case cmdRehydrate:
		return a.rehydrate(cmd.events)

	case cmdShutdown:
		return nil
	}
	return errs.InvalidContract("unknown command")
}

// recomputeReady promotes every bead the DAG now reports ready from Pending
// into Ready; claimed/running/terminal beads are left untouched since the
// DAG has no notion of them.
func (a *WorkflowActor) recomputeReady() {
	for _, id := range a.graph.ReadyBeads() {
		if b, ok := a.beads[id]; ok && b.State == StatePending {
			b.State = StateReady
		}
	}
}

func (a *WorkflowActor) handleQuery(q query) queryResult {
	switch q.kind {
	case qryGetReadyBeads:
		return queryResult{ids: a.readyBeadIDs()}
	case qryGetAllReadyBeads:
		return queryResult{ids: a.strategyOrderedReadyBeads()}
	case qryIsBeadReady:
		b, ok := a.beads[q.id]
		return queryResult{ready: ok && b.State == StateReady}
	case qryGetWorkflowStatus:
		return queryResult{status: a.status()}
	case qryStuckBeads:
		return queryResult{ids: a.stuckBeadIDs(q.now, q.threshold)}
	}
	return queryResult{}
}

func (a *WorkflowActor) readyBeadIDs() []ids.ID {
	var out []ids.ID
	for _, id := range a.graph.ReadyBeads() {
		if b, ok := a.beads[id]; ok && b.State == StateReady {
			out = append(out, id)
		}
	}
	return out
}

// strategyOrderedReadyBeads returns the same ready set as readyBeadIDs but
// ordered by repeatedly asking the workflow's configured distribution
// strategy to pick the next bead from the shrinking candidate pool — this is
// what distinguishes GetAllReadyBeads from the raw GetReadyBeads query.
func (a *WorkflowActor) strategyOrderedReadyBeads() []ids.ID {
	remaining := a.readyBeadIDs()
	if len(remaining) == 0 {
		return nil
	}

	index := make(map[string]ids.ID, len(remaining))
	pool := make([]distribution.BeadCandidate, len(remaining))
	for i, id := range remaining {
		pool[i] = distribution.BeadCandidate{ID: id.String()}
		index[id.String()] = id
	}

	ordered := make([]ids.ID, 0, len(remaining))
	for len(pool) > 0 {
		selected, ok := a.strategy.SelectBead(distribution.Context{Beads: pool})
		if !ok {
			break
		}
		ordered = append(ordered, index[selected])
		pool = removeBeadCandidate(pool, selected)
	}
	return ordered
}

func removeBeadCandidate(pool []distribution.BeadCandidate, id string) []distribution.BeadCandidate {
	out := make([]distribution.BeadCandidate, 0, len(pool))
	for _, c := range pool {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

// stuckBeadIDs returns every bead that has been in Running since before
// now.Add(-threshold), for the reconciler's stuck-bead sweep.
func (a *WorkflowActor) stuckBeadIDs(now time.Time, threshold time.Duration) []ids.ID {
	var out []ids.ID
	for id, b := range a.beads {
		if b.State == StateRunning && !b.RunningAt.IsZero() && now.Sub(b.RunningAt) >= threshold {
			out = append(out, id)
		}
	}
	return out
}

// handleClaimNext asks the workflow's strategy to pick the next ready bead
// and, among agentCandidates, the agent it should be claimed by, then
// performs that claim in the same actor step so the selection and the claim
// are atomic with respect to every other command/query this actor serializes.
func (a *WorkflowActor) handleClaimNext(agentCandidates []distribution.AgentCandidate) claimResult {
	ready := a.readyBeadIDs()
	if len(ready) == 0 || len(agentCandidates) == 0 {
		return claimResult{}
	}

	beadCandidates := make([]distribution.BeadCandidate, len(ready))
	for i, id := range ready {
		beadCandidates[i] = distribution.BeadCandidate{ID: id.String()}
	}
	distCtx := distribution.Context{Beads: beadCandidates, Agents: agentCandidates}

	beadIDStr, ok := a.strategy.SelectBead(distCtx)
	if !ok {
		return claimResult{}
	}
	agentID, ok := a.strategy.SelectAgent(beadIDStr, distCtx)
	if !ok {
		return claimResult{}
	}
	beadID, err := ids.Parse(beadIDStr)
	if err != nil {
		return claimResult{}
	}
	b, ok := a.beads[beadID]
	if !ok || !canTransition(b.State, StateClaimed) {
		return claimResult{}
	}
	b.State = StateClaimed
	b.ClaimedBy = agentID
	return claimResult{beadID: beadID, agentID: agentID, ok: true}
}

func (a *WorkflowActor) status() WorkflowStatus {
	if len(a.beads) == 0 {
		return WorkflowPending
	}
	anyFailed, anyStarted, allTerminal := false, false, true
	for _, b := range a.beads {
		if b.State == StateFailed && b.AttemptCount > 0 {
			anyFailed = true
		}
		if b.State != StatePending {
			anyStarted = true
		}
		if !b.State.isTerminal() {
			allTerminal = false
		}
	}
	switch {
	case allTerminal && anyFailed:
		return WorkflowFailed
	case allTerminal:
		return WorkflowCompleted
	case anyStarted:
		return WorkflowRunning
	default:
		return WorkflowPending
	}
}

func (a *WorkflowActor) rehydrate(events []eventstore.Event) error {
	for _, ev := range events {
		switch ev.Type {
		case eventstore.KindBeadScheduled:
			if _, ok := a.beads[ev.BeadID]; !ok {
				_ = a.graph.AddNode(ev.BeadID)
				a.beads[ev.BeadID] = &Bead{ID: ev.BeadID, WorkflowID: a.workflowID, State: StatePending}
			}
		case eventstore.KindBeadClaimed:
			if b, ok := a.beads[ev.BeadID]; ok {
				b.State = StateClaimed
				b.ClaimedBy = ev.AgentID
			}
		case eventstore.KindBeadStarted:
			if b, ok := a.beads[ev.BeadID]; ok {
				b.State = StateRunning
			}
		case eventstore.KindBeadCompleted:
			if b, ok := a.beads[ev.BeadID]; ok {
				b.State = StateCompleted
				_ = a.graph.MarkCompleted(ev.BeadID)
			}
		case eventstore.KindBeadFailed:
			if b, ok := a.beads[ev.BeadID]; ok {
				b.State = StateFailed
				b.AttemptCount++
			}
		case eventstore.KindBeadCancelled:
			if b, ok := a.beads[ev.BeadID]; ok {
				b.State = StateCancelled
			}
		}
	}
	a.recomputeReady()
	return nil
}

// --- public command/query API -------------------------------------------

func (a *WorkflowActor) send(cmd command) error {
	cmd.reply = make(chan error, 1)
	a.commands <- cmd
	return <-cmd.reply
}

func (a *WorkflowActor) ask(ctx context.Context, q query) (queryResult, error) {
	q.reply = make(chan queryResult, 1)
	select {
	case a.queries <- q:
	case <-ctx.Done():
		return queryResult{}, errs.Timeout("workflow_actor", 0)
	}
	select {
	case r := <-q.reply:
		return r, nil
	case <-ctx.Done():
		return queryResult{}, errs.Timeout("workflow_actor", 0)
	}
}

func (a *WorkflowActor) AddBead(id ids.ID) error {
	return a.send(command{kind: cmdAddBead, beadID: id})
}

func (a *WorkflowActor) AddDependency(from, to ids.ID, kind dag.EdgeKind) error {
	return a.send(command{kind: cmdAddDependency, from: from, to: to, edgeKind: kind})
}

func (a *WorkflowActor) MarkCompleted(id ids.ID) error {
	return a.send(command{kind: cmdMarkCompleted, beadID: id})
}

// MarkFailed transitions id to Failed, recording reason (e.g. "stuck_bead")
// on the bead record for diagnostics.
func (a *WorkflowActor) MarkFailed(id ids.ID, reason string) error {
	return a.send(command{kind: cmdMarkFailed, beadID: id, reason: reason})
}

// MarkRunning transitions id from Claimed to Running, recording the time so
// the reconciler's stuck-bead sweep can measure how long it has run.
func (a *WorkflowActor) MarkRunning(id ids.ID) error {
	return a.send(command{kind: cmdMarkRunning, beadID: id})
}

func (a *WorkflowActor) ClaimBead(id ids.ID, workerID string) error {
	return a.send(command{kind: cmdClaimBead, beadID: id, workerID: workerID})
}

// ClaimNextReadyBead asks the workflow's configured distribution strategy to
// pick the next ready bead and, among agentCandidates, the agent to claim it
// for, then performs that claim. It reports ok=false if there is no ready
// bead or no eligible agent.
func (a *WorkflowActor) ClaimNextReadyBead(ctx context.Context, agentCandidates []distribution.AgentCandidate) (ids.ID, string, bool, error) {
	cmd := command{kind: cmdClaimNext, agentCandidates: agentCandidates, claimReply: make(chan claimResult, 1)}
	select {
	case a.commands <- cmd:
	case <-ctx.Done():
		return ids.Nil, "", false, errs.Timeout("workflow_actor", 0)
	}
	select {
	case r := <-cmd.claimReply:
		return r.beadID, r.agentID, r.ok, nil
	case <-ctx.Done():
		return ids.Nil, "", false, errs.Timeout("workflow_actor", 0)
	}
}

func (a *WorkflowActor) ReleaseBead(id ids.ID) error {
	return a.send(command{kind: cmdReleaseBead, beadID: id})
}

// CancelBead transitions id to Cancelled from any non-terminal state.
// Cancelling an already-cancelled bead is a no-op, not an error, matching
// the idempotent-cancel requirement on the external API.
func (a *WorkflowActor) CancelBead(id ids.ID) error {
	return a.send(command{kind: cmdCancelBead, beadID: id})
}

func (a *WorkflowActor) Rehydrate(events []eventstore.Event) error {
	return a.send(command{kind: cmdRehydrate, events: events})
}

func (a *WorkflowActor) Shutdown() {
	_ = a.send(command{kind: cmdShutdown})
	<-a.done
}

func (a *WorkflowActor) GetReadyBeads(ctx context.Context) ([]ids.ID, error) {
	r, err := a.ask(ctx, query{kind: qryGetReadyBeads})
	return r.ids, err
}

func (a *WorkflowActor) IsBeadReady(ctx context.Context, id ids.ID) (bool, error) {
	r, err := a.ask(ctx, query{kind: qryIsBeadReady, id: id})
	return r.ready, err
}

func (a *WorkflowActor) GetWorkflowStatus(ctx context.Context) (WorkflowStatus, error) {
	r, err := a.ask(ctx, query{kind: qryGetWorkflowStatus})
	return r.status, err
}

func (a *WorkflowActor) GetAllReadyBeads(ctx context.Context) ([]ids.ID, error) {
	r, err := a.ask(ctx, query{kind: qryGetAllReadyBeads})
	return r.ids, err
}

// StuckBeads returns beads that have been Running since before
// now.Add(-threshold), for the reconciler's stuck-bead sweep.
func (a *WorkflowActor) StuckBeads(ctx context.Context, now time.Time, threshold time.Duration) ([]ids.ID, error) {
	r, err := a.ask(ctx, query{kind: qryStuckBeads, now: now, threshold: threshold})
	return r.ids, err
}

// Done is closed once the actor's run loop has exited after Shutdown, so a
// supervisor can block on it without itself calling Shutdown.
func (a *WorkflowActor) Done() <-chan struct{} {
	return a.done
}
