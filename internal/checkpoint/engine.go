package checkpoint

import (
	"context"
	"log/slog"

	"github.com/lprior-repo/oya-sub007/internal/errs"
	"github.com/lprior-repo/oya-sub007/internal/ids"
	"go.opentelemetry.io/otel"
)

// Checkpoint is one snapshot of a workflow at a given phase, taken after
// EventSequence events have been durably appended. Body is the caller's
// opaque, already-compressed-and-framed snapshot (see Serialize).
type Checkpoint struct {
	WorkflowID    ids.ID
	PhaseID       ids.ID
	EventSequence uint64
	Body          []byte
}

// Store persists checkpoints and supports rewinding a workflow's history.
// ClearCheckpointsAfter is used by Rewind to discard snapshots taken after
// the rewind target, so a subsequent MaybeCheckpoint doesn't leave orphaned
// future state lying around.
type Store interface {
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
	LoadCheckpoint(ctx context.Context, workflowID, phaseID ids.ID) (Checkpoint, bool, error)
	ListCheckpoints(ctx context.Context, workflowID ids.ID) ([]Checkpoint, error)
	ClearCheckpointsAfter(ctx context.Context, workflowID ids.ID, eventSequence uint64) error
}

// Engine decides when to checkpoint and performs rewinds. It owns no
// journaling of its own: appending a "rewound" event to the workflow's
// history is the workflow engine's responsibility, once it has the
// restored body in hand.
type Engine struct {
	store  Store
	policy Policy
}

// NewEngine pairs a store with a write policy.
func NewEngine(store Store, policy Policy) *Engine {
	if policy == nil {
		policy = AlwaysPolicy{}
	}
	return &Engine{store: store, policy: policy}
}

// MaybeCheckpoint asks the policy whether this phase transition should be
// persisted and, if so, compresses and writes body. It reports whether a
// checkpoint was actually written.
func (e *Engine) MaybeCheckpoint(ctx context.Context, workflowID, phaseID ids.ID, eventSequence uint64, success bool, body []byte) (bool, error) {
	if !e.policy.Update(success) {
		return false, nil
	}

	tr := otel.Tracer("orchestrator")
	ctx, span := tr.Start(ctx, "checkpoint.MaybeCheckpoint")
	defer span.End()

	cp := Checkpoint{
		WorkflowID:    workflowID,
		PhaseID:       phaseID,
		EventSequence: eventSequence,
		Body:          Serialize(body),
	}
	if err := e.store.SaveCheckpoint(ctx, cp); err != nil {
		return false, errs.StoreFailed("save checkpoint", err)
	}
	slog.Debug("checkpoint written", "workflow_id", workflowID, "phase_id", phaseID, "event_sequence", eventSequence)
	return true, nil
}

// Rewind loads the checkpoint at targetPhase, decompresses its body, and
// discards any checkpoints saved after it so the workflow's snapshot
// history is consistent with the rewound point. It returns the restored
// body for the workflow engine to reconstruct in-memory state from; the
// caller is responsible for appending the corresponding journal entry.
func (e *Engine) Rewind(ctx context.Context, workflowID, targetPhase ids.ID) ([]byte, error) {
	tr := otel.Tracer("orchestrator")
	ctx, span := tr.Start(ctx, "checkpoint.Rewind")
	defer span.End()

	cp, ok, err := e.store.LoadCheckpoint(ctx, workflowID, targetPhase)
	if err != nil {
		return nil, errs.StoreFailed("load checkpoint", err)
	}
	if !ok {
		return nil, errs.NotFound("checkpoint", targetPhase.String())
	}

	body, err := Deserialize(cp.Body)
	if err != nil {
		return nil, err
	}

	if err := e.store.ClearCheckpointsAfter(ctx, workflowID, cp.EventSequence); err != nil {
		return nil, errs.StoreFailed("clear checkpoints after rewind", err)
	}
	slog.Info("workflow rewound", "workflow_id", workflowID, "phase_id", targetPhase, "event_sequence", cp.EventSequence)
	return body, nil
}
