// Package eventstore implements the append-only event log: the durable
// source of truth that every projection in the orchestrator is rebuilt
// from. Two backends are provided — an in-memory log for tests and
// single-process deployments, and an embedded KV log (bbolt) for durable
// crash recovery — behind the same Store interface.
package eventstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lprior-repo/oya-sub007/internal/ids"
)

// Kind is the tagged-union discriminator for an Event's payload. Names
// are snake_case to match the wire event-stream discriminator used by
// external subscribers.
type Kind string

const (
	KindWorkflowRegistered    Kind = "workflow_registered"
	KindWorkflowUnregistered  Kind = "workflow_unregistered"
	KindWorkflowStatusChanged Kind = "workflow_status_changed"
	KindBeadScheduled         Kind = "bead_scheduled"
	KindBeadClaimed           Kind = "bead_claimed"
	KindBeadStarted           Kind = "bead_started"
	KindBeadCompleted         Kind = "bead_completed"
	KindBeadFailed            Kind = "bead_failed"
	KindBeadCancelled         Kind = "bead_cancelled"
	KindCheckpointCreated     Kind = "checkpoint_created"
	KindAgentRegistered       Kind = "agent_registered"
	KindAgentUnregistered     Kind = "agent_unregistered"
	KindAgentHeartbeat        Kind = "agent_heartbeat"
)

// Event is an immutable, ordered record appended to the log. Sequence is
// strictly increasing per store instance; ID is globally unique; every
// bead-affecting Kind carries a non-empty BeadID.
type Event struct {
	ID         ids.ID          `json:"id"`
	Sequence   uint64          `json:"sequence"`
	Timestamp  time.Time       `json:"timestamp"`
	Type       Kind            `json:"type"`
	WorkflowID ids.ID          `json:"workflow_id"`
	BeadID     ids.ID          `json:"bead_id,omitempty"`
	AgentID    string          `json:"agent_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// IsBeadEvent reports whether Type is one of the Bead{...} variants, which
// per the data model invariant must carry a non-nil BeadID.
func (e Event) IsBeadEvent() bool {
	switch e.Type {
	case KindBeadScheduled, KindBeadClaimed, KindBeadStarted, KindBeadCompleted, KindBeadFailed, KindBeadCancelled:
		return true
	default:
		return false
	}
}

// Store is the append-only log contract. Implementations must guarantee
// append is linearizable per instance and that readers observe a
// consistent prefix.
type Store interface {
	// Append assigns the next Sequence and ID, persists ev, and returns the
	// persisted record. Fails with errs.KindStoreFailed on backend error —
	// a fatal error that halts the caller rather than silently losing
	// events.
	Append(ctx context.Context, ev Event) (Event, error)
	// ReadForBead returns every event recorded against beadID, in append
	// order, in a slice built for this call; it does not share backing
	// storage with the log.
	ReadForBead(ctx context.Context, beadID ids.ID) ([]Event, error)
	// ReadFrom returns up to limit events with Sequence >= from, in order.
	// limit <= 0 means unbounded.
	ReadFrom(ctx context.Context, from uint64, limit int) ([]Event, error)
	// LastSequence returns the highest Sequence appended so far, or 0 if
	// the log is empty.
	LastSequence() uint64
	// Close releases backend resources (no-op for the in-memory backend).
	Close() error
}
