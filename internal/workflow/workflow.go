// Package workflow implements phase sequencing over a bead's handler chain:
// a primary handler plus ordered fallbacks, per-phase retry and timeout,
// journal entries for every transition, and replay-based recovery.
package workflow

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/lprior-repo/oya-sub007/internal/checkpoint"
	"github.com/lprior-repo/oya-sub007/internal/errs"
	"github.com/lprior-repo/oya-sub007/internal/ids"
)

// Handler executes one phase and returns its opaque output, to be handed to
// the checkpoint engine as the snapshot body.
type Handler func(ctx context.Context, input []byte) ([]byte, error)

// RetryPolicy bounds how many times a phase is retried and how long a
// single attempt may run before being abandoned.
type RetryPolicy struct {
	MaxAttempts int
	Timeout     time.Duration
}

// Phase is one stage of a workflow's linear execution plan.
type Phase struct {
	ID        ids.ID
	Name      string
	Primary   Handler
	Fallbacks []Handler
	Retry     RetryPolicy
}

// handlers returns the primary followed by every fallback, in try order.
func (p Phase) handlers() []Handler {
	out := make([]Handler, 0, 1+len(p.Fallbacks))
	out = append(out, p.Primary)
	out = append(out, p.Fallbacks...)
	return out
}

// JournalEntryKind discriminates a phase's journal entries.
type JournalEntryKind int

const (
	PhaseStarted JournalEntryKind = iota
	PhaseCompleted
	PhaseFailed
	PhaseRolledBack
)

// JournalEntry is one record of a phase's execution history.
type JournalEntry struct {
	PhaseID ids.ID
	Kind    JournalEntryKind
	Output  []byte
	Reason  string
	At      time.Time
}

// Journal appends and replays JournalEntry records for one workflow.
type Journal interface {
	Append(ctx context.Context, entry JournalEntry) error
	ReadAll(ctx context.Context) ([]JournalEntry, error)
}

// Definition is an ordered list of phases. A phase with no primary handler
// is rejected at construction, never deferred to execution time.
type Definition struct {
	WorkflowID ids.ID
	Phases     []Phase
}

// Validate enforces that every phase has a primary handler.
func (d Definition) Validate() error {
	for _, p := range d.Phases {
		if p.Primary == nil {
			return errs.InvalidConfig("phase " + p.Name + " has no primary handler")
		}
	}
	return nil
}

// Engine runs a Definition's phases in order against a Journal. checkpoints
// is optional: when set, every phase completion or exhaustion is offered to
// it so its policy can decide whether to snapshot the result.
type Engine struct {
	def         Definition
	journal     Journal
	checkpoints *checkpoint.Engine
	seq         uint64
}

// NewEngine validates def and pairs it with journal.
func NewEngine(def Definition, journal Journal) (*Engine, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &Engine{def: def, journal: journal}, nil
}

// WithCheckpoints attaches a checkpoint engine so RunPhase snapshots its
// output per ce's policy; it returns e for chaining off NewEngine.
func (e *Engine) WithCheckpoints(ce *checkpoint.Engine) *Engine {
	e.checkpoints = ce
	return e
}

// RunPhase executes phases[idx]'s handler chain: the primary, then each
// fallback in order, stopping at the first success. All handlers failing
// returns AllHandlersFailed naming every attempted handler by index. Every
// outcome, success or exhaustion, is offered to the attached checkpoint
// engine (if any) so its policy can decide whether to snapshot it — this is
// the completion-event -> state-transition -> checkpoint step in a phase's
// lifecycle.
func (e *Engine) RunPhase(ctx context.Context, idx int, input []byte) ([]byte, error) {
	phase := e.def.Phases[idx]
	_ = e.journal.Append(ctx, JournalEntry{PhaseID: phase.ID, Kind: PhaseStarted, At: time.Now().UTC()})

	handlers := phase.handlers()
	var lastErr error
	attempted := make([]string, 0, len(handlers))

	for hi, h := range handlers {
		attempted = append(attempted, handlerLabel(phase.Name, hi))
		output, err := e.runWithRetry(ctx, phase, h, input)
		if err == nil {
			_ = e.journal.Append(ctx, JournalEntry{PhaseID: phase.ID, Kind: PhaseCompleted, Output: output, At: time.Now().UTC()})
			e.maybeCheckpoint(ctx, phase.ID, true, output)
			return output, nil
		}
		lastErr = err
	}

	_ = e.journal.Append(ctx, JournalEntry{PhaseID: phase.ID, Kind: PhaseFailed, Reason: lastErr.Error(), At: time.Now().UTC()})
	e.maybeCheckpoint(ctx, phase.ID, false, nil)
	return nil, errs.AllHandlersFailed(attempted)
}

// maybeCheckpoint is a no-op when no checkpoint engine is attached. A
// checkpoint failure is logged by the checkpoint engine itself and never
// fails the phase it describes — checkpointing is a durability aid, not a
// precondition for progress.
func (e *Engine) maybeCheckpoint(ctx context.Context, phaseID ids.ID, success bool, output []byte) {
	if e.checkpoints == nil {
		return
	}
	seq := atomic.AddUint64(&e.seq, 1)
	_, _ = e.checkpoints.MaybeCheckpoint(ctx, e.def.WorkflowID, phaseID, seq, success, output)
}

func (e *Engine) runWithRetry(ctx context.Context, phase Phase, h Handler, input []byte) ([]byte, error) {
	maxAttempts := phase.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		output, err := e.runOnce(ctx, phase.Retry.Timeout, h, input)
		if err == nil {
			return output, nil
		}
		lastErr = err
		if !errs.Retryable(err) {
			return nil, err
		}
	}
	exceeded := errs.MaxRetriesExceeded(phase.Name, maxAttempts)
	exceeded.Err = lastErr
	return nil, exceeded
}

func (e *Engine) runOnce(ctx context.Context, timeout time.Duration, h Handler, input []byte) ([]byte, error) {
	if timeout <= 0 {
		return h(ctx, input)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		output []byte
		err    error
	}
	done := make(chan result, 1)
	go func() {
		output, err := h(callCtx, input)
		done <- result{output, err}
	}()

	select {
	case r := <-done:
		return r.output, r.err
	case <-callCtx.Done():
		return nil, errs.Timeout("phase", timeout)
	}
}

func handlerLabel(phaseName string, idx int) string {
	if idx == 0 {
		return phaseName + ":primary"
	}
	return phaseName + ":fallback" + strconv.Itoa(idx-1)
}
