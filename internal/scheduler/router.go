package scheduler

import (
	"context"
	"sync"

	"github.com/lprior-repo/oya-sub007/internal/distribution"
	"github.com/lprior-repo/oya-sub007/internal/errs"
	"github.com/lprior-repo/oya-sub007/internal/ids"
)

// Counters is a snapshot of aggregate counts across every registered
// workflow: Total, Pending and Completed count workflows (by workflow
// status), Ready counts ready beads summed over all of them.
type Counters struct {
	Total     int
	Pending   int
	Ready     int
	Completed int
}

// SchedulerActor routes commands and queries to the WorkflowActor owning
// their workflow id, and maintains aggregate counters across all of them.
type SchedulerActor struct {
	mu        sync.RWMutex
	workflows map[ids.ID]*WorkflowActor
	strategy  func() distribution.Strategy
}

// NewSchedulerActor returns a router that creates a fresh strategy instance
// (via newStrategy) per workflow it registers, since strategies like
// RoundRobin carry per-instance cursor state that must not be shared
// across unrelated workflows.
func NewSchedulerActor(newStrategy func() distribution.Strategy) *SchedulerActor {
	return &SchedulerActor{
		workflows: make(map[ids.ID]*WorkflowActor),
		strategy:  newStrategy,
	}
}

// RegisterWorkflow creates and starts a WorkflowActor for id if one does
// not already exist.
func (s *SchedulerActor) RegisterWorkflow(id ids.ID) *WorkflowActor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.workflows[id]; ok {
		return a
	}
	a := NewWorkflowActor(id, s.strategy())
	s.workflows[id] = a
	return a
}

// Workflow returns the actor for id, or an error if it is not registered.
func (s *SchedulerActor) Workflow(id ids.ID) (*WorkflowActor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.workflows[id]
	if !ok {
		return nil, errs.NotFound("workflow", id.String())
	}
	return a, nil
}

// WorkflowIDs returns the ids of every currently registered workflow, for
// callers that need to enumerate them (e.g. the reconciler's periodic
// sweep, which otherwise has no way to discover what to reconcile).
func (s *SchedulerActor) WorkflowIDs() []ids.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ids.ID, 0, len(s.workflows))
	for id := range s.workflows {
		out = append(out, id)
	}
	return out
}

// Shutdown stops every registered workflow actor.
func (s *SchedulerActor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.workflows {
		a.Shutdown()
	}
}

// Counters computes the aggregate counts across every registered workflow.
// It reads each workflow actor's ready set via its query channel, so it
// never touches a WorkflowActor's internal state directly.
func (s *SchedulerActor) Counters(ctx context.Context) (Counters, error) {
	s.mu.RLock()
	actors := make([]*WorkflowActor, 0, len(s.workflows))
	for _, a := range s.workflows {
		actors = append(actors, a)
	}
	s.mu.RUnlock()

	var c Counters
	for _, a := range actors {
		ready, err := a.GetReadyBeads(ctx)
		if err != nil {
			return Counters{}, err
		}
		status, err := a.GetWorkflowStatus(ctx)
		if err != nil {
			return Counters{}, err
		}
		c.Ready += len(ready)
		switch status {
		case WorkflowCompleted:
			c.Completed++
		case WorkflowPending:
			c.Pending++
		}
		c.Total++
	}
	return c, nil
}
