package swarm

import (
	"testing"
	"time"
)

func TestDefaultConfigMatchesOriginalDefaults(t *testing.T) {
	c := DefaultConfig()
	if c.TotalAgents() != 13 {
		t.Fatalf("expected 13 total agents (4+4+4+planner), got %d", c.TotalAgents())
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected default config valid, got %v", err)
	}
}

func TestValidateRejectsZeroCounts(t *testing.T) {
	c := DefaultConfig()
	c.Implementers = 0
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for zero implementers")
	}
}

func TestRegisterAndClaimLifecycle(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.Register("agent-1", RoleImplementer, []string{"go"}, now)

	a, ok := r.Get("agent-1")
	if !ok || a.State != AgentIdle {
		t.Fatalf("expected agent-1 idle after register, got %+v ok=%v", a, ok)
	}

	if !r.Claim("agent-1", "bead-1") {
		t.Fatalf("expected claim to succeed on idle agent")
	}
	if r.Claim("agent-1", "bead-2") {
		t.Fatalf("expected second claim on already-claimed agent to fail")
	}

	if !r.Release("agent-1") {
		t.Fatalf("expected release to succeed")
	}
	a, _ = r.Get("agent-1")
	if a.State != AgentIdle || a.ClaimedBead != "" {
		t.Fatalf("expected agent idle with no claim after release, got %+v", a)
	}
}

func TestTouchRevivesUnhealthyButNotDead(t *testing.T) {
	r := NewRegistry()
	base := time.Now()
	r.Register("agent-1", RoleReviewer, nil, base)

	r.Sweep(base.Add(2*time.Minute), time.Minute, 10*time.Minute)
	a, _ := r.Get("agent-1")
	if a.State != AgentUnhealthy {
		t.Fatalf("expected unhealthy after stale sweep, got %v", a.State)
	}
	if !r.Touch("agent-1", base.Add(3*time.Minute)) {
		t.Fatalf("expected touch to succeed on unhealthy agent")
	}
	a, _ = r.Get("agent-1")
	if a.State != AgentIdle {
		t.Fatalf("expected idle after touch revives unhealthy agent, got %v", a.State)
	}

	r.Sweep(base.Add(20*time.Minute), time.Minute, 10*time.Minute)
	if r.Touch("agent-1", base.Add(25*time.Minute)) {
		t.Fatalf("expected touch to fail once agent is dead")
	}
}

func TestClearClaimDropsClaimWithoutRevivingDeadAgent(t *testing.T) {
	r := NewRegistry()
	base := time.Now()
	r.Register("agent-1", RoleImplementer, nil, base)
	r.Claim("agent-1", "bead-1")
	r.Sweep(base.Add(time.Hour), time.Minute, 10*time.Minute)

	if !r.ClearClaim("agent-1") {
		t.Fatalf("expected ClearClaim to succeed on a dead agent holding a claim")
	}
	a, _ := r.Get("agent-1")
	if a.ClaimedBead != "" {
		t.Fatalf("expected claimed bead cleared, got %q", a.ClaimedBead)
	}
	if a.State != AgentDead {
		t.Fatalf("expected ClearClaim to leave state Dead, got %v", a.State)
	}
	if r.ClearClaim("agent-1") {
		t.Fatalf("expected second ClearClaim with nothing to clear to report false")
	}
}

func TestSweepMarksDeadAfterLongSilence(t *testing.T) {
	r := NewRegistry()
	base := time.Now()
	r.Register("agent-1", RoleTestWriter, nil, base)

	changed := r.Sweep(base.Add(time.Hour), time.Minute, 10*time.Minute)
	if len(changed) != 1 || changed[0] != "agent-1" {
		t.Fatalf("expected agent-1 reported changed, got %v", changed)
	}
	a, _ := r.Get("agent-1")
	if a.State != AgentDead {
		t.Fatalf("expected dead after long silence, got %v", a.State)
	}
}

func TestIdleAndByRoleFiltering(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.Register("w1", RoleImplementer, nil, now)
	r.Register("w2", RoleImplementer, nil, now)
	r.Register("r1", RoleReviewer, nil, now)
	_ = r.Claim("w1", "bead-1")

	idle := r.Idle()
	if len(idle) != 2 {
		t.Fatalf("expected 2 idle agents, got %v", idle)
	}

	impls := r.ByRole(RoleImplementer)
	if len(impls) != 2 {
		t.Fatalf("expected 2 implementers, got %d", len(impls))
	}
}
