package distribution

import "testing"

func TestCreateUnknownNameFails(t *testing.T) {
	if _, err := Create("nonexistent"); err == nil {
		t.Fatalf("expected error for unknown strategy name")
	}
}

func TestCreateKnownNames(t *testing.T) {
	for _, name := range []string{"fifo", "priority", "round_robin", "affinity", "affinity_hard"} {
		if _, err := Create(name); err != nil {
			t.Fatalf("Create(%q): %v", name, err)
		}
	}
}

func TestFIFOIgnoresMetadata(t *testing.T) {
	s := FIFO{}
	ctx := Context{
		Beads:  []BeadCandidate{{ID: "b1", Priority: 0}, {ID: "b2", Priority: 99}},
		Agents: []AgentCandidate{{ID: "a1", Load: 99}, {ID: "a2", Load: 0}},
	}
	id, ok := s.SelectBead(ctx)
	if !ok || id != "b1" {
		t.Fatalf("expected first bead b1, got %q ok=%v", id, ok)
	}
	id, ok = s.SelectAgent("b1", ctx)
	if !ok || id != "a1" {
		t.Fatalf("expected first agent a1, got %q ok=%v", id, ok)
	}
}

func TestEmptyCandidatesReturnNotOK(t *testing.T) {
	for _, name := range []string{"fifo", "priority", "round_robin", "affinity", "affinity_hard"} {
		s, _ := Create(name)
		if _, ok := s.SelectBead(Context{}); ok {
			t.Fatalf("%s: expected not-ok on empty bead candidates", name)
		}
		if _, ok := s.SelectAgent("x", Context{}); ok {
			t.Fatalf("%s: expected not-ok on empty agent candidates", name)
		}
	}
}

func TestPriorityPicksHighestPriorityAndLowestLoad(t *testing.T) {
	p := &Priority{}
	ctx := Context{
		Beads:  []BeadCandidate{{ID: "low", Priority: 1}, {ID: "high", Priority: 5}},
		Agents: []AgentCandidate{{ID: "busy", Load: 10}, {ID: "idle", Load: 1}},
	}
	id, _ := p.SelectBead(ctx)
	if id != "high" {
		t.Fatalf("expected high priority bead, got %q", id)
	}
	id, _ = p.SelectAgent("high", ctx)
	if id != "idle" {
		t.Fatalf("expected lowest-loaded agent, got %q", id)
	}
}

func TestRoundRobinRotatesAgents(t *testing.T) {
	rr := &RoundRobin{}
	ctx := Context{Agents: []AgentCandidate{{ID: "a1"}, {ID: "a2"}, {ID: "a3"}}}
	seen := []string{}
	for i := 0; i < 4; i++ {
		id, _ := rr.SelectAgent("bead", ctx)
		seen = append(seen, id)
	}
	want := []string{"a1", "a2", "a3", "a1"}
	for i, w := range want {
		if seen[i] != w {
			t.Fatalf("call %d: got %q want %q (full: %v)", i, seen[i], w, seen)
		}
	}
}

func TestAffinityHardRejectsMissingCapability(t *testing.T) {
	a := &Affinity{Hard: true}
	ctx := Context{
		Beads:  []BeadCandidate{{ID: "b1", RequiredCapabilities: []string{"gpu"}}},
		Agents: []AgentCandidate{{ID: "no-gpu", Capabilities: []string{"cpu"}}},
	}
	if _, ok := a.SelectAgent("b1", ctx); ok {
		t.Fatalf("expected no agent to satisfy hard affinity requirement")
	}
}

func TestAffinitySoftPrefersButAllowsMismatch(t *testing.T) {
	a := &Affinity{Hard: false}
	ctx := Context{
		Beads: []BeadCandidate{{ID: "b1", RequiredCapabilities: []string{"gpu", "avx512"}}},
		Agents: []AgentCandidate{
			{ID: "partial", Capabilities: []string{"gpu"}},
			{ID: "none", Capabilities: []string{"cpu"}},
		},
	}
	id, ok := a.SelectAgent("b1", ctx)
	if !ok || id != "partial" {
		t.Fatalf("expected partial-overlap agent to win under soft affinity, got %q ok=%v", id, ok)
	}
}
