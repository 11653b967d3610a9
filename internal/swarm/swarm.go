// Package swarm tracks the population of agents available to the
// scheduler: their declared capabilities, role, and a health state that
// decays from Idle through Unhealthy to Dead absent a heartbeat.
package swarm

import (
	"sort"
	"sync"
	"time"
)

// AgentState is an agent's lifecycle state in the registry.
type AgentState int

const (
	AgentIdle AgentState = iota
	AgentClaimed
	AgentWorking
	AgentUnhealthy
	AgentDead
)

func (s AgentState) String() string {
	switch s {
	case AgentIdle:
		return "idle"
	case AgentClaimed:
		return "claimed"
	case AgentWorking:
		return "working"
	case AgentUnhealthy:
		return "unhealthy"
	case AgentDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Role mirrors the original swarm's fixed agent roles.
type Role string

const (
	RoleTestWriter  Role = "test_writer"
	RoleImplementer Role = "implementer"
	RoleReviewer    Role = "reviewer"
	RolePlanner     Role = "planner"
)

// Config bounds the population and failure tolerance of a swarm, grounded
// on the original's SwarmConfig.
type Config struct {
	TargetBeads            int
	TestWriters            int
	Implementers           int
	Reviewers              int
	Planner                bool
	MaxTimeout             time.Duration
	MaxConsecutiveFailures int
}

// DefaultConfig matches the original's compile-time defaults.
func DefaultConfig() Config {
	return Config{
		TargetBeads:            25,
		TestWriters:            4,
		Implementers:           4,
		Reviewers:              4,
		Planner:                true,
		MaxTimeout:             time.Hour,
		MaxConsecutiveFailures: 10,
	}
}

// Validate enforces the same invariants as the original's validate(): every
// role count must be positive and the timeout must be nonzero. Unlike the
// original, continuous-deployment is not a config field here — this module
// has no deployment step to gate, so that invariant does not carry over.
func (c Config) Validate() error {
	switch {
	case c.TargetBeads <= 0:
		return errConfig("target_beads must be greater than 0")
	case c.TestWriters <= 0:
		return errConfig("test_writers must be greater than 0")
	case c.Implementers <= 0:
		return errConfig("implementers must be greater than 0")
	case c.Reviewers <= 0:
		return errConfig("reviewers must be greater than 0")
	case c.MaxTimeout <= 0:
		return errConfig("max_timeout_secs must be greater than 0")
	}
	return nil
}

// TotalAgents returns the configured population size.
func (c Config) TotalAgents() int {
	n := c.TestWriters + c.Implementers + c.Reviewers
	if c.Planner {
		n++
	}
	return n
}

type configError string

func (e configError) Error() string { return string(e) }

func errConfig(msg string) error { return configError(msg) }

// Agent is one registered worker.
type Agent struct {
	ID           string
	Role         Role
	Capabilities []string
	State        AgentState
	ClaimedBead  string
	LastSeen     time.Time
	HealthScore  float64
}

// Registry is the live set of known agents, keyed by agent id.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*Agent)}
}

// Register adds or replaces an agent's declared capabilities and role,
// marking it Idle with a full health score.
func (r *Registry) Register(id string, role Role, capabilities []string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[id] = &Agent{
		ID:           id,
		Role:         role,
		Capabilities: capabilities,
		State:        AgentIdle,
		LastSeen:     now,
		HealthScore:  1.0,
	}
}

// Unregister removes an agent entirely, e.g. on explicit decommission.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
}

// Get returns a copy of the named agent's current state.
func (r *Registry) Get(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return Agent{}, false
	}
	return *a, true
}

// Touch records a heartbeat from id, restoring it to Idle if it had
// decayed to Unhealthy (but not if it was already declared Dead — a dead
// agent must re-Register to rejoin the swarm).
func (r *Registry) Touch(id string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok || a.State == AgentDead {
		return false
	}
	a.LastSeen = now
	a.HealthScore = 1.0
	if a.State == AgentUnhealthy {
		a.State = AgentIdle
	}
	return true
}

// Claim transitions an Idle agent to Claimed for the given bead.
func (r *Registry) Claim(id, beadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok || a.State != AgentIdle {
		return false
	}
	a.State = AgentClaimed
	a.ClaimedBead = beadID
	return true
}

// Release returns a Claimed or Working agent to Idle.
func (r *Registry) Release(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok || (a.State != AgentClaimed && a.State != AgentWorking) {
		return false
	}
	a.State = AgentIdle
	a.ClaimedBead = ""
	return true
}

// ClearClaim drops id's recorded claimed-bead without otherwise changing
// its state, for the reconciler to call once it has released a dead
// agent's bead elsewhere: a Dead agent never returns to Idle on its own,
// so without this its ClaimedBead would keep reporting the same drift on
// every subsequent sweep.
func (r *Registry) ClearClaim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok || a.ClaimedBead == "" {
		return false
	}
	a.ClaimedBead = ""
	return true
}

// Idle returns the ids of every currently-Idle agent, ordered by a stable
// scan of the underlying map sorted by id so callers get deterministic
// results across calls.
func (r *Registry) Idle() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, a := range r.agents {
		if a.State == AgentIdle {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ByRole returns every agent currently in the given role.
func (r *Registry) ByRole(role Role) []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Agent
	for _, a := range r.agents {
		if a.Role == role {
			out = append(out, *a)
		}
	}
	return out
}

// Sweep decays every agent whose LastSeen is older than unhealthyAfter to
// Unhealthy, and further to Dead once older than deadAfter, returning the
// ids that changed state. Claimed/Working agents that go Dead are reported
// so the caller (the reconciler) can release their claimed bead.
func (r *Registry) Sweep(now time.Time, unhealthyAfter, deadAfter time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var changed []string
	for id, a := range r.agents {
		if a.State == AgentDead {
			continue
		}
		age := now.Sub(a.LastSeen)
		switch {
		case age >= deadAfter:
			a.State = AgentDead
			a.HealthScore = 0
			changed = append(changed, id)
		case age >= unhealthyAfter:
			if a.State != AgentUnhealthy {
				a.State = AgentUnhealthy
				a.HealthScore = 0.5
				changed = append(changed, id)
			}
		}
	}
	return changed
}
