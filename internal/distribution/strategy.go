// Package distribution implements pluggable bead-to-agent selection
// strategies: FIFO, Priority, RoundRobin, and capability-based Affinity.
package distribution

import "github.com/lprior-repo/oya-sub007/internal/errs"

// BeadCandidate is the scheduling-relevant metadata for a ready bead.
type BeadCandidate struct {
	ID                   string
	Priority             int
	RequiredCapabilities []string
}

// AgentCandidate is the scheduling-relevant metadata for a known agent.
type AgentCandidate struct {
	ID           string
	Load         int
	Capabilities []string
}

// Context carries the candidate pools a strategy chooses from.
type Context struct {
	Beads  []BeadCandidate
	Agents []AgentCandidate
}

// Strategy selects a bead to run next and an agent to run it on.
// Implementations never mutate their inputs; both selections return ok=false
// on an empty candidate list rather than an error.
type Strategy interface {
	SelectBead(ctx Context) (id string, ok bool)
	SelectAgent(beadID string, ctx Context) (id string, ok bool)
}

// Create builds a Strategy from its name: "fifo", "priority",
// "round_robin", "affinity", "affinity_hard".
func Create(name string) (Strategy, error) {
	switch name {
	case "fifo":
		return FIFO{}, nil
	case "priority":
		return &Priority{}, nil
	case "round_robin":
		return &RoundRobin{}, nil
	case "affinity":
		return &Affinity{Hard: false}, nil
	case "affinity_hard":
		return &Affinity{Hard: true}, nil
	default:
		return nil, errs.InvalidConfig("unknown distribution strategy: " + name)
	}
}
