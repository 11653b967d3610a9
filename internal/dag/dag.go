// Package dag implements the workflow DAG engine: a node+edge store
// over bead ids, incremental ready-set computation, and cycle rejection.
//
// The graph is an arena of nodes indexed by a dense integer, with two
// incidence lists per node (inbound/outbound) storing (peer-index, kind).
// The stable external id maps to the arena index via a hash map. This
// avoids pointer-based adjacency so cycles can never corrupt memory safety,
// only be rejected outright.
//
// Ready-set computation tracks Completed/not-Completed only; whether a bead
// is presently Claimed or Running is bead-lifecycle state owned by the
// scheduler, layered on top of this package's pure dependency view.
package dag

import (
	"sync"

	"github.com/lprior-repo/oya-sub007/internal/errs"
	"github.com/lprior-repo/oya-sub007/internal/ids"
)

// EdgeKind distinguishes edges that participate in ready-set computation
// from those that only influence scheduler tie-breaks.
type EdgeKind int

const (
	// Blocking edges must complete before their target becomes ready.
	Blocking EdgeKind = iota
	// Preferred edges carry no scheduling obligation.
	Preferred
)

type edge struct {
	peer int
	kind EdgeKind
}

type node struct {
	id            ids.ID
	completed     bool
	inbound       []edge
	outbound      []edge
	unmetBlocking int // count of not-yet-completed Blocking predecessors
}

// Graph is the node+edge store for a single workflow's beads. It is never
// shared for concurrent mutation: only the owning workflow actor mutates it,
// readers receive snapshots via ReadyBeads/Dependents.
type Graph struct {
	mu    sync.RWMutex
	index map[ids.ID]int
	nodes []*node
	order []ids.ID // insertion order, preserved for stable ready_beads()
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{index: make(map[ids.ID]int)}
}

// AddNode registers id. Calling AddNode again with an existing id returns
// errs.KindDuplicateNode and leaves the graph unchanged.
func (g *Graph) AddNode(id ids.ID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.index[id]; ok {
		return errs.DuplicateNode(id.String())
	}
	g.index[id] = len(g.nodes)
	g.nodes = append(g.nodes, &node{id: id})
	g.order = append(g.order, id)
	return nil
}

// AddEdge records a dependency from -> to of the given kind. It runs a
// reverse reachability check from to to from; if from is reachable from to,
// the edge would close a cycle and is rejected with errs.KindCycleDetected,
// leaving the graph unchanged. Adding the exact same (from, to, kind) triple
// twice is idempotent.
func (g *Graph) AddEdge(from, to ids.ID, kind EdgeKind) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	fi, ok := g.index[from]
	if !ok {
		return errs.NotFound("node", from.String())
	}
	ti, ok := g.index[to]
	if !ok {
		return errs.NotFound("node", to.String())
	}
	if fi == ti {
		return errs.InvalidContract("self-loop edges are not allowed")
	}

	for _, e := range g.nodes[fi].outbound {
		if e.peer == ti && e.kind == kind {
			return nil // duplicate edge, silently idempotent
		}
	}

	if g.reachable(ti, fi) {
		return errs.CycleDetected(from.String(), to.String())
	}

	g.nodes[fi].outbound = append(g.nodes[fi].outbound, edge{peer: ti, kind: kind})
	g.nodes[ti].inbound = append(g.nodes[ti].inbound, edge{peer: fi, kind: kind})
	if kind == Blocking {
		g.nodes[ti].unmetBlocking++
	}
	return nil
}

// reachable reports whether target is reachable from start by following
// outbound edges of any kind (a BFS over the full edge set, since a cycle
// through a Preferred edge is just as nonsensical as one through Blocking).
func (g *Graph) reachable(start, target int) bool {
	if start == target {
		return true
	}
	visited := make(map[int]bool, len(g.nodes))
	queue := []int{start}
	visited[start] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.nodes[cur].outbound {
			if e.peer == target {
				return true
			}
			if !visited[e.peer] {
				visited[e.peer] = true
				queue = append(queue, e.peer)
			}
		}
	}
	return false
}

// MarkCompleted marks id Completed and decrements the unmetBlocking counter
// of every direct dependent, making this an O(outdegree) update rather than
// a full scan.
func (g *Graph) MarkCompleted(id ids.ID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	i, ok := g.index[id]
	if !ok {
		return errs.NotFound("node", id.String())
	}
	if g.nodes[i].completed {
		return nil
	}
	g.nodes[i].completed = true
	for _, e := range g.nodes[i].outbound {
		if e.kind == Blocking {
			g.nodes[e.peer].unmetBlocking--
		}
	}
	return nil
}

// ReadyBeads returns the ids of every node that is not Completed and has no
// unmet Blocking predecessor, in stable insertion order.
func (g *Graph) ReadyBeads() []ids.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var ready []ids.ID
	for _, id := range g.order {
		n := g.nodes[g.index[id]]
		if !n.completed && n.unmetBlocking == 0 {
			ready = append(ready, id)
		}
	}
	return ready
}

// IsReady reports whether id is currently ready by the same predicate as
// ReadyBeads.
func (g *Graph) IsReady(id ids.ID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	i, ok := g.index[id]
	if !ok {
		return false
	}
	n := g.nodes[i]
	return !n.completed && n.unmetBlocking == 0
}

// Dependents returns the ids that list id as a Blocking or Preferred
// predecessor.
func (g *Graph) Dependents(id ids.ID) []ids.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	var out []ids.ID
	for _, e := range g.nodes[i].outbound {
		out = append(out, g.nodes[e.peer].id)
	}
	return out
}

// IsComplete reports whether every node in the graph is Completed. An empty
// graph is considered complete.
func (g *Graph) IsComplete() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, n := range g.nodes {
		if !n.completed {
			return false
		}
	}
	return true
}

// EdgeCount returns the number of edges currently stored, used by tests
// asserting that a rejected cycle left the graph unchanged.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, nd := range g.nodes {
		n += len(nd.outbound)
	}
	return n
}

// NodeCount returns the number of nodes currently stored.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}
