// Package supervision implements a two-tier restart hierarchy rooted at a
// Universe supervisor: Tier-1 domain supervisors (Storage, Workflow,
// Queue, Reconciler) each own a set of Tier-2 worker children, restarted
// with exponential backoff on crash and escalated to meltdown when the
// restart budget is exceeded.
package supervision

import (
	"log/slog"
	"sync"
	"time"
)

// Config bounds a supervisor's restart behavior.
type Config struct {
	MaxRestarts   int
	RestartWindow time.Duration
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
}

// DefaultConfig returns the standard restart budget: 3 restarts within
// 60s, 100ms base backoff doubling up to 10s.
func DefaultConfig() Config {
	return Config{
		MaxRestarts:   3,
		RestartWindow: 60 * time.Second,
		BaseBackoff:   100 * time.Millisecond,
		MaxBackoff:    10 * time.Second,
	}
}

// Backoff returns min(max_backoff, base_backoff * 2^attempt).
func Backoff(attempt int, cfg Config) time.Duration {
	backoff := cfg.BaseBackoff
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= cfg.MaxBackoff {
			return cfg.MaxBackoff
		}
	}
	if backoff > cfg.MaxBackoff {
		return cfg.MaxBackoff
	}
	return backoff
}

// Child is a supervised unit: Run is invoked once per (re)start and should
// block until it exits (crashes) or ctx-like cancellation is observed via
// Stop.
type Child struct {
	Name string
	Run  func() error
	Stop func()
}

// Status reports a supervisor's child count and restart accounting.
type Status struct {
	ChildCount    int
	RestartCounts map[string]int
	Meltdown      bool
}

// Supervisor restarts its children on crash per Config, declaring meltdown
// and escalating to its parent when the restart budget is exceeded within
// RestartWindow.
type Supervisor struct {
	name   string
	cfg    Config
	parent *Supervisor

	mu       sync.Mutex
	children []*supervisedChild
	meltdown bool
	done     chan struct{}
}

type supervisedChild struct {
	child    Child
	restarts []time.Time
	stopped  bool
}

// New returns a supervisor with no parent (suitable for the Universe root).
func New(name string, cfg Config) *Supervisor {
	return &Supervisor{name: name, cfg: cfg, done: make(chan struct{})}
}

// NewChildSupervisor returns a Tier-1 supervisor that escalates meltdown to
// parent.
func NewChildSupervisor(name string, cfg Config, parent *Supervisor) *Supervisor {
	s := New(name, cfg)
	s.parent = parent
	return s
}

// SpawnChild starts c and supervises it: on crash it is restarted after an
// exponential backoff until the restart budget within RestartWindow is
// exceeded, at which point the supervisor enters meltdown.
func (s *Supervisor) SpawnChild(c Child) {
	s.mu.Lock()
	if s.meltdown {
		s.mu.Unlock()
		slog.Warn("supervisor in meltdown, refusing to spawn child", "supervisor", s.name, "child", c.Name)
		return
	}
	sc := &supervisedChild{child: c}
	s.children = append(s.children, sc)
	s.mu.Unlock()

	go s.runChild(sc)
}

func (s *Supervisor) runChild(sc *supervisedChild) {
	for {
		err := sc.child.Run()

		s.mu.Lock()
		if sc.stopped || s.meltdown {
			s.mu.Unlock()
			return
		}
		if err == nil {
			sc.stopped = true
			s.mu.Unlock()
			return
		}

		now := time.Now()
		sc.restarts = append(sc.restarts, now)
		sc.restarts = pruneOlderThan(sc.restarts, now.Add(-s.cfg.RestartWindow))

		if len(sc.restarts) > s.cfg.MaxRestarts {
			s.enterMeltdown(err)
			s.mu.Unlock()
			return
		}

		attempt := len(sc.restarts) - 1
		backoff := Backoff(attempt, s.cfg)
		s.mu.Unlock()

		slog.Warn("supervised child crashed, restarting", "supervisor", s.name, "child", sc.child.Name, "error", err, "backoff", backoff)
		time.Sleep(backoff)
	}
}

func pruneOlderThan(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// enterMeltdown must be called with s.mu held. It stops every remaining
// child and escalates to the parent, which may itself melt down if enough
// of its own children report meltdown within its window.
func (s *Supervisor) enterMeltdown(cause error) {
	if s.meltdown {
		return
	}
	s.meltdown = true
	slog.Error("supervisor meltdown: restart budget exceeded", "supervisor", s.name, "cause", cause)

	for i := len(s.children) - 1; i >= 0; i-- {
		sc := s.children[i]
		sc.stopped = true
		if sc.child.Stop != nil {
			sc.child.Stop()
		}
	}
	close(s.done)

	if s.parent != nil {
		s.parent.reportChildMeltdown(s.name)
	}
}

// reportChildMeltdown is how a Tier-1 supervisor's meltdown is escalated to
// the Universe supervisor above it: it is treated exactly like one of the
// Universe's own children crashing, so repeated Tier-1 meltdowns can
// themselves exceed the Universe's restart budget and melt down the whole
// process.
func (s *Supervisor) reportChildMeltdown(childName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meltdown {
		return
	}

	now := time.Now()
	var target *supervisedChild
	for _, sc := range s.children {
		if sc.child.Name == childName {
			target = sc
			break
		}
	}
	if target == nil {
		target = &supervisedChild{child: Child{Name: childName}}
		s.children = append(s.children, target)
	}
	target.restarts = append(target.restarts, now)
	target.restarts = pruneOlderThan(target.restarts, now.Add(-s.cfg.RestartWindow))

	if len(target.restarts) > s.cfg.MaxRestarts {
		s.enterMeltdown(nil)
	}
}

// StopChild stops the named child so it is never restarted. The child stays
// in the supervisor's child list and is still counted by GetStatus.
func (s *Supervisor) StopChild(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range s.children {
		if sc.child.Name == name && !sc.stopped {
			sc.stopped = true
			if sc.child.Stop != nil {
				sc.child.Stop()
			}
		}
	}
}

// GetStatus reports the supervisor's current child count and restart
// counters.
func (s *Supervisor) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int, len(s.children))
	for _, sc := range s.children {
		counts[sc.child.Name] = len(sc.restarts)
	}
	return Status{ChildCount: len(s.children), RestartCounts: counts, Meltdown: s.meltdown}
}

// Shutdown stops every child in reverse spawn order.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.children) - 1; i >= 0; i-- {
		sc := s.children[i]
		if !sc.stopped {
			sc.stopped = true
			if sc.child.Stop != nil {
				sc.child.Stop()
			}
		}
	}
}

// IsMeltdown reports whether this supervisor has melted down.
func (s *Supervisor) IsMeltdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meltdown
}

// Done is closed when this supervisor enters meltdown.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}
