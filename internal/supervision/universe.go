package supervision

// Universe is the root supervisor. It owns one Tier-1 supervisor per domain
// area (storage, workflow scheduling, queue/distribution, reconciliation);
// each Tier-1 supervisor in turn owns the Tier-2 worker goroutines doing the
// actual work for that domain. A Tier-1 meltdown escalates to the Universe,
// which may itself melt down if enough domains fail within its own window.
type Universe struct {
	root  *Supervisor
	tier1 map[string]*Supervisor
}

// NewUniverse creates the root supervisor and the fixed set of Tier-1
// domain supervisors beneath it.
func NewUniverse(cfg Config) *Universe {
	root := New("universe", cfg)
	u := &Universe{root: root, tier1: make(map[string]*Supervisor)}
	for _, domain := range []string{"storage", "workflow", "queue", "reconciler"} {
		u.tier1[domain] = NewChildSupervisor(domain, cfg, root)
	}
	return u
}

// Domain returns the Tier-1 supervisor for the named domain, or nil if the
// name is not one of the fixed domains.
func (u *Universe) Domain(name string) *Supervisor {
	return u.tier1[name]
}

// Root returns the Universe's own root supervisor, whose meltdown means the
// whole process should exit non-zero.
func (u *Universe) Root() *Supervisor {
	return u.root
}

// Shutdown stops every Tier-1 domain and the root.
func (u *Universe) Shutdown() {
	for _, s := range u.tier1 {
		s.Shutdown()
	}
	u.root.Shutdown()
}

// IsMeltdown reports whether the Universe root itself has melted down.
func (u *Universe) IsMeltdown() bool {
	return u.root.IsMeltdown()
}
