package distribution

// RoundRobin selects beads FIFO but rotates through agents via an internal
// cursor. Thread-safety is the caller's responsibility — the scheduler
// actor that owns a RoundRobin instance already serializes access to it.
type RoundRobin struct {
	cursor int
}

func (*RoundRobin) SelectBead(ctx Context) (string, bool) {
	if len(ctx.Beads) == 0 {
		return "", false
	}
	return ctx.Beads[0].ID, true
}

func (r *RoundRobin) SelectAgent(_ string, ctx Context) (string, bool) {
	if len(ctx.Agents) == 0 {
		return "", false
	}
	id := ctx.Agents[r.cursor%len(ctx.Agents)].ID
	r.cursor++
	return id, true
}
