package distribution

// Affinity matches a bead's required capabilities against agent
// capabilities. Hard mode rejects any agent missing a required
// capability; Soft mode prefers but allows mismatch, tying by
// capability-overlap count.
type Affinity struct {
	Hard bool
}

func (*Affinity) SelectBead(ctx Context) (string, bool) {
	if len(ctx.Beads) == 0 {
		return "", false
	}
	return ctx.Beads[0].ID, true
}

func (a *Affinity) SelectAgent(beadID string, ctx Context) (string, bool) {
	if len(ctx.Agents) == 0 {
		return "", false
	}
	var required []string
	for _, b := range ctx.Beads {
		if b.ID == beadID {
			required = b.RequiredCapabilities
			break
		}
	}

	bestID := ""
	bestOverlap := -1
	for _, agent := range ctx.Agents {
		overlap := overlapCount(required, agent.Capabilities)
		satisfies := overlap == len(required)
		if a.Hard && !satisfies {
			continue
		}
		if overlap > bestOverlap {
			bestOverlap = overlap
			bestID = agent.ID
		}
	}
	if bestID == "" {
		return "", false
	}
	return bestID, true
}

func overlapCount(required, have []string) int {
	haveSet := make(map[string]bool, len(have))
	for _, c := range have {
		haveSet[c] = true
	}
	n := 0
	for _, c := range required {
		if haveSet[c] {
			n++
		}
	}
	return n
}
