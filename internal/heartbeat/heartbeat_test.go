package heartbeat

import (
	"testing"
	"time"

	"github.com/lprior-repo/oya-sub007/internal/swarm"
)

func TestRegisterHeartbeatRevivesAgent(t *testing.T) {
	reg := swarm.NewRegistry()
	reg.Register("agent-1", swarm.RoleImplementer, nil, time.Now().Add(-time.Hour))
	reg.Sweep(time.Now(), time.Second, 10*time.Second)

	m := New(reg, DefaultThresholds(), nil)
	if !m.RegisterHeartbeat("agent-1") {
		t.Fatalf("expected heartbeat to register successfully")
	}
	a, _ := reg.Get("agent-1")
	if a.State != swarm.AgentIdle {
		t.Fatalf("expected agent idle after heartbeat, got %v", a.State)
	}
}

func TestScanOnceReportsNewlyDeadAgents(t *testing.T) {
	reg := swarm.NewRegistry()
	base := time.Now().Add(-time.Hour)
	reg.Register("agent-1", swarm.RoleReviewer, nil, base)

	var reported []string
	m := New(reg, Thresholds{Unhealthy: time.Second, Dead: 2 * time.Second}, func(id string) {
		reported = append(reported, id)
	})

	m.scanOnce()
	if len(reported) != 1 || reported[0] != "agent-1" {
		t.Fatalf("expected agent-1 reported dead exactly once, got %v", reported)
	}

	m.scanOnce()
	if len(reported) != 1 {
		t.Fatalf("expected no duplicate dead report on second scan, got %v", reported)
	}
}
