package supervision

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestBackoffDoublesAndClamps(t *testing.T) {
	cfg := Config{BaseBackoff: 100 * time.Millisecond, MaxBackoff: 10 * time.Second}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{10, 10 * time.Second},
	}
	for _, c := range cases {
		got := Backoff(c.attempt, cfg)
		if got != c.want {
			t.Fatalf("Backoff(%d): got %v want %v", c.attempt, got, c.want)
		}
	}
}

func TestSpawnChildRestartsAfterCrash(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	s := New("test", cfg)
	defer s.Shutdown()

	var runs int32
	done := make(chan struct{})
	s.SpawnChild(Child{
		Name: "flaky",
		Run: func() error {
			n := atomic.AddInt32(&runs, 1)
			if n >= 3 {
				close(done)
				return nil
			}
			return errors.New("boom")
		},
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("child was not restarted enough times, runs=%d", atomic.LoadInt32(&runs))
	}
}

func TestMeltdownAfterRestartBudgetExceeded(t *testing.T) {
	cfg := Config{
		MaxRestarts:   2,
		RestartWindow: time.Minute,
		BaseBackoff:   time.Millisecond,
		MaxBackoff:    2 * time.Millisecond,
	}
	s := New("test", cfg)
	defer s.Shutdown()

	s.SpawnChild(Child{
		Name: "always-crashes",
		Run:  func() error { return errors.New("boom") },
	})

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected supervisor to melt down")
	}
	if !s.IsMeltdown() {
		t.Fatalf("expected IsMeltdown true")
	}
}

func TestMeltdownEscalatesToParent(t *testing.T) {
	parentCfg := Config{
		MaxRestarts:   1,
		RestartWindow: time.Minute,
		BaseBackoff:   time.Millisecond,
		MaxBackoff:    2 * time.Millisecond,
	}
	childCfg := Config{
		MaxRestarts:   0,
		RestartWindow: time.Minute,
		BaseBackoff:   time.Millisecond,
		MaxBackoff:    2 * time.Millisecond,
	}
	parent := New("universe", parentCfg)
	defer parent.Shutdown()
	tier1 := NewChildSupervisor("storage", childCfg, parent)

	tier1.SpawnChild(Child{
		Name: "always-crashes",
		Run:  func() error { return errors.New("boom") },
	})

	select {
	case <-tier1.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected tier1 supervisor to melt down")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if parent.GetStatus().RestartCounts["storage"] >= 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected parent to observe escalated child meltdown, got %+v", parent.GetStatus())
}

func TestStopChildPreventsRestart(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseBackoff = time.Millisecond
	cfg.MaxBackoff = 2 * time.Millisecond
	s := New("test", cfg)
	defer s.Shutdown()

	var runs int32
	exited := make(chan struct{})
	s.SpawnChild(Child{
		Name: "stoppable",
		Run: func() error {
			atomic.AddInt32(&runs, 1)
			<-exited
			return nil
		},
		Stop: func() { close(exited) },
	})

	time.Sleep(20 * time.Millisecond)
	s.StopChild("stoppable")
	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Fatalf("expected exactly one run after stop, got %d", got)
	}
}

func TestUniverseDomainsAreDistinctSupervisors(t *testing.T) {
	u := NewUniverse(DefaultConfig())
	defer u.Shutdown()
	if u.Domain("storage") == u.Domain("workflow") {
		t.Fatalf("expected distinct supervisors per domain")
	}
	if u.Domain("nonexistent") != nil {
		t.Fatalf("expected nil for unknown domain")
	}
}
