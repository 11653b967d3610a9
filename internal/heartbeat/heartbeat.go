// Package heartbeat runs the periodic liveness scan over the agent swarm
// registry, promoting stale agents to Unhealthy and then Dead on a
// cron.New(cron.WithSeconds()) schedule for periodic maintenance work.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lprior-repo/oya-sub007/internal/swarm"
)

// Thresholds bounds how long an agent may go silent before it is marked
// Unhealthy, and then Dead.
type Thresholds struct {
	Unhealthy time.Duration
	Dead      time.Duration
}

// DefaultThresholds marks an agent unhealthy after 30s of silence and dead
// after 2 minutes, values chosen to comfortably exceed a worker's expected
// heartbeat interval without masking a real crash for long.
func DefaultThresholds() Thresholds {
	return Thresholds{Unhealthy: 30 * time.Second, Dead: 2 * time.Minute}
}

// OnDeath is invoked for every agent the scan newly marks Dead, so the
// caller (typically the reconciler) can release any bead that agent held
// claimed.
type OnDeath func(agentID string)

// Monitor runs Sweep on a cron schedule against a swarm.Registry.
type Monitor struct {
	registry   *swarm.Registry
	thresholds Thresholds
	onDeath    OnDeath
	cron       *cron.Cron
}

// New returns a Monitor that has not yet been started. The cron schedule
// recovers a panicking scan instead of letting it take the whole process
// down with it.
func New(registry *swarm.Registry, thresholds Thresholds, onDeath OnDeath) *Monitor {
	return &Monitor{
		registry:   registry,
		thresholds: thresholds,
		onDeath:    onDeath,
		cron:       cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.PrintfLogger(cronLogger{})))),
	}
}

// cronLogger adapts slog to cron.PrintfLogger's Printf-shaped interface.
type cronLogger struct{}

func (cronLogger) Printf(format string, args ...interface{}) {
	slog.Warn(fmt.Sprintf(format, args...))
}

// Start schedules the scan at cronExpr (seconds-precision, e.g. "*/10 * * *
// * *" for every ten seconds, matching HEARTBEAT_SCAN_CRON) and begins
// running it.
func (m *Monitor) Start(cronExpr string) error {
	_, err := m.cron.AddFunc(cronExpr, func() { m.scanOnce() })
	if err != nil {
		return err
	}
	m.cron.Start()
	slog.Info("heartbeat monitor started", "schedule", cronExpr)
	return nil
}

// Stop drains in-flight scan runs and stops the schedule.
func (m *Monitor) Stop(ctx context.Context) error {
	stopCtx := m.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterHeartbeat records a liveness signal from agentID.
func (m *Monitor) RegisterHeartbeat(agentID string) bool {
	return m.registry.Touch(agentID, time.Now())
}

func (m *Monitor) scanOnce() {
	changed := m.registry.Sweep(time.Now(), m.thresholds.Unhealthy, m.thresholds.Dead)
	for _, id := range changed {
		a, ok := m.registry.Get(id)
		if !ok || a.State != swarm.AgentDead {
			continue
		}
		slog.Warn("agent declared dead", "agent", id)
		if m.onDeath != nil {
			m.onDeath(id)
		}
	}
}
