// Command orchestrator runs the bead-scheduling service: HTTP API, the
// supervision tree, the reconciliation sweep, and the persisted event log,
// wired together behind a net/http server with signal.NotifyContext
// shutdown and otel exporters.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/lprior-repo/oya-sub007/internal/api"
	"github.com/lprior-repo/oya-sub007/internal/distribution"
	"github.com/lprior-repo/oya-sub007/internal/eventbus"
	"github.com/lprior-repo/oya-sub007/internal/eventstore"
	"github.com/lprior-repo/oya-sub007/internal/heartbeat"
	"github.com/lprior-repo/oya-sub007/internal/idempotency"
	"github.com/lprior-repo/oya-sub007/internal/logging"
	"github.com/lprior-repo/oya-sub007/internal/otelinit"
	"github.com/lprior-repo/oya-sub007/internal/persistence"
	"github.com/lprior-repo/oya-sub007/internal/reconciler"
	"github.com/lprior-repo/oya-sub007/internal/scheduler"
	"github.com/lprior-repo/oya-sub007/internal/shutdown"
	"github.com/lprior-repo/oya-sub007/internal/supervision"
	"github.com/lprior-repo/oya-sub007/internal/swarm"
)

const serviceName = "orchestrator"

func main() {
	logging.Init(serviceName)

	ctx, cancel := shutdown.WaitForSignal(context.Background())
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, serviceName)
	shutdownMetrics, _ := otelinit.InitMetrics(ctx, serviceName)

	dataDir := getEnv("STATE_DB_PATH", "./data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		slog.Error("failed to create data directory", "error", err, "dir", dataDir)
		os.Exit(1)
	}

	store, err := persistence.Open(dataDir + "/orchestrator.db")
	if err != nil {
		slog.Error("failed to open persisted store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	eventLog, err := eventstore.OpenBoltStore(dataDir + "/events.db")
	if err != nil {
		slog.Error("failed to open event log", "error", err)
		os.Exit(1)
	}
	defer eventLog.Close()

	bus := eventbus.New(eventLog)

	strategyName := getEnv("ORCH_STRATEGY", "fifo")
	router := scheduler.NewSchedulerActor(func() distribution.Strategy {
		strat, err := distribution.Create(strategyName)
		if err != nil {
			slog.Warn("unknown distribution strategy, falling back to fifo", "strategy", strategyName, "error", err)
			return distribution.FIFO{}
		}
		return strat
	})
	defer router.Shutdown()

	agents := swarm.NewRegistry()
	keeper := idempotency.NewKeeper(store)

	universe := supervision.NewUniverse(supervision.DefaultConfig())
	defer universe.Shutdown()

	// A meltdown of the supervision universe itself is unrecoverable: treat
	// it the same as a fatal startup error and tear the whole service down.
	go func() {
		select {
		case <-universe.Root().Done():
			slog.Error("supervision universe melted down, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	monitor := heartbeat.New(agents, heartbeat.DefaultThresholds(), func(agentID string) {
		slog.Warn("agent declared dead by heartbeat monitor", "agent", agentID)
	})
	heartbeatStop := make(chan struct{})
	universe.Domain("queue").SpawnChild(supervision.Child{
		Name: "heartbeat_monitor",
		Run: func() error {
			if err := monitor.Start(getEnv("HEARTBEAT_SCAN_CRON", "*/10 * * * * *")); err != nil {
				return err
			}
			<-heartbeatStop
			return nil
		},
		Stop: func() {
			_ = monitor.Stop(context.Background())
		},
	})

	recon := reconciler.New(router, agents, keeper, 100, 0)
	reconcileStop := make(chan struct{})
	universe.Domain("reconciler").SpawnChild(supervision.Child{
		Name: "reconciler_sweep",
		Run: func() error {
			if err := recon.Start(ctx, getEnv("RECONCILE_CRON", "*/30 * * * * *"), router.WorkflowIDs); err != nil {
				return err
			}
			<-reconcileStop
			return nil
		},
		Stop: func() {
			_ = recon.Stop(context.Background())
		},
	})
	universe.Domain("reconciler").SpawnChild(recon.WatchEvents(ctx, bus))

	coordinator := shutdown.New()
	coordinator.Register("heartbeat_monitor", func(ctx context.Context) error {
		close(heartbeatStop)
		return monitor.Stop(ctx)
	})
	coordinator.Register("reconciler", func(ctx context.Context) error {
		close(reconcileStop)
		return recon.Stop(ctx)
	})

	var secret []byte
	if s := os.Getenv("AUTH_JWT_SECRET"); s != "" {
		secret = []byte(s)
	}

	mux := http.NewServeMux()
	srv := api.New(router, bus, agents)
	srv.Routes(mux)

	var handler http.Handler = mux
	if secret != nil {
		handler = api.AuthMiddleware(secret, mux)
	} else {
		slog.Warn("AUTH_JWT_SECRET not set, API auth middleware disabled")
	}

	httpSrv := &http.Server{
		Addr:         getEnv("BIND_ADDR", ":8080"),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // the event-stream endpoint holds connections open indefinitely
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting orchestrator", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	stats := coordinator.Drain(shutdownCtx, 10*time.Second)
	slog.Info("background workers drained", "registered", stats.Registered, "saved", stats.Saved, "failed", stats.Failed, "abandoned", stats.Abandoned, "duration", stats.Duration)

	otelinit.Flush(shutdownCtx, shutdownTrace)
	_ = shutdownMetrics(shutdownCtx)

	slog.Info("shutdown complete")
	if universe.IsMeltdown() {
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
