// Package eventbus implements the publish/subscribe broadcast layer: a
// thin fan-out on top of the event store. Subscribers observe every event
// appended after they subscribe; the bus retains no history for late
// joiners — they must read the log (eventstore.Store.ReadFrom) themselves.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lprior-repo/oya-sub007/internal/eventstore"
	"github.com/lprior-repo/oya-sub007/internal/resilience"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// Bus fans out appended events to in-process subscribers, and optionally
// mirrors them onto an external NATS subject for out-of-process dashboards.
// The NATS mirror is best-effort: publish failures are logged, never
// propagated to the caller, since the event has already been durably
// appended to the log by the time fan-out runs.
type Bus struct {
	store eventstore.Store

	mu     sync.RWMutex
	subs   map[int]chan eventstore.Event
	nextID int

	nc      *nats.Conn
	subject string
	breaker *resilience.CircuitBreaker
}

// New wraps store with a broadcast layer.
func New(store eventstore.Store) *Bus {
	return &Bus{store: store, subs: make(map[int]chan eventstore.Event)}
}

// WithNATSMirror configures a fire-and-forget external mirror: every
// published event is also marshaled and published to subject on nc, for
// dashboards and other out-of-process subscribers that don't want a
// direct dependency on this process. This does not change the single-node
// nature of the orchestrator — NATS here is a fan-out transport, not a
// distributed scheduling fabric.
func (b *Bus) WithNATSMirror(nc *nats.Conn, subject string) *Bus {
	b.nc = nc
	b.subject = subject
	b.breaker = resilience.NewCircuitBreakerAdaptive(30*time.Second, 6, 5, 0.5, 15*time.Second, 1)
	return b
}

// Subscribe returns a receive channel observing every event published after
// this call, and a cancel function that must be called to release the
// subscription. bufSize bounds how far a subscriber may lag before it
// starts missing events (the bus never blocks a publisher on a slow
// subscriber).
func (b *Bus) Subscribe(bufSize int) (<-chan eventstore.Event, func()) {
	if bufSize <= 0 {
		bufSize = 64
	}
	ch := make(chan eventstore.Event, bufSize)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish appends ev to the store and then fans it out to every current
// subscriber. It returns the persisted event (with its assigned sequence
// and id).
func (b *Bus) Publish(ctx context.Context, ev eventstore.Event) (eventstore.Event, error) {
	tr := otel.Tracer("orchestrator")
	ctx, span := tr.Start(ctx, "eventbus.Publish")
	defer span.End()

	persisted, err := b.store.Append(ctx, ev)
	if err != nil {
		return eventstore.Event{}, err
	}
	b.fanout(persisted)
	b.mirror(ctx, persisted)
	return persisted, nil
}

func (b *Bus) fanout(ev eventstore.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("eventbus: subscriber lagging, dropping event", "subscriber", id, "event_type", ev.Type, "sequence", ev.Sequence)
		}
	}
}

// mirror best-effort publishes ev onto the NATS subject. A circuit breaker
// guards the transport: once failures exceed its threshold, mirror attempts
// stop outright until the breaker half-opens, rather than retrying into an
// outage on every single event.
func (b *Bus) mirror(ctx context.Context, ev eventstore.Event) {
	if b.nc == nil {
		return
	}
	data, err := marshalForMirror(ev)
	if err != nil {
		slog.Warn("eventbus: mirror marshal failed", "error", err)
		return
	}

	if !b.breaker.Allow() {
		slog.Warn("eventbus: mirror circuit open, dropping event", "subject", b.subject, "sequence", ev.Sequence)
		return
	}

	_, err = resilience.Retry(ctx, 3, 50*time.Millisecond, func() (struct{}, error) {
		return struct{}{}, b.nc.Publish(b.subject, data)
	})
	b.breaker.RecordResult(err == nil)
	if err != nil {
		slog.Warn("eventbus: nats mirror publish failed", "error", err, "subject", b.subject)
	}
}
