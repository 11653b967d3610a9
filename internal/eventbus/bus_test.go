package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/lprior-repo/oya-sub007/internal/eventstore"
	"github.com/lprior-repo/oya-sub007/internal/ids"
)

func TestPublishFansOutToSubscribers(t *testing.T) {
	bus := New(eventstore.NewMemoryStore())
	ch, cancel := bus.Subscribe(4)
	defer cancel()

	wf := ids.New()
	if _, err := bus.Publish(context.Background(), eventstore.Event{Type: eventstore.KindWorkflowRegistered, WorkflowID: wf}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Type != eventstore.KindWorkflowRegistered {
			t.Fatalf("unexpected event type %v", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fanout")
	}
}

func TestLateSubscriberDoesNotObservePastEvents(t *testing.T) {
	bus := New(eventstore.NewMemoryStore())
	wf := ids.New()
	_, _ = bus.Publish(context.Background(), eventstore.Event{Type: eventstore.KindWorkflowRegistered, WorkflowID: wf})

	ch, cancel := bus.Subscribe(4)
	defer cancel()

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event observed by late subscriber: %+v", ev)
	case <-time.After(50 * time.Millisecond):
		// expected: no history replay
	}
}

func TestCancelClosesChannel(t *testing.T) {
	bus := New(eventstore.NewMemoryStore())
	ch, cancel := bus.Subscribe(4)
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed after cancel")
	}
}
