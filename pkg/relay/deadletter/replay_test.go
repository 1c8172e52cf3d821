package deadletter_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/relayworks/relay/pkg/relay/deadletter"
	"github.com/relayworks/relay/pkg/relay/event"
)

// capturePublisher records re-published events and can be told to fail.
type capturePublisher struct {
	mu     sync.Mutex
	events []event.DomainEvent
	fail   bool
}

func (p *capturePublisher) publish(ctx context.Context, evt event.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("pipeline unavailable")
	}
	p.events = append(p.events, evt)
	return nil
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestReplayerReplaysPending(t *testing.T) {
	store := deadletter.NewMemoryStore()
	rec := makeRecord(t, "order.placed")
	if err := store.Append(context.Background(), rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	pub := &capturePublisher{}
	replayed := make(chan *deadletter.Record, 1)
	r := deadletter.NewReplayer(store, pub.publish, deadletter.ReplayerConfig{
		PollInterval: 10 * time.Millisecond,
		OnSuccess:    func(rec *deadletter.Record) { replayed <- rec },
	})

	r.Start(context.Background())
	defer r.Stop()

	select {
	case got := <-replayed:
		if got.EventID() != rec.EventID() {
			t.Errorf("replayed %q, want %q", got.EventID(), rec.EventID())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for replay")
	}

	// The record is marked and never replayed again.
	pending, err := store.Pending(context.Background(), 0)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d records, want 0", len(pending))
	}
	if pub.count() != 1 {
		t.Errorf("published %d events, want 1", pub.count())
	}
}

func TestReplayerKeepsFailedRecordsPending(t *testing.T) {
	store := deadletter.NewMemoryStore()
	rec := makeRecord(t, "order.placed")
	if err := store.Append(context.Background(), rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	pub := &capturePublisher{fail: true}
	failed := make(chan error, 1)
	r := deadletter.NewReplayer(store, pub.publish, deadletter.ReplayerConfig{
		PollInterval: 10 * time.Millisecond,
		OnFailure: func(rec *deadletter.Record, err error) {
			select {
			case failed <- err:
			default:
			}
		},
	})

	r.Start(context.Background())
	defer r.Stop()

	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failure callback")
	}

	pending, err := store.Pending(context.Background(), 0)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending = %d records, want the failed record to stay", len(pending))
	}
}

func TestReplayerStop(t *testing.T) {
	store := deadletter.NewMemoryStore()
	pub := &capturePublisher{}
	r := deadletter.NewReplayer(store, pub.publish, deadletter.ReplayerConfig{
		PollInterval: 5 * time.Millisecond,
	})

	r.Start(context.Background())
	r.Stop()

	// Appending after stop must not trigger a replay.
	if err := store.Append(context.Background(), makeRecord(t, "late")); err != nil {
		t.Fatalf("append: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	if pub.count() != 0 {
		t.Errorf("published %d events after stop, want 0", pub.count())
	}
}

func TestReplayerRestart(t *testing.T) {
	store := deadletter.NewMemoryStore()
	pub := &capturePublisher{}
	r := deadletter.NewReplayer(store, pub.publish, deadletter.ReplayerConfig{
		PollInterval: 5 * time.Millisecond,
	})

	r.Start(context.Background())
	r.Stop()

	// A second Start must spin up a live poll loop again.
	r.Start(context.Background())
	defer r.Stop()

	if err := store.Append(context.Background(), makeRecord(t, "after-restart")); err != nil {
		t.Fatalf("append: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for pub.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("restarted replayer never replayed the pending record")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
