package broker_test

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/relayworks/relay/pkg/relay/broker"
	"github.com/relayworks/relay/pkg/relay/event"
)

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

// pollUntil polls the partition until an envelope arrives or the deadline
// passes. NATS delivery is asynchronous, so an immediate poll may race the
// server.
func pollUntil(t *testing.T, tr broker.Transport, partition int, deadline time.Duration) *event.Envelope {
	t.Helper()
	stop := time.After(deadline)
	for {
		env, _, ok, err := tr.Poll(context.Background(), partition)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if ok {
			return env
		}
		select {
		case <-stop:
			t.Fatal("timed out waiting for envelope")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestNATSTransportRoundTrip(t *testing.T) {
	url := startTestNATS(t)

	tr, err := broker.NewNATSTransport(broker.NATSConfig{URL: url, Partitions: 2})
	if err != nil {
		t.Fatalf("creating transport: %v", err)
	}
	defer tr.Close()

	key := "order-42"
	partition := broker.PartitionFor(key, tr.Partitions())

	// Subscribe before publishing; core NATS drops messages with no
	// subscriber.
	if _, _, ok, err := tr.Poll(context.Background(), partition); err != nil || ok {
		t.Fatalf("priming poll: ok=%v err=%v", ok, err)
	}

	evt := event.MustNew("order.placed", key, map[string]string{"total": "9.99"})
	env := event.NewEnvelope(evt, "orders")
	env.SetHeader("traceparent", "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01")

	ack, err := tr.Enqueue(context.Background(), key, env)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := <-ack; err != nil {
		t.Fatalf("ack: %v", err)
	}

	got := pollUntil(t, tr, partition, 2*time.Second)
	if got.Event.ID != evt.ID {
		t.Errorf("event ID = %q, want %q", got.Event.ID, evt.ID)
	}
	if got.Header("traceparent") != env.Header("traceparent") {
		t.Error("headers must pass through the broker unchanged")
	}
}

func TestNATSTransportOrdering(t *testing.T) {
	url := startTestNATS(t)

	tr, err := broker.NewNATSTransport(broker.NATSConfig{URL: url, Partitions: 1})
	if err != nil {
		t.Fatalf("creating transport: %v", err)
	}
	defer tr.Close()

	// Establish the subscription first.
	if _, _, ok, err := tr.Poll(context.Background(), 0); err != nil || ok {
		t.Fatalf("priming poll: ok=%v err=%v", ok, err)
	}

	types := []string{"order.placed", "order.paid", "order.shipped"}
	for _, typ := range types {
		ack, err := tr.Enqueue(context.Background(), "order-1", event.NewEnvelope(event.MustNew(typ, "order-1", nil), "orders"))
		if err != nil {
			t.Fatalf("enqueue %s: %v", typ, err)
		}
		if err := <-ack; err != nil {
			t.Fatalf("ack %s: %v", typ, err)
		}
	}

	for _, want := range types {
		env := pollUntil(t, tr, 0, 2*time.Second)
		if env.Event.Type != want {
			t.Fatalf("got %q, want %q", env.Event.Type, want)
		}
	}
}

func TestNATSTransportClosed(t *testing.T) {
	url := startTestNATS(t)

	tr, err := broker.NewNATSTransport(broker.NATSConfig{URL: url})
	if err != nil {
		t.Fatalf("creating transport: %v", err)
	}
	tr.Close()

	if _, _, _, err := tr.Poll(context.Background(), 0); err == nil {
		t.Error("poll on a closed transport should fail")
	}
}

func TestNATSTransportHeaderKeysStable(t *testing.T) {
	url := startTestNATS(t)

	tr, err := broker.NewNATSTransport(broker.NATSConfig{URL: url, Partitions: 1})
	if err != nil {
		t.Fatalf("creating transport: %v", err)
	}
	defer tr.Close()

	if _, _, ok, err := tr.Poll(context.Background(), 0); err != nil || ok {
		t.Fatalf("priming poll: ok=%v err=%v", ok, err)
	}

	env := event.NewEnvelope(event.MustNew("order.placed", "order-7", nil), "orders")
	env.SetHeader("relay-correlation-id", "corr-7")
	headerCount := len(env.Headers)

	// Two broker round trips must neither canonicalize the keys nor grow
	// the header set.
	for hop := 0; hop < 2; hop++ {
		ack, err := tr.Enqueue(context.Background(), "order-7", env)
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if err := <-ack; err != nil {
			t.Fatalf("ack: %v", err)
		}
		env = pollUntil(t, tr, 0, 2*time.Second)
	}

	if env.Header("relay-correlation-id") != "corr-7" {
		t.Errorf("relay-correlation-id = %q, want %q", env.Header("relay-correlation-id"), "corr-7")
	}
	if _, ok := env.Headers["Relay-Correlation-Id"]; ok {
		t.Error("header key was canonicalized in transit")
	}
	if len(env.Headers) != headerCount {
		t.Errorf("header count = %d after round trips, want %d: %v", len(env.Headers), headerCount, env.Headers)
	}
}
