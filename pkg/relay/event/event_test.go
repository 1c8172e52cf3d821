package event_test

import (
	"testing"
	"time"

	"github.com/relayworks/relay/pkg/relay/event"
)

type orderPlaced struct {
	OrderID string  `json:"order_id"`
	Total   float64 `json:"total"`
}

func TestNew(t *testing.T) {
	evt, err := event.New("order.placed", "order-42", orderPlaced{OrderID: "42", Total: 9.99})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if evt.ID == "" {
		t.Error("event ID should be generated")
	}
	if evt.Type != "order.placed" {
		t.Errorf("type = %q", evt.Type)
	}
	if evt.AggregateID != "order-42" {
		t.Errorf("aggregate ID = %q", evt.AggregateID)
	}
	if evt.OccurredAt.IsZero() {
		t.Error("occurred-at should be stamped")
	}
	if evt.CorrelationID != evt.ID {
		t.Errorf("correlation ID = %q, want the event ID %q", evt.CorrelationID, evt.ID)
	}

	var p orderPlaced
	if err := evt.DecodePayload(&p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.OrderID != "42" || p.Total != 9.99 {
		t.Errorf("payload round trip produced %+v", p)
	}
}

func TestNewWithOptions(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	evt, err := event.New("order.placed", "order-42", nil,
		event.WithEventID("evt-1"),
		event.WithCorrelationID("corr-1"),
		event.WithOccurredAt(at),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if evt.ID != "evt-1" {
		t.Errorf("ID = %q", evt.ID)
	}
	if evt.CorrelationID != "corr-1" {
		t.Errorf("correlation ID = %q", evt.CorrelationID)
	}
	if !evt.OccurredAt.Equal(at) {
		t.Errorf("occurred-at = %v", evt.OccurredAt)
	}
}

func TestNewRejectsEmptyType(t *testing.T) {
	if _, err := event.New("", "order-42", nil); err == nil {
		t.Error("empty event type should be rejected")
	}
}

func TestEnvelope(t *testing.T) {
	evt := event.MustNew("order.placed", "order-42", nil)
	env := event.NewEnvelope(evt, "orders")

	if env.Attempt != 0 {
		t.Errorf("fresh envelope attempt = %d, want 0", env.Attempt)
	}
	if env.Sink != "orders" {
		t.Errorf("sink = %q", env.Sink)
	}

	env.SetHeader("x-tenant", "acme")
	if got := env.Header("x-tenant"); got != "acme" {
		t.Errorf("header = %q", got)
	}
	if got := env.Header("missing"); got != "" {
		t.Errorf("missing header = %q, want empty", got)
	}
}

func TestEnvelopeMarshalRoundTrip(t *testing.T) {
	evt := event.MustNew("order.placed", "order-42", orderPlaced{OrderID: "42"})
	env := event.NewEnvelope(evt, "orders")
	env.SetHeader("traceparent", "00-abc-def-01")
	env.Attempt = 2
	env.FailureReason = "timeout"

	data, err := env.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := event.Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Event.ID != evt.ID {
		t.Errorf("event ID = %q, want %q", got.Event.ID, evt.ID)
	}
	if got.Header("traceparent") != "00-abc-def-01" {
		t.Error("headers lost in transit")
	}
	if got.Attempt != 2 || got.FailureReason != "timeout" {
		t.Errorf("delivery metadata lost: attempt=%d reason=%q", got.Attempt, got.FailureReason)
	}
}

func TestHeadersClone(t *testing.T) {
	h := event.Headers{"a": "1"}
	c := h.Clone()
	c["a"] = "2"

	if h["a"] != "1" {
		t.Error("clone must not alias the original map")
	}
}
