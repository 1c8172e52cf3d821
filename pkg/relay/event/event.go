// Package event defines the domain event and delivery envelope types used
// throughout the relay pipeline.
//
// A DomainEvent is an immutable business fact, created once when a state
// transition commits. The pipeline never mutates it. An Envelope wraps a
// DomainEvent with delivery metadata (attempt count, trace headers, sink);
// envelopes are owned exclusively by the pipeline and are never visible to
// business code.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DomainEvent is an immutable fact raised by business logic.
//
// Payload must be self-contained: consumers get everything they need from
// it and never perform synchronous lookups against the producer.
type DomainEvent struct {
	// ID uniquely identifies this event.
	ID string `json:"id"`

	// Type is a past-tense semantic tag (e.g. "user.registered").
	Type string `json:"type"`

	// AggregateID is the ordering key. All events sharing an aggregate ID
	// are delivered to the same partition in submission order.
	AggregateID string `json:"aggregate_id"`

	// Payload is the opaque serialized event data.
	Payload json.RawMessage `json:"payload,omitempty"`

	// OccurredAt is when the event was created. Monotonicity per aggregate
	// is not required.
	OccurredAt time.Time `json:"occurred_at"`

	// CorrelationID identifies the business flow that produced this event.
	// It is supplied or generated at the outermost boundary and never
	// regenerated at intermediate hops.
	CorrelationID string `json:"correlation_id"`
}

// Option configures event creation.
type Option func(*eventConfig)

type eventConfig struct {
	id            string
	correlationID string
	occurredAt    time.Time
}

// WithEventID sets a specific event ID (default: auto-generated UUID).
func WithEventID(id string) Option {
	return func(cfg *eventConfig) {
		cfg.id = id
	}
}

// WithCorrelationID sets the business correlation ID.
func WithCorrelationID(id string) Option {
	return func(cfg *eventConfig) {
		cfg.correlationID = id
	}
}

// WithOccurredAt sets a specific creation timestamp (default: time.Now()).
func WithOccurredAt(t time.Time) Option {
	return func(cfg *eventConfig) {
		cfg.occurredAt = t
	}
}

// New creates a DomainEvent with the given type, aggregate ID, and payload.
// The payload is serialized once at creation time.
func New(eventType, aggregateID string, payload any, opts ...Option) (DomainEvent, error) {
	if eventType == "" {
		return DomainEvent{}, fmt.Errorf("event type must not be empty")
	}

	cfg := &eventConfig{
		id:         uuid.New().String(),
		occurredAt: time.Now(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	// Without a caller-supplied correlation ID this event starts a new
	// business flow, so the event ID doubles as the root correlation ID.
	if cfg.correlationID == "" {
		cfg.correlationID = cfg.id
	}

	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return DomainEvent{}, fmt.Errorf("marshal event payload: %w", err)
		}
		data = b
	}

	return DomainEvent{
		ID:            cfg.id,
		Type:          eventType,
		AggregateID:   aggregateID,
		Payload:       data,
		OccurredAt:    cfg.occurredAt,
		CorrelationID: cfg.correlationID,
	}, nil
}

// MustNew is like New but panics on a payload that cannot be serialized.
// Intended for payload types known to be marshalable.
func MustNew(eventType, aggregateID string, payload any, opts ...Option) DomainEvent {
	evt, err := New(eventType, aggregateID, payload, opts...)
	if err != nil {
		panic(err)
	}
	return evt
}

// DecodePayload unmarshals the event payload into v.
func (e DomainEvent) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.ID)
	}
	return json.Unmarshal(e.Payload, v)
}
