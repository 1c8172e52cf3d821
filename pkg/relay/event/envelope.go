package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Headers carry transport metadata (trace context, correlation ID) across
// process and broker boundaries. Brokers must pass them through unchanged.
type Headers map[string]string

// Clone returns a copy of the headers.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Envelope wraps a DomainEvent for transport through the delivery pipeline.
type Envelope struct {
	// Event is the wrapped domain event.
	Event DomainEvent `json:"event"`

	// Headers carry the serialized trace context across the broker
	// boundary.
	Headers Headers `json:"headers,omitempty"`

	// Attempt counts completed delivery attempts. It starts at 0 and is
	// incremented by the consumer loop on each retry.
	Attempt int `json:"attempt"`

	// Sink names the durable sink the envelope was originally enqueued to.
	// Used when rerouting to a dead letter sink.
	Sink string `json:"sink,omitempty"`

	// FirstFailedAt is stamped by the consumer loop when the first
	// delivery attempt fails.
	FirstFailedAt time.Time `json:"first_failed_at,omitempty"`

	// FailureReason is populated only on the dead letter path.
	FailureReason string `json:"failure_reason,omitempty"`
}

// NewEnvelope wraps a domain event for delivery to the named sink.
func NewEnvelope(evt DomainEvent, sink string) *Envelope {
	return &Envelope{
		Event:   evt,
		Headers: make(Headers),
		Sink:    sink,
	}
}

// SetHeader sets a transport header, allocating the map if needed.
func (e *Envelope) SetHeader(key, value string) {
	if e.Headers == nil {
		e.Headers = make(Headers)
	}
	e.Headers[key] = value
}

// Header returns the named transport header, or "" if absent.
func (e *Envelope) Header(key string) string {
	return e.Headers[key]
}

// Marshal serializes the envelope for broker transport.
func (e *Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// Unmarshal deserializes an envelope received from a broker.
func Unmarshal(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return &env, nil
}
