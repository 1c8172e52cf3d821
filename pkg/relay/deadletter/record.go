// Package deadletter stores envelopes whose delivery was exhausted, for
// operator inspection and replay.
//
// A dead letter failure must never block the primary delivery path: sinks
// are best-effort and the consumer loop logs rather than escalates when
// rerouting itself fails.
package deadletter

import (
	"context"
	"errors"
	"time"

	"github.com/relayworks/relay/pkg/relay/event"
)

// Sentinel errors shared by store implementations.
var (
	ErrNotFound    = errors.New("dead letter record not found")
	ErrStoreClosed = errors.New("dead letter store is closed")
)

// Record is the persisted copy of an exhausted envelope. It carries enough
// context (reason, attempt count, original envelope) to diagnose without
// replaying blindly.
type Record struct {
	// Envelope is the full envelope as it looked on the final attempt.
	Envelope event.Envelope `json:"envelope"`

	// FailureReason is the error that exhausted delivery.
	FailureReason string `json:"failure_reason"`

	// OriginalSink is the sink the envelope was first enqueued to.
	OriginalSink string `json:"original_sink,omitempty"`

	// FirstFailedAt is when the first delivery attempt failed.
	FirstFailedAt time.Time `json:"first_failed_at"`

	// FinalAttemptAt is when delivery was given up.
	FinalAttemptAt time.Time `json:"final_attempt_at"`

	// ReplayedAt is set once the record has been re-published.
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`
}

// EventID returns the wrapped event's ID, the record key.
func (r *Record) EventID() string {
	return r.Envelope.Event.ID
}

// Sink reroutes exhausted envelopes out of the delivery path.
// Implementations are best-effort: a returned error is logged by the
// caller, never propagated further.
type Sink interface {
	Reroute(ctx context.Context, env *event.Envelope, failureReason string) error
}

// Store persists dead letter records.
type Store interface {
	// Append stores a record, replacing any previous record for the same
	// event.
	Append(ctx context.Context, rec *Record) error

	// List returns records ordered by final attempt time, oldest first.
	List(ctx context.Context, limit int) ([]*Record, error)

	// Pending returns records not yet replayed, oldest first.
	Pending(ctx context.Context, limit int) ([]*Record, error)

	// Get returns the record for an event ID.
	Get(ctx context.Context, eventID string) (*Record, error)

	// MarkReplayed records that the event has been re-published.
	MarkReplayed(ctx context.Context, eventID string, at time.Time) error

	// Delete permanently removes a record.
	Delete(ctx context.Context, eventID string) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
}

// StoreSink adapts a Store to the Sink interface, building records from
// rerouted envelopes.
type StoreSink struct {
	store Store
}

// NewStoreSink creates the adapter.
func NewStoreSink(store Store) *StoreSink {
	return &StoreSink{store: store}
}

// Reroute implements Sink.
func (s *StoreSink) Reroute(ctx context.Context, env *event.Envelope, failureReason string) error {
	now := time.Now()
	first := env.FirstFailedAt
	if first.IsZero() {
		first = now
	}

	cp := *env
	cp.Headers = env.Headers.Clone()
	cp.FailureReason = failureReason

	return s.store.Append(ctx, &Record{
		Envelope:       cp,
		FailureReason:  failureReason,
		OriginalSink:   env.Sink,
		FirstFailedAt:  first,
		FinalAttemptAt: now,
	})
}
