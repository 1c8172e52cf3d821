// Package broker defines the durable transport contract the pipeline
// depends on, plus two implementations: an in-memory partitioned broker
// (the reference for the ordering and commit semantics, also used in
// tests) and a NATS adapter.
//
// The pipeline only relies on two transport properties: envelopes sharing
// an ordering key land on the same partition in submission order, and
// headers pass through unchanged. Topic naming and wire encoding are
// implementation details of each adapter.
package broker

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/relayworks/relay/pkg/relay/event"
)

// Transport is the durable sink and source for envelopes.
type Transport interface {
	// Enqueue accepts an envelope keyed for ordering. A synchronous error
	// means the transport was unreachable and nothing was accepted. The
	// returned channel resolves with the broker acknowledgement; a nil
	// value means the broker durably accepted the envelope. Acceptance is
	// not consumption: this is an at-least-once contract.
	Enqueue(ctx context.Context, key string, env *event.Envelope) (<-chan error, error)

	// Poll returns the next undelivered envelope on the partition along
	// with its commit cursor. ok is false when the partition is empty.
	// An uncommitted envelope is returned again on the next poll.
	Poll(ctx context.Context, partition int) (env *event.Envelope, cursor uint64, ok bool, err error)

	// Commit advances the partition's delivery cursor past the envelope
	// identified by cursor. Only committed envelopes stop being
	// redelivered.
	Commit(ctx context.Context, partition int, cursor uint64) error

	// Partitions returns the number of ordering partitions.
	Partitions() int

	// Close releases transport resources.
	Close() error
}

// TransportError reports a broker operation that could not reach the
// transport. The pipeline surfaces it to the caller instead of retrying
// internally.
type TransportError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// PartitionFor maps an ordering key onto a partition. The mapping is
// stable: equal keys always land on the same partition.
func PartitionFor(key string, partitions int) int {
	if partitions <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(partitions))
}
