package broker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/relayworks/relay/pkg/relay/event"
)

// MemoryBroker is an in-process Transport. It keeps every enqueued
// envelope until committed, so an envelope processed but not committed is
// redelivered on the next poll — the at-least-once behavior consumers must
// tolerate.
type MemoryBroker struct {
	parts  []*memPartition
	closed atomic.Bool
}

type memPartition struct {
	mu        sync.Mutex
	items     []*event.Envelope
	committed uint64
}

// NewMemoryBroker creates a broker with the given number of ordering
// partitions.
func NewMemoryBroker(partitions int) *MemoryBroker {
	if partitions <= 0 {
		partitions = 1
	}
	parts := make([]*memPartition, partitions)
	for i := range parts {
		parts[i] = &memPartition{}
	}
	return &MemoryBroker{parts: parts}
}

// Enqueue implements Transport.
func (b *MemoryBroker) Enqueue(ctx context.Context, key string, env *event.Envelope) (<-chan error, error) {
	if b.closed.Load() {
		return nil, &TransportError{Op: "enqueue", Err: errors.New("broker is closed")}
	}

	p := b.parts[PartitionFor(key, len(b.parts))]
	p.mu.Lock()
	p.items = append(p.items, cloneEnvelope(env))
	p.mu.Unlock()

	ack := make(chan error, 1)
	ack <- nil
	close(ack)
	return ack, nil
}

// Poll implements Transport. The envelope at the committed cursor is
// returned as a copy so in-flight mutation never corrupts a redelivery.
func (b *MemoryBroker) Poll(ctx context.Context, partition int) (*event.Envelope, uint64, bool, error) {
	if partition < 0 || partition >= len(b.parts) {
		return nil, 0, false, &TransportError{Op: "poll", Err: errors.New("partition out of range")}
	}

	p := b.parts[partition]
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.committed >= uint64(len(p.items)) {
		return nil, 0, false, nil
	}
	env := cloneEnvelope(p.items[p.committed])
	return env, p.committed + 1, true, nil
}

// Commit implements Transport.
func (b *MemoryBroker) Commit(ctx context.Context, partition int, cursor uint64) error {
	if partition < 0 || partition >= len(b.parts) {
		return &TransportError{Op: "commit", Err: errors.New("partition out of range")}
	}

	p := b.parts[partition]
	p.mu.Lock()
	defer p.mu.Unlock()

	if cursor > p.committed {
		p.committed = cursor
	}
	return nil
}

// Partitions implements Transport.
func (b *MemoryBroker) Partitions() int {
	return len(b.parts)
}

// Close implements Transport.
func (b *MemoryBroker) Close() error {
	b.closed.Store(true)
	return nil
}

// Depth returns the number of uncommitted envelopes on a partition.
func (b *MemoryBroker) Depth(partition int) int {
	if partition < 0 || partition >= len(b.parts) {
		return 0
	}
	p := b.parts[partition]
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items) - int(p.committed)
}

func cloneEnvelope(env *event.Envelope) *event.Envelope {
	cp := *env
	cp.Headers = env.Headers.Clone()
	return &cp
}
