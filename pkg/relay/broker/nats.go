package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/relayworks/relay/pkg/relay/event"
)

// NATSTransport carries envelopes over NATS, one subject per ordering
// partition ("<prefix>.<partition>"), with envelope headers mirrored into
// NATS message headers so intermediaries can pass them through.
//
// Core NATS does not retain messages for replay, so Commit is local
// bookkeeping only: redelivery after a process crash requires a
// stream-enabled server. The ordering and header pass-through contract the
// pipeline depends on holds either way.
type NATSTransport struct {
	conn       *nats.Conn
	prefix     string
	partitions int
	buffer     int

	mu     sync.Mutex
	subs   map[int]*nats.Subscription
	queues map[int]chan *nats.Msg
	closed bool
}

// NATSConfig configures the NATS transport.
type NATSConfig struct {
	// URL is the server address, e.g. nats.DefaultURL.
	URL string

	// SubjectPrefix namespaces the partition subjects.
	// Default: "relay"
	SubjectPrefix string

	// Partitions is the number of ordering partitions.
	// Default: 4
	Partitions int

	// Buffer is the per-partition receive buffer.
	// Default: 256
	Buffer int

	// Options are extra connection options (reconnect handlers etc.).
	Options []nats.Option
}

// NewNATSTransport connects to NATS with automatic reconnection.
func NewNATSTransport(cfg NATSConfig) (*NATSTransport, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "relay"
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = 4
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}

	defaults := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	conn, err := nats.Connect(cfg.URL, append(defaults, cfg.Options...)...)
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err}
	}

	return &NATSTransport{
		conn:       conn,
		prefix:     cfg.SubjectPrefix,
		partitions: cfg.Partitions,
		buffer:     cfg.Buffer,
		subs:       make(map[int]*nats.Subscription),
		queues:     make(map[int]chan *nats.Msg),
	}, nil
}

// Enqueue implements Transport.
func (t *NATSTransport) Enqueue(ctx context.Context, key string, env *event.Envelope) (<-chan error, error) {
	partition := PartitionFor(key, t.partitions)

	data, err := env.Marshal()
	if err != nil {
		return nil, &TransportError{Op: "enqueue", Err: err}
	}

	msg := nats.NewMsg(fmt.Sprintf("%s.%d", t.prefix, partition))
	msg.Data = data
	// Direct assignment keeps the envelope's lowercase keys; Header.Set
	// would canonicalize them ("traceparent" -> "Traceparent") and split
	// them from the serialized copy.
	for k, v := range env.Headers {
		msg.Header[k] = []string{v}
	}

	if err := t.conn.PublishMsg(msg); err != nil {
		return nil, &TransportError{Op: "enqueue", Err: err}
	}

	// The broker acknowledgement resolves once the publish is flushed to
	// the server.
	ack := make(chan error, 1)
	go func() {
		if err := t.conn.FlushTimeout(5 * time.Second); err != nil {
			ack <- &TransportError{Op: "enqueue", Err: err}
		} else {
			ack <- nil
		}
		close(ack)
	}()
	return ack, nil
}

// Poll implements Transport. The first poll of a partition establishes its
// subscription.
func (t *NATSTransport) Poll(ctx context.Context, partition int) (*event.Envelope, uint64, bool, error) {
	if partition < 0 || partition >= t.partitions {
		return nil, 0, false, &TransportError{Op: "poll", Err: fmt.Errorf("partition %d out of range", partition)}
	}

	queue, err := t.queue(partition)
	if err != nil {
		return nil, 0, false, err
	}

	select {
	case msg := <-queue:
		env, err := event.Unmarshal(msg.Data)
		if err != nil {
			return nil, 0, false, &TransportError{Op: "poll", Err: err}
		}
		// Broker-level headers win over the serialized copy. Keys are
		// folded to lowercase so a canonicalizing intermediary cannot
		// fork "traceparent" and "Traceparent" into separate entries.
		for k, values := range msg.Header {
			if len(values) == 0 {
				continue
			}
			env.SetHeader(strings.ToLower(k), values[0])
		}
		return env, 0, true, nil
	default:
		return nil, 0, false, nil
	}
}

// Commit implements Transport. Core NATS has no server-side cursor; the
// message was removed from the receive buffer when polled.
func (t *NATSTransport) Commit(ctx context.Context, partition int, cursor uint64) error {
	return nil
}

// Partitions implements Transport.
func (t *NATSTransport) Partitions() int {
	return t.partitions
}

// Close implements Transport.
func (t *NATSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, sub := range t.subs {
		_ = sub.Unsubscribe()
	}
	t.conn.Close()
	return nil
}

// queue returns the receive channel for a partition, subscribing on first
// use.
func (t *NATSTransport) queue(partition int) (chan *nats.Msg, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, &TransportError{Op: "poll", Err: fmt.Errorf("transport is closed")}
	}
	if q, ok := t.queues[partition]; ok {
		return q, nil
	}

	q := make(chan *nats.Msg, t.buffer)
	sub, err := t.conn.ChanSubscribe(fmt.Sprintf("%s.%d", t.prefix, partition), q)
	if err != nil {
		return nil, &TransportError{Op: "subscribe", Err: err}
	}
	// Flush so the subscription is registered server-side before we report
	// the partition as pollable.
	if err := t.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, &TransportError{Op: "subscribe", Err: err}
	}

	t.subs[partition] = sub
	t.queues[partition] = q
	return q, nil
}
