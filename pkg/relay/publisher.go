package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/relayworks/relay/pkg/relay/broker"
	"github.com/relayworks/relay/pkg/relay/event"
	"github.com/relayworks/relay/pkg/relay/observability"
	"github.com/relayworks/relay/pkg/relay/trace"
)

// ErrMissingAggregateID rejects events without an ordering key.
var ErrMissingAggregateID = errors.New("event has no aggregate id")

// Listener is a local, in-process subscriber for non-critical side
// effects. Listeners run synchronously on the publishing goroutine, in
// registration order, and their failures are logged and swallowed — never
// place logic here whose failure must roll back the triggering operation.
type Listener func(ctx context.Context, evt event.DomainEvent) error

// PublishResult reports acceptance of the durable enqueue. It says
// nothing about remote consumption: the delivery contract is
// at-least-once, not exactly-once.
type PublishResult struct {
	// EventID identifies the published event.
	EventID string

	// Ack resolves with the broker acknowledgement of the enqueue.
	Ack <-chan error
}

type listenerEntry struct {
	name string
	fn   Listener
}

// Publisher hands domain events to local listeners and the durable
// transport. It is safe for concurrent use.
type Publisher struct {
	transport broker.Transport
	sink      string
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager

	mu        sync.RWMutex
	listeners []listenerEntry
}

// NewPublisher creates a standalone publisher over the transport. Most
// callers get one from Pipeline.Publisher instead.
func NewPublisher(transport broker.Transport, opts ...Option) *Publisher {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newPublisher(transport, o)
}

func newPublisher(transport broker.Transport, o options) *Publisher {
	return &Publisher{
		transport: transport,
		sink:      o.sink,
		logger:    o.logger,
		metrics:   o.metrics,
		spans:     o.spans,
	}
}

// Register adds a local listener. Iteration order is registration order,
// fixed and deterministic.
func (p *Publisher) Register(name string, fn Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, listenerEntry{name: name, fn: fn})
}

// Publish delivers the event to all local listeners synchronously, then
// enqueues it to the durable transport keyed by aggregate ID.
//
// A synchronous transport failure is returned as a *broker.TransportError
// without internal retry; retry-on-publish is the caller's call to make.
func (p *Publisher) Publish(ctx context.Context, evt event.DomainEvent) (PublishResult, error) {
	if evt.AggregateID == "" {
		return PublishResult{}, ErrMissingAggregateID
	}

	ctx, tc := trace.StartHop(ctx)
	ctx, span := p.spans.StartPublishSpan(ctx, evt.Type, evt.AggregateID)
	log := observability.EnrichLogger(p.logger, tc, evt.CorrelationID)

	p.mu.RLock()
	listeners := p.listeners
	p.mu.RUnlock()

	// Local listeners run before the durable enqueue and on this
	// goroutine. A failing listener never aborts the remaining listeners
	// or the publish.
	for _, l := range listeners {
		if err := p.invokeListener(ctx, l, evt); err != nil {
			observability.LogListenerError(log, l.name, evt.Type, err)
		}
	}

	env := event.NewEnvelope(evt, p.sink)
	trace.Inject(tc, trace.MapCarrier(env.Headers))
	env.SetHeader(trace.HeaderCorrelationID, evt.CorrelationID)

	ack, err := p.transport.Enqueue(ctx, evt.AggregateID, env)
	p.metrics.RecordPublish(ctx, evt.Type, err)
	if err != nil {
		p.spans.EndSpanWithError(span, err)
		return PublishResult{}, err
	}

	observability.LogPublish(log, evt.Type, evt.AggregateID)
	p.spans.EndSpanWithError(span, nil)
	return PublishResult{EventID: evt.ID, Ack: ack}, nil
}

// invokeListener shields the publish path from listener errors and
// panics.
func (p *Publisher) invokeListener(ctx context.Context, l listenerEntry, evt event.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return l.fn(ctx, evt)
}
