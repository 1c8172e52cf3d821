package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/relayworks/relay/pkg/relay/breaker"
	"github.com/relayworks/relay/pkg/relay/broker"
	"github.com/relayworks/relay/pkg/relay/observability"
)

// ErrAlreadySubscribed is returned by Subscribe when a handler is already
// running.
var ErrAlreadySubscribed = errors.New("pipeline already has a subscriber")

// Pipeline wires the publisher, consumer loops, breaker registry, and
// dead letter sink over one transport.
type Pipeline struct {
	transport broker.Transport
	opts      options
	publisher *Publisher
	breakers  *breaker.Registry

	mu     sync.Mutex
	loops  []*ConsumerLoop
	cancel context.CancelFunc
}

// New assembles a pipeline over the transport. Consumption does not start
// until Subscribe is called.
func New(transport broker.Transport, opts ...Option) *Pipeline {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.breakers == nil {
		o.breakers = breaker.NewRegistry(breaker.DefaultConfig)
	}
	o.breakers.OnTransition(func(name string, from, to breaker.State) {
		observability.LogBreakerTransition(o.logger, name, from.String(), to.String())
		o.metrics.RecordBreakerTransition(context.Background(), name, from.String(), to.String())
	})

	return &Pipeline{
		transport: transport,
		opts:      o,
		publisher: newPublisher(transport, o),
		breakers:  o.breakers,
	}
}

// Publisher returns the pipeline's publisher.
func (p *Pipeline) Publisher() *Publisher {
	return p.publisher
}

// Breakers returns the circuit breaker registry shared with handlers.
func (p *Pipeline) Breakers() *breaker.Registry {
	return p.breakers
}

// RegisterListener adds a local listener to the publisher.
func (p *Pipeline) RegisterListener(name string, fn Listener) {
	p.publisher.Register(name, fn)
}

// Protected runs op through the named breaker from the pipeline's
// registry, wrapped in an instrumentation span. Handlers use it to guard
// downstream calls without wiring the breaker and span manager
// themselves. The op runs one trace hop below the caller.
func (p *Pipeline) Protected(ctx context.Context, name string, op func(context.Context) error, fallback func(context.Context, error) error) error {
	return breaker.Do(ctx, p.breakers.Get(name), func(ctx context.Context) error {
		ctx, span := p.opts.spans.StartProtectedCallSpan(ctx, name)
		err := op(ctx)
		p.opts.spans.EndSpanWithError(span, err)
		return err
	}, fallback)
}

// Subscribe starts one consumer loop per transport partition, all running
// the given handler. Only one subscriber per pipeline.
func (p *Pipeline) Subscribe(handler Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.loops) > 0 {
		return ErrAlreadySubscribed
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	for partition := 0; partition < p.transport.Partitions(); partition++ {
		loop := newConsumerLoop(p.transport, partition, handler, p.opts)
		p.loops = append(p.loops, loop)
		go loop.Run(ctx)
	}
	return nil
}

// Shutdown stops the consumer loops and waits for in-flight envelopes,
// bounded by the context. The transport is not closed; the caller owns
// it.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	loops := p.loops
	cancel := p.cancel
	p.loops = nil
	p.cancel = nil
	p.mu.Unlock()

	for _, loop := range loops {
		loop.Stop()
	}
	for _, loop := range loops {
		select {
		case <-loop.Done():
		case <-ctx.Done():
			if cancel != nil {
				cancel()
			}
			return ctx.Err()
		}
	}
	if cancel != nil {
		cancel()
	}
	return nil
}
