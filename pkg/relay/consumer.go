package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/relayworks/relay/pkg/relay/broker"
	"github.com/relayworks/relay/pkg/relay/deadletter"
	"github.com/relayworks/relay/pkg/relay/event"
	"github.com/relayworks/relay/pkg/relay/observability"
	"github.com/relayworks/relay/pkg/relay/retry"
	"github.com/relayworks/relay/pkg/relay/trace"
)

// Handler processes one delivered domain event. Returning nil commits the
// envelope; returning an error classified as transient schedules a retry,
// and a permanent error dead-letters immediately.
//
// Because delivery is at-least-once, the same envelope may be handled
// more than once (crash after success but before cursor commit). Handlers
// must tolerate duplicate application; the loop does not enforce this.
type Handler func(ctx context.Context, evt event.DomainEvent) error

// ConsumerLoop delivers one partition's envelopes strictly sequentially.
// Distinct partitions run independent loops, so a slow or stuck partition
// never delays the others.
type ConsumerLoop struct {
	partition    int
	transport    broker.Transport
	handler      Handler
	policy       retry.Policy
	dlq          deadletter.Sink
	logger       *slog.Logger
	metrics      observability.MetricsRecorder
	spans        observability.SpanManager
	pollInterval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewConsumerLoop creates a loop bound to one partition. Most callers use
// Pipeline.Subscribe, which spawns one per transport partition.
func NewConsumerLoop(transport broker.Transport, partition int, handler Handler, opts ...Option) *ConsumerLoop {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newConsumerLoop(transport, partition, handler, o)
}

func newConsumerLoop(transport broker.Transport, partition int, handler Handler, o options) *ConsumerLoop {
	return &ConsumerLoop{
		partition:    partition,
		transport:    transport,
		handler:      handler,
		policy:       o.policy,
		dlq:          o.dlq,
		logger:       o.logger,
		metrics:      o.metrics,
		spans:        o.spans,
		pollInterval: o.pollInterval,
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Run polls the partition until stopped. It blocks; call it on its own
// goroutine.
func (l *ConsumerLoop) Run(ctx context.Context) {
	defer close(l.done)

	for {
		if l.stopped(ctx) {
			return
		}

		env, cursor, ok, err := l.transport.Poll(ctx, l.partition)
		if err != nil {
			// Transport unreachable: surface in the log and keep
			// polling; the operator decides whether to intervene.
			if l.logger != nil {
				l.logger.Error("poll failed",
					slog.Int("partition", l.partition),
					slog.String("error", err.Error()))
			}
			if !l.sleep(ctx, l.pollInterval) {
				return
			}
			continue
		}
		if !ok {
			if !l.sleep(ctx, l.pollInterval) {
				return
			}
			continue
		}

		l.process(ctx, env, cursor)
	}
}

// Stop requests cooperative shutdown: the in-flight envelope finishes (or
// its backoff sleep is interrupted), and no new envelope is started.
func (l *ConsumerLoop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Done is closed once Run has returned.
func (l *ConsumerLoop) Done() <-chan struct{} {
	return l.done
}

// process drives one envelope to success, dead letter, or shutdown. The
// partition cursor advances only on those exits, never mid-flight.
func (l *ConsumerLoop) process(ctx context.Context, env *event.Envelope, cursor uint64) {
	for {
		err := l.attempt(ctx, env)
		if err == nil {
			l.commit(ctx, cursor)
			return
		}

		if env.FirstFailedAt.IsZero() {
			env.FirstFailedAt = time.Now()
		}
		attempts := env.Attempt + 1
		env.Attempt = attempts

		decision := l.policy.Decide(attempts, retry.Classify(err))
		if decision.DeadLetter {
			l.deadLetter(ctx, env, err)
			// Advance past the poison envelope so the partition is
			// never permanently stuck.
			l.commit(ctx, cursor)
			return
		}

		observability.LogRetry(l.logger, l.partition, env.Event.ID, attempts,
			float64(decision.Delay.Milliseconds()), err)
		if !l.sleep(ctx, decision.Delay) {
			// Shutdown during backoff: the envelope stays uncommitted
			// and will be redelivered.
			return
		}
	}
}

// attempt runs the handler for one delivery attempt under the envelope's
// trace context.
func (l *ConsumerLoop) attempt(ctx context.Context, env *event.Envelope) (err error) {
	tc, ok := trace.Extract(trace.MapCarrier(env.Headers))
	if !ok {
		tc = trace.New()
	} else {
		// The consume hop is a child of the publish-time span, so the
		// causal chain survives the broker gap.
		tc = tc.Child()
	}
	hopCtx := trace.WithContext(ctx, tc)

	correlation := env.Header(trace.HeaderCorrelationID)
	log := observability.EnrichLogger(l.logger, tc, correlation)

	hopCtx, span := l.spans.StartConsumeSpan(hopCtx, env.Event.Type, l.partition, env.Attempt)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		l.metrics.RecordDelivery(ctx, env.Event.Type, env.Attempt, time.Since(start), err)
		l.spans.EndSpanWithError(span, err)
		if err == nil {
			observability.LogDelivered(log, l.partition, env.Event.ID, env.Attempt)
		}
	}()

	return l.handler(hopCtx, env.Event)
}

// deadLetter reroutes an exhausted envelope. Routing failures are logged
// and swallowed so a sink outage never blocks the partition.
func (l *ConsumerLoop) deadLetter(ctx context.Context, env *event.Envelope, cause error) {
	reason := cause.Error()
	env.FailureReason = reason

	observability.LogDeadLetter(l.logger, l.partition, env.Event.ID, env.Attempt, reason)
	l.metrics.RecordDeadLetter(ctx, env.Event.Type, reason)

	if l.dlq == nil {
		return
	}
	if err := l.dlq.Reroute(ctx, env, reason); err != nil {
		observability.LogDeadLetterRoutingError(l.logger, l.partition, env.Event.ID, err)
	}
}

func (l *ConsumerLoop) commit(ctx context.Context, cursor uint64) {
	if err := l.transport.Commit(ctx, l.partition, cursor); err != nil && l.logger != nil {
		l.logger.Error("commit failed",
			slog.Int("partition", l.partition),
			slog.String("error", err.Error()))
	}
}

// sleep waits for d or until shutdown. Returns false when interrupted.
func (l *ConsumerLoop) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return !l.stopped(ctx)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-l.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func (l *ConsumerLoop) stopped(ctx context.Context) bool {
	select {
	case <-l.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
