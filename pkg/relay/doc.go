/*
Package relay provides a resilient event delivery pipeline: a publisher
that fans a domain event out to local listeners and a durable broker sink,
partition-ordered consumer loops with bounded retry and dead-lettering,
circuit breakers for unreliable downstream calls, and causal trace
propagation across every hop.

# Overview

Business logic raises an immutable DomainEvent. The Publisher runs local
listeners synchronously (non-critical side effects only; their failures
are logged and swallowed) and enqueues the event to the durable transport,
keyed by aggregate ID so all events for one aggregate stay ordered. One
ConsumerLoop per partition pulls envelopes, invokes the handler, and
commits the partition cursor only after success. Transient failures back
off and retry on the same partition without reordering; exhausted or
permanently failing envelopes are rerouted to a dead letter sink and the
partition moves on. A trace context travels in envelope headers so the
causal chain survives the asynchronous broker gap.

Delivery is at-least-once: an envelope may be handled again after a crash
between handling and commit, so handlers must tolerate duplicate
application.

# Basic Usage

	transport := broker.NewMemoryBroker(4)
	pipe := relay.New(transport,
		relay.WithRetryPolicy(retry.NewPolicy(retry.WithMaxAttempts(3))),
		relay.WithDeadLetterSink(deadletter.NewStoreSink(store)),
	)

	pipe.RegisterListener("audit", func(ctx context.Context, evt event.DomainEvent) error {
		log.Printf("observed %s", evt.Type)
		return nil
	})

	err := pipe.Subscribe(func(ctx context.Context, evt event.DomainEvent) error {
		return process(ctx, evt)
	})
	if err != nil {
		log.Fatal(err)
	}

	evt := event.MustNew("user.registered", userID, payload)
	if _, err := pipe.Publisher().Publish(ctx, evt); err != nil {
		log.Fatal(err)
	}

Handlers protect calls to unreliable collaborators with a circuit breaker
from the pipeline's registry:

	b := pipe.Breakers().Get("notifications")
	err := breaker.Do(ctx, b,
		func(ctx context.Context) error { return notify(ctx, user) },
		func(ctx context.Context, err error) error { return queueForLater(user) },
	)
*/
package relay
