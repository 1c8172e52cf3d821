package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records pipeline metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordPublish records a durable enqueue and its outcome.
	RecordPublish(ctx context.Context, eventType string, err error)

	// RecordDelivery records a handler invocation with its duration,
	// attempt number, and error status.
	RecordDelivery(ctx context.Context, eventType string, attempt int, duration time.Duration, err error)

	// RecordDeadLetter records an envelope leaving the delivery path.
	RecordDeadLetter(ctx context.Context, eventType, reason string)

	// RecordBreakerTransition records a circuit breaker state change.
	RecordBreakerTransition(ctx context.Context, name, from, to string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	published       metric.Int64Counter
	deliveries      metric.Int64Counter
	deliveryLatency metric.Float64Histogram
	deadLetters     metric.Int64Counter
	breakerChanges  metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics lazily initializes the default OTel metrics instance.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("relay")

	published, err := meter.Int64Counter("relay.events.published",
		metric.WithDescription("Number of events accepted by the durable transport"),
	)
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter("relay.events.deliveries",
		metric.WithDescription("Number of handler invocations"),
	)
	if err != nil {
		return nil, err
	}

	deliveryLatency, err := meter.Float64Histogram("relay.delivery.latency_ms",
		metric.WithDescription("Handler invocation latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	deadLetters, err := meter.Int64Counter("relay.events.dead_lettered",
		metric.WithDescription("Number of envelopes routed to the dead letter sink"),
	)
	if err != nil {
		return nil, err
	}

	breakerChanges, err := meter.Int64Counter("relay.breaker.transitions",
		metric.WithDescription("Number of circuit breaker state transitions"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		published:       published,
		deliveries:      deliveries,
		deliveryLatency: deliveryLatency,
		deadLetters:     deadLetters,
		breakerChanges:  breakerChanges,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder backed by the global OTel
// meter provider. Configure the provider before calling this:
//
//	otel.SetMeterProvider(yourProvider)
//
// Falls back to a no-op recorder when instrument creation fails.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		return NoopMetrics{}
	}
	return m
}

// RecordPublish implements MetricsRecorder.
func (m *otelMetrics) RecordPublish(ctx context.Context, eventType string, err error) {
	m.published.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event.type", eventType),
		attribute.Bool("error", err != nil),
	))
}

// RecordDelivery implements MetricsRecorder.
func (m *otelMetrics) RecordDelivery(ctx context.Context, eventType string, attempt int, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("event.type", eventType),
		attribute.Int("attempt", attempt),
		attribute.Bool("error", err != nil),
	)
	m.deliveries.Add(ctx, 1, attrs)
	m.deliveryLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordDeadLetter implements MetricsRecorder.
func (m *otelMetrics) RecordDeadLetter(ctx context.Context, eventType, reason string) {
	m.deadLetters.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event.type", eventType),
		attribute.String("reason", reason),
	))
}

// RecordBreakerTransition implements MetricsRecorder.
func (m *otelMetrics) RecordBreakerTransition(ctx context.Context, name, from, to string) {
	m.breakerChanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}
