package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	relaytrace "github.com/relayworks/relay/pkg/relay/trace"
)

// tracer uses the global OTel tracer provider.
var tracer = otel.Tracer("relay")

// SpanManager handles instrumentation span lifecycle around pipeline hops.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
// Spans are only emitted for sampled trace contexts.
type SpanManager interface {
	// StartPublishSpan starts a span for a publish hop.
	StartPublishSpan(ctx context.Context, eventType, aggregateID string) (context.Context, oteltrace.Span)

	// StartConsumeSpan starts a span for handling one envelope.
	StartConsumeSpan(ctx context.Context, eventType string, partition, attempt int) (context.Context, oteltrace.Span)

	// StartProtectedCallSpan starts a span for a circuit-breaker-wrapped
	// call.
	StartProtectedCallSpan(ctx context.Context, name string) (context.Context, oteltrace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span oteltrace.Span, err error)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses the global OTel tracer
// provider. Configure the provider before calling this function:
//
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartPublishSpan implements SpanManager.
func (m *otelSpanManager) StartPublishSpan(ctx context.Context, eventType, aggregateID string) (context.Context, oteltrace.Span) {
	if !sampled(ctx) {
		return ctx, noopSpan()
	}
	return tracer.Start(ctx, "relay.publish",
		oteltrace.WithAttributes(
			attribute.String("event.type", eventType),
			attribute.String("event.aggregate_id", aggregateID),
		),
		oteltrace.WithSpanKind(oteltrace.SpanKindProducer),
	)
}

// StartConsumeSpan implements SpanManager.
func (m *otelSpanManager) StartConsumeSpan(ctx context.Context, eventType string, partition, attempt int) (context.Context, oteltrace.Span) {
	if !sampled(ctx) {
		return ctx, noopSpan()
	}
	return tracer.Start(ctx, "relay.consume",
		oteltrace.WithAttributes(
			attribute.String("event.type", eventType),
			attribute.Int("partition", partition),
			attribute.Int("attempt", attempt),
		),
		oteltrace.WithSpanKind(oteltrace.SpanKindConsumer),
	)
}

// StartProtectedCallSpan implements SpanManager.
func (m *otelSpanManager) StartProtectedCallSpan(ctx context.Context, name string) (context.Context, oteltrace.Span) {
	if !sampled(ctx) {
		return ctx, noopSpan()
	}
	return tracer.Start(ctx, "relay.protected."+name,
		oteltrace.WithAttributes(attribute.String("operation", name)),
		oteltrace.WithSpanKind(oteltrace.SpanKindInternal),
	)
}

// EndSpanWithError implements SpanManager.
func (m *otelSpanManager) EndSpanWithError(span oteltrace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// sampled reports whether the active relay trace context asked for
// detailed instrumentation. Absence of a context means sampled: the caller
// opted in by configuring a span manager at all.
func sampled(ctx context.Context) bool {
	tc, ok := relaytrace.FromContext(ctx)
	if !ok {
		return true
	}
	return tc.Sampled
}

func noopSpan() oteltrace.Span {
	return tracenoop.Span{}
}
