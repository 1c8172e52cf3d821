package observability

import (
	"context"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that records nothing.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

// RecordPublish implements MetricsRecorder.
func (NoopMetrics) RecordPublish(context.Context, string, error) {}

// RecordDelivery implements MetricsRecorder.
func (NoopMetrics) RecordDelivery(context.Context, string, int, time.Duration, error) {}

// RecordDeadLetter implements MetricsRecorder.
func (NoopMetrics) RecordDeadLetter(context.Context, string, string) {}

// RecordBreakerTransition implements MetricsRecorder.
func (NoopMetrics) RecordBreakerTransition(context.Context, string, string, string) {}

// NoopSpanManager is a SpanManager that emits no spans.
type NoopSpanManager struct{}

var _ SpanManager = NoopSpanManager{}

// StartPublishSpan implements SpanManager.
func (NoopSpanManager) StartPublishSpan(ctx context.Context, _, _ string) (context.Context, oteltrace.Span) {
	return ctx, tracenoop.Span{}
}

// StartConsumeSpan implements SpanManager.
func (NoopSpanManager) StartConsumeSpan(ctx context.Context, _ string, _, _ int) (context.Context, oteltrace.Span) {
	return ctx, tracenoop.Span{}
}

// StartProtectedCallSpan implements SpanManager.
func (NoopSpanManager) StartProtectedCallSpan(ctx context.Context, _ string) (context.Context, oteltrace.Span) {
	return ctx, tracenoop.Span{}
}

// EndSpanWithError implements SpanManager.
func (NoopSpanManager) EndSpanWithError(oteltrace.Span, error) {}
