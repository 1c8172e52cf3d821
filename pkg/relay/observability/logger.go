// Package observability provides structured logging, metrics, and tracing
// hooks for the relay pipeline.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Span management via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"

	"github.com/relayworks/relay/pkg/relay/trace"
)

// EnrichLogger tags a logger with the active trace so every line carries
// trace_id, span_id, and correlation_id automatically.
func EnrichLogger(logger *slog.Logger, tc trace.TraceContext, correlationID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("trace_id", tc.TraceID.String()),
		slog.String("span_id", tc.SpanID.String()),
		slog.String("correlation_id", correlationID),
	)
}

// LogPublish logs acceptance of an event by the durable transport.
func LogPublish(logger *slog.Logger, eventType, aggregateID string) {
	if logger == nil {
		return
	}
	logger.Debug("event enqueued",
		slog.String("event_type", eventType),
		slog.String("aggregate_id", aggregateID),
	)
}

// LogListenerError logs a local listener failure. Listener failures are
// swallowed at this boundary so they never abort the publish.
func LogListenerError(logger *slog.Logger, listener, eventType string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("local listener failed",
		slog.String("listener", listener),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// LogDelivered logs successful handling of an envelope.
func LogDelivered(logger *slog.Logger, partition int, eventID string, attempt int) {
	if logger == nil {
		return
	}
	logger.Debug("envelope delivered",
		slog.Int("partition", partition),
		slog.String("event_id", eventID),
		slog.Int("attempt", attempt),
	)
}

// LogRetry logs a scheduled redelivery.
func LogRetry(logger *slog.Logger, partition int, eventID string, attempt int, delayMs float64, err error) {
	if logger == nil {
		return
	}
	logger.Warn("envelope retry scheduled",
		slog.Int("partition", partition),
		slog.String("event_id", eventID),
		slog.Int("attempt", attempt),
		slog.Float64("delay_ms", delayMs),
		slog.String("error", err.Error()),
	)
}

// LogDeadLetter logs an envelope leaving the delivery path.
func LogDeadLetter(logger *slog.Logger, partition int, eventID string, attempt int, reason string) {
	if logger == nil {
		return
	}
	logger.Error("envelope dead-lettered",
		slog.Int("partition", partition),
		slog.String("event_id", eventID),
		slog.Int("attempt", attempt),
		slog.String("reason", reason),
	)
}

// LogDeadLetterRoutingError logs a dead letter sink failure. Routing
// failures are logged and never escalated, so a sink outage cannot block
// the consumer loop.
func LogDeadLetterRoutingError(logger *slog.Logger, partition int, eventID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("dead letter routing failed",
		slog.Int("partition", partition),
		slog.String("event_id", eventID),
		slog.String("error", err.Error()),
	)
}

// LogBreakerTransition logs a circuit breaker state change.
func LogBreakerTransition(logger *slog.Logger, name, from, to string) {
	if logger == nil {
		return
	}
	logger.Info("circuit breaker state changed",
		slog.String("breaker", name),
		slog.String("from", from),
		slog.String("to", to),
	)
}
