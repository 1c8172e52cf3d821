package trace

import "strings"

// Header keys used when the trace context crosses a broker boundary.
// Brokers are required to pass headers through unchanged.
const (
	// HeaderTraceParent carries trace ID, span ID, and sampling flag in
	// W3C traceparent form: "00-<trace id>-<span id>-<flags>".
	HeaderTraceParent = "traceparent"

	// HeaderParentSpan carries the publish-time parent span explicitly so
	// the consumer can reconstruct the full hop tree.
	HeaderParentSpan = "relay-parent-span-id"

	// HeaderCorrelationID carries the business correlation ID alongside
	// the technical trace.
	HeaderCorrelationID = "relay-correlation-id"
)

// Carrier abstracts the header map the context is serialized into.
// event.Headers satisfies it via the Map adapters below.
type Carrier interface {
	Get(key string) string
	Set(key, value string)
}

// MapCarrier adapts a plain string map to the Carrier interface.
type MapCarrier map[string]string

func (m MapCarrier) Get(key string) string { return m[key] }
func (m MapCarrier) Set(key, value string) { m[key] = value }

// Inject serializes the context into the carrier.
func Inject(tc TraceContext, carrier Carrier) {
	if !tc.IsValid() {
		return
	}
	carrier.Set(HeaderTraceParent, tc.String())
	if !tc.ParentSpanID.IsZero() {
		carrier.Set(HeaderParentSpan, tc.ParentSpanID.String())
	}
}

// Extract deserializes a context from the carrier. The second return is
// false when no usable context is present, in which case the receiver
// should start a fresh root context.
func Extract(carrier Carrier) (TraceContext, bool) {
	raw := carrier.Get(HeaderTraceParent)
	if raw == "" {
		return TraceContext{}, false
	}

	parts := strings.Split(raw, "-")
	if len(parts) != 4 {
		return TraceContext{}, false
	}

	traceID, err := ParseTraceID(parts[1])
	if err != nil {
		return TraceContext{}, false
	}
	spanID, err := ParseSpanID(parts[2])
	if err != nil {
		return TraceContext{}, false
	}

	tc := TraceContext{
		TraceID: traceID,
		SpanID:  spanID,
		Sampled: parts[3] == "01",
	}

	if parent := carrier.Get(HeaderParentSpan); parent != "" {
		if id, err := ParseSpanID(parent); err == nil {
			tc.ParentSpanID = id
		}
	}

	return tc, tc.IsValid()
}
