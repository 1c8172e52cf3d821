package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	relaytrace "github.com/relayworks/relay/pkg/relay/trace"
)

// setupTracerTest installs an in-memory exporter for the test. The tracer
// package variable is bound at init, so tests exercise the manager through
// a fresh one.
func setupTracerTest(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	original := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	tracer = provider.Tracer("relay")
	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		tracer = otel.Tracer("relay")
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("shutting down tracer provider: %v", err)
		}
	})
	return exporter
}

func TestSpanManagerEmitsSpans(t *testing.T) {
	exporter := setupTracerTest(t)
	sm := NewSpanManager()

	ctx, span := sm.StartPublishSpan(context.Background(), "order.placed", "order-1")
	sm.EndSpanWithError(span, nil)

	_, span = sm.StartConsumeSpan(ctx, "order.placed", 2, 1)
	sm.EndSpanWithError(span, errors.New("boom"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	assert.Equal(t, "relay.publish", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)

	assert.Equal(t, "relay.consume", spans[1].Name)
	assert.Equal(t, codes.Error, spans[1].Status.Code)
	assert.Equal(t, "boom", spans[1].Status.Description)
}

func TestSpanManagerSkipsUnsampled(t *testing.T) {
	exporter := setupTracerTest(t)
	sm := NewSpanManager()

	tc := relaytrace.New()
	tc.Sampled = false
	ctx := relaytrace.WithContext(context.Background(), tc)

	_, span := sm.StartPublishSpan(ctx, "order.placed", "order-1")
	sm.EndSpanWithError(span, nil)

	assert.Empty(t, exporter.GetSpans())
}

func TestSpanManagerProtectedCall(t *testing.T) {
	exporter := setupTracerTest(t)
	sm := NewSpanManager()

	_, span := sm.StartProtectedCallSpan(context.Background(), "notify")
	sm.EndSpanWithError(span, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "relay.protected.notify", spans[0].Name)
}

func TestNoopSpanManagerEmitsNothing(t *testing.T) {
	exporter := setupTracerTest(t)

	var sm SpanManager = NoopSpanManager{}
	_, span := sm.StartPublishSpan(context.Background(), "t", "a")
	sm.EndSpanWithError(span, errors.New("ignored"))

	assert.Empty(t, exporter.GetSpans())
}
