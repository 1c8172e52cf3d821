package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayworks/relay/pkg/relay/trace"
)

// captureLogger returns a logger writing JSON lines into buf.
func captureLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)

	var m map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &m))
	return m
}

func TestEnrichLogger(t *testing.T) {
	var buf bytes.Buffer
	tc := trace.New()

	log := EnrichLogger(captureLogger(&buf), tc, "corr-1")
	log.Info("hello")

	m := lastLine(t, &buf)
	assert.Equal(t, tc.TraceID.String(), m["trace_id"])
	assert.Equal(t, tc.SpanID.String(), m["span_id"])
	assert.Equal(t, "corr-1", m["correlation_id"])
}

func TestEnrichLoggerNil(t *testing.T) {
	assert.Nil(t, EnrichLogger(nil, trace.New(), "corr"))
}

func TestLogHelpersNilSafe(t *testing.T) {
	// Every helper must be callable on an unconfigured pipeline.
	LogPublish(nil, "t", "a")
	LogListenerError(nil, "l", "t", errors.New("x"))
	LogDelivered(nil, 0, "id", 1)
	LogRetry(nil, 0, "id", 1, 100, errors.New("x"))
	LogDeadLetter(nil, 0, "id", 3, "reason")
	LogDeadLetterRoutingError(nil, 0, "id", errors.New("x"))
	LogBreakerTransition(nil, "b", "closed", "open")
}

func TestLogDeadLetter(t *testing.T) {
	var buf bytes.Buffer

	LogDeadLetter(captureLogger(&buf), 2, "evt-1", 3, "gave up")

	m := lastLine(t, &buf)
	assert.Equal(t, "ERROR", m["level"])
	assert.Equal(t, float64(2), m["partition"])
	assert.Equal(t, "evt-1", m["event_id"])
	assert.Equal(t, float64(3), m["attempt"])
	assert.Equal(t, "gave up", m["reason"])
}

func TestLogRetry(t *testing.T) {
	var buf bytes.Buffer

	LogRetry(captureLogger(&buf), 1, "evt-1", 2, 250, errors.New("wobble"))

	m := lastLine(t, &buf)
	assert.Equal(t, "WARN", m["level"])
	assert.Equal(t, float64(250), m["delay_ms"])
	assert.Equal(t, "wobble", m["error"])
}
