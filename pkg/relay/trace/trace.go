// Package trace provides the causal trace context threaded through every
// hop of the relay pipeline.
//
// A TraceContext carries a 128-bit trace ID that stays constant across all
// hops of one causal chain, a 64-bit span ID regenerated at every hop, and
// the parent hop's span ID, forming a tree rooted at the originating
// request. The context survives asynchronous broker gaps by being injected
// into envelope headers on publish and extracted before the consumer
// handler runs.
package trace

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// TraceID is a 128-bit identifier shared by all hops of one causal chain.
type TraceID [16]byte

// SpanID is a 64-bit identifier unique to a single hop.
type SpanID [8]byte

// String returns the lowercase hex encoding of the trace ID.
func (t TraceID) String() string { return hex.EncodeToString(t[:]) }

// String returns the lowercase hex encoding of the span ID.
func (s SpanID) String() string { return hex.EncodeToString(s[:]) }

// IsZero reports whether the trace ID is unset.
func (t TraceID) IsZero() bool { return t == TraceID{} }

// IsZero reports whether the span ID is unset.
func (s SpanID) IsZero() bool { return s == SpanID{} }

// TraceContext is the immutable causal identifier for one hop.
type TraceContext struct {
	// TraceID is invariant across every hop of the causal chain.
	TraceID TraceID

	// SpanID is freshly generated at every hop.
	SpanID SpanID

	// ParentSpanID is the SpanID of the direct predecessor hop. Zero for
	// the root hop.
	ParentSpanID SpanID

	// Sampled controls whether detailed instrumentation is emitted for
	// this chain.
	Sampled bool
}

// New creates a root trace context for an externally triggered unit of
// work that arrived without an inbound carrier.
func New() TraceContext {
	return TraceContext{
		TraceID: newTraceID(),
		SpanID:  newSpanID(),
		Sampled: true,
	}
}

// Child derives the context for the next hop: a fresh span ID, the current
// span as parent, and an unchanged trace ID and sampling decision.
func (tc TraceContext) Child() TraceContext {
	return TraceContext{
		TraceID:      tc.TraceID,
		SpanID:       newSpanID(),
		ParentSpanID: tc.SpanID,
		Sampled:      tc.Sampled,
	}
}

// IsValid reports whether the context carries usable identifiers.
func (tc TraceContext) IsValid() bool {
	return !tc.TraceID.IsZero() && !tc.SpanID.IsZero()
}

// String renders the context in traceparent-like form for logging.
func (tc TraceContext) String() string {
	flag := "00"
	if tc.Sampled {
		flag = "01"
	}
	return fmt.Sprintf("00-%s-%s-%s", tc.TraceID, tc.SpanID, flag)
}

func newTraceID() TraceID {
	var id TraceID
	for id.IsZero() {
		_, _ = rand.Read(id[:])
	}
	return id
}

func newSpanID() SpanID {
	var id SpanID
	for id.IsZero() {
		_, _ = rand.Read(id[:])
	}
	return id
}

// ParseTraceID decodes a 32-character hex trace ID.
func ParseTraceID(s string) (TraceID, error) {
	var id TraceID
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(id) {
		return id, fmt.Errorf("invalid trace id %q", s)
	}
	copy(id[:], b)
	return id, nil
}

// ParseSpanID decodes a 16-character hex span ID.
func ParseSpanID(s string) (SpanID, error) {
	var id SpanID
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(id) {
		return id, fmt.Errorf("invalid span id %q", s)
	}
	copy(id[:], b)
	return id, nil
}
