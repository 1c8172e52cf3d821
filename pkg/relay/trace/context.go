package trace

import "context"

type contextKey struct{}

// WithContext returns a context carrying tc for the duration of a hop.
// Logging helpers read it back via FromContext so every line is tagged
// with the active trace and span.
func WithContext(ctx context.Context, tc TraceContext) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext returns the trace context stored in ctx. The second return
// is false when no hop is active.
func FromContext(ctx context.Context) (TraceContext, bool) {
	tc, ok := ctx.Value(contextKey{}).(TraceContext)
	return tc, ok && tc.IsValid()
}

// StartHop derives a child context for a new hop and stores it in ctx.
// When ctx carries no trace yet, a fresh root context is started instead.
func StartHop(ctx context.Context) (context.Context, TraceContext) {
	tc, ok := FromContext(ctx)
	if !ok {
		tc = New()
	} else {
		tc = tc.Child()
	}
	return WithContext(ctx, tc), tc
}
