// Package breaker implements a generic circuit breaker protecting any
// fallible, potentially slow operation. It is independent of the delivery
// pipeline so it can wrap arbitrary downstream calls (a notification send,
// an HTTP client) invoked from consumer handlers or anywhere else.
//
// A breaker starts CLOSED and records every call outcome (success, failure,
// or slow) in a fixed-size sliding window. Once the window holds enough
// samples and the combined failure+slow rate crosses the configured
// threshold, the breaker OPENs: every call short-circuits to the fallback
// without touching the protected operation, guaranteeing bounded latency
// and no further load on the failing downstream. After the wait duration
// the breaker admits a limited number of HALF_OPEN probes; if they all
// succeed it CLOSEs and clears the window, if any fails it re-OPENs.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/relayworks/relay/pkg/relay/trace"
)

// State is the breaker lifecycle state.
type State int

const (
	// Closed admits and records every call.
	Closed State = iota

	// Open short-circuits every call to the fallback.
	Open

	// HalfOpen admits a limited number of trial calls.
	HalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// OpenError is returned (or passed to the fallback) when a call is
// short-circuited because the breaker is not admitting calls.
type OpenError struct {
	Name string
}

// Error implements the error interface.
func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit %q is open", e.Name)
}

// IsOpenError reports whether err is a short-circuit rejection.
func IsOpenError(err error) bool {
	var oe *OpenError
	return errors.As(err, &oe)
}

// Config configures a breaker. Zero values fall back to the defaults.
type Config struct {
	// WindowSize is the number of call outcomes kept in the sliding
	// window. Oldest entries are overwritten.
	// Default: 10
	WindowSize int

	// MinimumCalls is the number of samples required before the failure
	// rate is evaluated.
	// Default: 5
	MinimumCalls int

	// FailureRateThreshold is the failure+slow rate (0.0-1.0) at which
	// the breaker opens.
	// Default: 0.5
	FailureRateThreshold float64

	// SlowCallThreshold classifies a call as slow when its duration
	// exceeds it. Slow calls count toward the failure rate but the
	// underlying call is never aborted by the breaker.
	// Default: 5 seconds
	SlowCallThreshold time.Duration

	// WaitDuration is how long the breaker stays open before admitting
	// half-open probes.
	// Default: 30 seconds
	WaitDuration time.Duration

	// HalfOpenProbes is the number of trial calls admitted in half-open
	// state.
	// Default: 3
	HalfOpenProbes int

	// OnStateChange is called after every state transition.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	WindowSize:           10,
	MinimumCalls:         5,
	FailureRateThreshold: 0.5,
	SlowCallThreshold:    5 * time.Second,
	WaitDuration:         30 * time.Second,
	HalfOpenProbes:       3,
}

type outcome uint8

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeSlow
)

// Breaker is a named circuit breaker. It is safe for concurrent use; all
// state is mutated under a single mutex sized for low contention.
type Breaker struct {
	name string
	cfg  Config

	mu       sync.Mutex
	state    State
	window   []outcome
	size     int // filled window entries
	next     int // next write position
	openedAt time.Time

	probesRemaining int // half-open probe admissions left
	probeSuccesses  int
}

// New creates a breaker for the named operation.
func New(name string, cfg Config) *Breaker {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultConfig.WindowSize
	}
	if cfg.MinimumCalls <= 0 {
		cfg.MinimumCalls = DefaultConfig.MinimumCalls
	}
	if cfg.FailureRateThreshold <= 0 {
		cfg.FailureRateThreshold = DefaultConfig.FailureRateThreshold
	}
	if cfg.SlowCallThreshold <= 0 {
		cfg.SlowCallThreshold = DefaultConfig.SlowCallThreshold
	}
	if cfg.WaitDuration <= 0 {
		cfg.WaitDuration = DefaultConfig.WaitDuration
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = DefaultConfig.HalfOpenProbes
	}

	return &Breaker{
		name:   name,
		cfg:    cfg,
		window: make([]outcome, cfg.WindowSize),
	}
}

// Name returns the protected operation's name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state. The open-to-half-open transition is
// time-driven, so an elapsed wait duration is reflected here as well.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && time.Since(b.openedAt) >= b.cfg.WaitDuration {
		b.toHalfOpen()
	}
	return b.state
}

// token records what the breaker knew when it admitted a call.
type token struct {
	probe bool
}

// acquire decides whether a call may proceed.
func (b *Breaker) acquire() (token, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open && time.Since(b.openedAt) >= b.cfg.WaitDuration {
		b.toHalfOpen()
	}

	switch b.state {
	case Closed:
		return token{}, nil
	case HalfOpen:
		if b.probesRemaining > 0 {
			b.probesRemaining--
			return token{probe: true}, nil
		}
		return token{}, &OpenError{Name: b.name}
	default:
		return token{}, &OpenError{Name: b.name}
	}
}

// record registers a completed call outcome.
func (b *Breaker) record(tok token, duration time.Duration, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	oc := outcomeSuccess
	switch {
	case err != nil:
		oc = outcomeFailure
	case duration > b.cfg.SlowCallThreshold:
		oc = outcomeSlow
	}

	if tok.probe {
		// A probe completing after the breaker has already moved on
		// (re-opened by another probe, or closed) has no effect.
		if b.state != HalfOpen {
			return
		}
		if oc == outcomeSuccess {
			b.probeSuccesses++
			if b.probeSuccesses >= b.cfg.HalfOpenProbes {
				b.toClosed()
			}
		} else {
			b.toOpen()
		}
		return
	}

	// Outcomes of calls admitted while closed are always recorded, but
	// the window is only evaluated on closed-state outcomes: a straggler
	// completing after the breaker opened never re-opens it.
	b.push(oc)
	if b.state == Closed {
		b.evaluate()
	}
}

// push writes an outcome into the sliding window, overwriting the oldest.
func (b *Breaker) push(oc outcome) {
	b.window[b.next] = oc
	b.next = (b.next + 1) % len(b.window)
	if b.size < len(b.window) {
		b.size++
	}
}

// evaluate opens the breaker when the failure rate crosses the threshold.
// Caller must hold the lock and state must be Closed.
func (b *Breaker) evaluate() {
	if b.size < b.cfg.MinimumCalls {
		return
	}
	bad := 0
	for i := 0; i < b.size; i++ {
		if b.window[i] != outcomeSuccess {
			bad++
		}
	}
	if float64(bad)/float64(b.size) >= b.cfg.FailureRateThreshold {
		b.toOpen()
	}
}

// Transitions. Callers must hold the lock.

func (b *Breaker) toOpen() {
	from := b.state
	b.state = Open
	b.openedAt = time.Now()
	b.notify(from, Open)
}

func (b *Breaker) toHalfOpen() {
	from := b.state
	b.state = HalfOpen
	b.probesRemaining = b.cfg.HalfOpenProbes
	b.probeSuccesses = 0
	b.notify(from, HalfOpen)
}

func (b *Breaker) toClosed() {
	from := b.state
	b.state = Closed
	b.size = 0
	b.next = 0
	b.notify(from, Closed)
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// Execute runs op through the breaker. While the breaker is open the
// operation is never invoked: the call short-circuits to fallback with an
// OpenError. Operation failures in closed or half-open state are recorded
// and returned to the caller so it can classify them for its own retry
// policy; the fallback is reserved for short-circuits.
//
// Crossing into the protected operation is a trace hop: op runs under a
// child trace context whose parent is the caller's active span.
//
// The slow-call classification does not abort op. Cancellation on timeout
// is the wrapped operation's responsibility, typically via ctx.
func Execute[T any](
	ctx context.Context,
	b *Breaker,
	op func(context.Context) (T, error),
	fallback func(context.Context, error) (T, error),
) (T, error) {
	tok, err := b.acquire()
	if err != nil {
		if fallback != nil {
			return fallback(ctx, err)
		}
		var zero T
		return zero, err
	}

	ctx, _ = trace.StartHop(ctx)
	start := time.Now()
	result, opErr := op(ctx)
	b.record(tok, time.Since(start), opErr)
	return result, opErr
}

// Do is Execute for operations without a result value.
func Do(
	ctx context.Context,
	b *Breaker,
	op func(context.Context) error,
	fallback func(context.Context, error) error,
) error {
	_, err := Execute(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, func(ctx context.Context, err error) (struct{}, error) {
		if fallback != nil {
			return struct{}{}, fallback(ctx, err)
		}
		return struct{}{}, err
	})
	return err
}
