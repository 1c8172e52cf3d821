package retry

import (
	"math/rand/v2"
	"time"
)

// Backoff selects the delay shape between attempts.
type Backoff int

const (
	// BackoffFixed sleeps the same delay before every retry.
	BackoffFixed Backoff = iota

	// BackoffExponential multiplies the delay by Factor after each
	// attempt, capped at MaxDelay.
	BackoffExponential
)

// Policy is the pure retry decision: how many attempts an envelope gets
// and how long to wait between them. Policies are value types and safe to
// share.
type Policy struct {
	// MaxAttempts is the total number of delivery attempts (including the
	// first) before an envelope is dead-lettered.
	MaxAttempts int

	// Backoff selects fixed or exponential delay growth.
	Backoff Backoff

	// Delay is the initial delay before the first retry.
	Delay time.Duration

	// MaxDelay caps exponential growth.
	MaxDelay time.Duration

	// Factor is the exponential growth multiplier.
	Factor float64

	// Jitter is the random jitter factor (0.0-1.0) applied to each delay.
	Jitter float64
}

// DefaultPolicy is the standard delivery retry configuration.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	Backoff:     BackoffExponential,
	Delay:       1 * time.Second,
	MaxDelay:    30 * time.Second,
	Factor:      2.0,
	Jitter:      0.1,
}

// Decision is the outcome of a retry evaluation.
type Decision struct {
	// DeadLetter is true when the envelope must be rerouted to the dead
	// letter sink instead of retried.
	DeadLetter bool

	// Delay is how long to back off before the next attempt. Only
	// meaningful when DeadLetter is false.
	Delay time.Duration
}

// Decide evaluates a failed attempt. attempt is the number of delivery
// attempts completed so far (1 after the first failure). Permanent
// failures dead-letter immediately regardless of the attempt count;
// transient failures retry until MaxAttempts is reached.
func (p Policy) Decide(attempt int, kind FailureKind) Decision {
	if kind == KindPermanent {
		return Decision{DeadLetter: true}
	}
	if attempt >= p.MaxAttempts {
		return Decision{DeadLetter: true}
	}
	return Decision{Delay: p.DelayFor(attempt)}
}

// DelayFor returns the backoff delay after the given completed attempt
// count, with jitter applied.
func (p Policy) DelayFor(attempt int) time.Duration {
	delay := p.Delay
	if p.Backoff == BackoffExponential {
		for i := 1; i < attempt; i++ {
			delay = time.Duration(float64(delay) * p.Factor)
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
				break
			}
		}
	}
	return applyJitter(delay, p.Jitter)
}

// applyJitter spreads a delay by +/- (delay * jitter * random).
func applyJitter(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || base <= 0 {
		return base
	}
	amount := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + amount)
}

// Option configures a Policy.
type Option func(*Policy)

// WithMaxAttempts sets the total attempt budget.
func WithMaxAttempts(n int) Option {
	return func(p *Policy) {
		p.MaxAttempts = n
	}
}

// WithFixedBackoff selects a constant delay between retries.
func WithFixedBackoff(d time.Duration) Option {
	return func(p *Policy) {
		p.Backoff = BackoffFixed
		p.Delay = d
	}
}

// WithExponentialBackoff selects exponential delay growth.
func WithExponentialBackoff(initial, max time.Duration, factor float64) Option {
	return func(p *Policy) {
		p.Backoff = BackoffExponential
		p.Delay = initial
		p.MaxDelay = max
		p.Factor = factor
	}
}

// WithJitter sets the jitter factor.
func WithJitter(j float64) Option {
	return func(p *Policy) {
		p.Jitter = j
	}
}

// NewPolicy builds a policy from DefaultPolicy and the given options.
func NewPolicy(opts ...Option) Policy {
	p := DefaultPolicy
	for _, opt := range opts {
		opt(&p)
	}
	return p
}
