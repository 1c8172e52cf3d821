package relay

import (
	"log/slog"
	"time"

	"github.com/relayworks/relay/pkg/relay/breaker"
	"github.com/relayworks/relay/pkg/relay/config"
	"github.com/relayworks/relay/pkg/relay/deadletter"
	"github.com/relayworks/relay/pkg/relay/observability"
	"github.com/relayworks/relay/pkg/relay/retry"
)

// options holds pipeline construction settings.
type options struct {
	logger       *slog.Logger
	metrics      observability.MetricsRecorder
	spans        observability.SpanManager
	policy       retry.Policy
	breakers     *breaker.Registry
	dlq          deadletter.Sink
	pollInterval time.Duration
	sink         string
}

func defaultOptions() options {
	return options{
		metrics:      observability.NoopMetrics{},
		spans:        observability.NoopSpanManager{},
		policy:       retry.DefaultPolicy,
		pollInterval: 50 * time.Millisecond,
		sink:         "relay",
	}
}

// Option configures a Pipeline.
type Option func(*options)

// WithLogger sets the structured logger. Without it the pipeline is
// silent.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithSpanManager enables instrumentation spans around pipeline hops.
func WithSpanManager(sm observability.SpanManager) Option {
	return func(o *options) {
		o.spans = sm
	}
}

// WithRetryPolicy sets the delivery retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithBreakerRegistry sets the circuit breaker registry handlers use for
// protected downstream calls.
func WithBreakerRegistry(r *breaker.Registry) Option {
	return func(o *options) {
		o.breakers = r
	}
}

// WithDeadLetterSink sets where exhausted envelopes are rerouted. Without
// a sink, dead letters are logged and dropped.
func WithDeadLetterSink(sink deadletter.Sink) Option {
	return func(o *options) {
		o.dlq = sink
	}
}

// WithPollInterval sets the idle sleep between polls of an empty
// partition.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithSinkName names the durable sink recorded on envelopes, used by dead
// letter records to identify the original destination.
func WithSinkName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.sink = name
		}
	}
}

// WithSettings applies file-loaded settings. Explicit options given after
// this one override it.
func WithSettings(s config.Settings) Option {
	return func(o *options) {
		if p, err := s.Retry.Policy(); err == nil {
			o.policy = p
		}
		if s.Consumer.PollInterval > 0 {
			o.pollInterval = s.Consumer.PollInterval.Std()
		}
		if len(s.Breakers) > 0 {
			o.breakers = s.Registry()
		}
	}
}
