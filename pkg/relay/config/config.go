// Package config loads pipeline settings from yaml or json files and
// translates them into the option types the pipeline components consume.
package config

import (
	"fmt"

	"github.com/relayworks/relay/pkg/relay/breaker"
	"github.com/relayworks/relay/pkg/relay/retry"
)

// Settings is the full configuration surface of a pipeline.
type Settings struct {
	// Retry configures the delivery retry policy.
	Retry RetrySettings `yaml:"retry" json:"retry"`

	// Consumer configures the consumer loops.
	Consumer ConsumerSettings `yaml:"consumer" json:"consumer"`

	// Breakers configures named circuit breakers. The "default" entry, if
	// present, applies to breakers without their own entry.
	Breakers map[string]BreakerSettings `yaml:"breakers" json:"breakers"`
}

// RetrySettings configures the retry policy.
type RetrySettings struct {
	// MaxAttempts is the total delivery attempt budget per envelope.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// Backoff is "fixed" or "exponential".
	Backoff string `yaml:"backoff" json:"backoff"`

	// Delay is the initial backoff delay.
	Delay Duration `yaml:"delay" json:"delay"`

	// MaxDelay caps exponential growth.
	MaxDelay Duration `yaml:"max_delay" json:"max_delay"`

	// Factor is the exponential multiplier.
	Factor float64 `yaml:"factor" json:"factor"`

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64 `yaml:"jitter" json:"jitter"`
}

// ConsumerSettings configures consumer loop behavior.
type ConsumerSettings struct {
	// Partitions is the number of ordering partitions to consume.
	Partitions int `yaml:"partitions" json:"partitions"`

	// PollInterval is the idle sleep between polls of an empty partition.
	PollInterval Duration `yaml:"poll_interval" json:"poll_interval"`
}

// BreakerSettings configures one named circuit breaker.
type BreakerSettings struct {
	WindowSize           int      `yaml:"window_size" json:"window_size"`
	MinimumCalls         int      `yaml:"minimum_calls" json:"minimum_calls"`
	FailureRateThreshold float64  `yaml:"failure_rate_threshold" json:"failure_rate_threshold"`
	SlowCallThreshold    Duration `yaml:"slow_call_threshold" json:"slow_call_threshold"`
	WaitDuration         Duration `yaml:"wait_duration" json:"wait_duration"`
	HalfOpenProbes       int      `yaml:"half_open_probes" json:"half_open_probes"`
}

// Policy translates the retry settings into a retry.Policy, applying
// defaults for unset fields.
func (s RetrySettings) Policy() (retry.Policy, error) {
	p := retry.DefaultPolicy

	if s.MaxAttempts > 0 {
		p.MaxAttempts = s.MaxAttempts
	}
	switch s.Backoff {
	case "", "exponential":
		p.Backoff = retry.BackoffExponential
	case "fixed":
		p.Backoff = retry.BackoffFixed
	default:
		return retry.Policy{}, fmt.Errorf("unknown backoff shape %q", s.Backoff)
	}
	if s.Delay > 0 {
		p.Delay = s.Delay.Std()
	}
	if s.MaxDelay > 0 {
		p.MaxDelay = s.MaxDelay.Std()
	}
	if s.Factor > 0 {
		p.Factor = s.Factor
	}
	if s.Jitter > 0 {
		p.Jitter = s.Jitter
	}
	return p, nil
}

// BreakerConfig translates breaker settings into a breaker.Config.
func (s BreakerSettings) BreakerConfig() breaker.Config {
	return breaker.Config{
		WindowSize:           s.WindowSize,
		MinimumCalls:         s.MinimumCalls,
		FailureRateThreshold: s.FailureRateThreshold,
		SlowCallThreshold:    s.SlowCallThreshold.Std(),
		WaitDuration:         s.WaitDuration.Std(),
		HalfOpenProbes:       s.HalfOpenProbes,
	}
}

// Registry builds a breaker registry from the named breaker settings. The
// "default" entry becomes the registry default config.
func (s Settings) Registry() *breaker.Registry {
	defaults := breaker.DefaultConfig
	if d, ok := s.Breakers["default"]; ok {
		defaults = d.BreakerConfig()
	}

	opts := make([]breaker.RegistryOption, 0, len(s.Breakers))
	for name, bs := range s.Breakers {
		if name == "default" {
			continue
		}
		opts = append(opts, breaker.WithBreakerConfig(name, bs.BreakerConfig()))
	}
	return breaker.NewRegistry(defaults, opts...)
}
