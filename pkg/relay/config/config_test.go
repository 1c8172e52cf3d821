package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayworks/relay/pkg/relay/breaker"
	"github.com/relayworks/relay/pkg/relay/config"
	"github.com/relayworks/relay/pkg/relay/retry"
)

const yamlSettings = `
retry:
  max_attempts: 5
  backoff: fixed
  delay: 250ms
  jitter: 0.2
consumer:
  partitions: 8
  poll_interval: 100ms
breakers:
  default:
    window_size: 20
    minimum_calls: 10
    failure_rate_threshold: 0.6
    wait_duration: 15s
  notifications:
    window_size: 4
    minimum_calls: 4
    failure_rate_threshold: 0.5
    slow_call_threshold: 2s
    wait_duration: 5s
    half_open_probes: 2
`

func TestFromYAML(t *testing.T) {
	s, err := config.FromYAML([]byte(yamlSettings))
	require.NoError(t, err)

	assert.Equal(t, 5, s.Retry.MaxAttempts)
	assert.Equal(t, "fixed", s.Retry.Backoff)
	assert.Equal(t, 250*time.Millisecond, s.Retry.Delay.Std())
	assert.Equal(t, 8, s.Consumer.Partitions)
	assert.Equal(t, 100*time.Millisecond, s.Consumer.PollInterval.Std())

	require.Contains(t, s.Breakers, "notifications")
	assert.Equal(t, 2*time.Second, s.Breakers["notifications"].SlowCallThreshold.Std())
}

func TestFromJSON(t *testing.T) {
	data := []byte(`{
		"retry": {"max_attempts": 2, "backoff": "exponential", "delay": "1s", "max_delay": "10s", "factor": 3.0},
		"consumer": {"partitions": 2, "poll_interval": "50ms"}
	}`)

	s, err := config.FromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, 2, s.Retry.MaxAttempts)
	assert.Equal(t, time.Second, s.Retry.Delay.Std())
	assert.Equal(t, 10*time.Second, s.Retry.MaxDelay.Std())
	assert.Equal(t, 3.0, s.Retry.Factor)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlSettings), 0o644))

	s, err := config.FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 5, s.Retry.MaxAttempts)
}

func TestFromFileUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.toml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	_, err := config.FromFile(path)
	assert.Error(t, err)
}

func TestRetryPolicy(t *testing.T) {
	s, err := config.FromYAML([]byte(yamlSettings))
	require.NoError(t, err)

	p, err := s.Retry.Policy()
	require.NoError(t, err)

	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, retry.BackoffFixed, p.Backoff)
	assert.Equal(t, 250*time.Millisecond, p.Delay)
	assert.Equal(t, 0.2, p.Jitter)
}

func TestRetryPolicyDefaults(t *testing.T) {
	// An empty section falls back to the standard policy.
	p, err := config.RetrySettings{}.Policy()
	require.NoError(t, err)
	assert.Equal(t, retry.DefaultPolicy, p)
}

func TestRetryPolicyBadBackoff(t *testing.T) {
	_, err := config.RetrySettings{Backoff: "cubic"}.Policy()
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	s, err := config.FromYAML([]byte(yamlSettings))
	require.NoError(t, err)

	r := s.Registry()

	// The notifications breaker uses its own settings: four failures
	// open it.
	b := r.Get("notifications")
	for i := 0; i < 4; i++ {
		breaker.Do(context.Background(), b, func(ctx context.Context) error { return assert.AnError }, nil)
	}
	assert.Equal(t, breaker.Open, b.State())

	// Unnamed breakers get the "default" entry: four failures are below
	// its ten-call minimum.
	d := r.Get("anything-else")
	for i := 0; i < 4; i++ {
		breaker.Do(context.Background(), d, func(ctx context.Context) error { return assert.AnError }, nil)
	}
	assert.Equal(t, breaker.Closed, d.State())
}
