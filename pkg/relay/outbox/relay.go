package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/relayworks/relay/pkg/relay/event"
)

// PublishFunc hands a drained event to the pipeline. It must be
// idempotent at the consumer: a crash between publish and MarkPublished
// re-publishes the same event on the next drain, so the outbox trades the
// dual-write gap for at-least-once publication.
type PublishFunc func(ctx context.Context, evt event.DomainEvent) error

// RelayConfig configures the drain worker.
type RelayConfig struct {
	// BatchSize is the number of entries drained per poll.
	// Default: 10
	BatchSize int

	// PollInterval is how often the outbox is checked for pending rows.
	// Default: 1 second
	PollInterval time.Duration

	// OnPublish is called after an entry is published and marked.
	OnPublish func(*Entry)

	// OnError is called when publishing fails; the entry stays pending
	// for the next poll. Later entries in the batch are still attempted,
	// so cross-aggregate order may shift on partial failure. Per-key
	// order is preserved downstream by the pipeline's partitioning.
	OnError func(*Entry, error)
}

// DefaultRelayConfig provides reasonable defaults.
var DefaultRelayConfig = RelayConfig{
	BatchSize:    10,
	PollInterval: time.Second,
}

// Relay drains committed outbox entries into the pipeline in the
// background.
type Relay struct {
	store   *Store
	publish PublishFunc
	cfg     RelayConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewRelay creates a drain worker over the store.
func NewRelay(store *Store, publish PublishFunc, cfg RelayConfig) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultRelayConfig.BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultRelayConfig.PollInterval
	}

	return &Relay{
		store:   store,
		publish: publish,
		cfg:     cfg,
	}
}

// Start begins draining in a background goroutine. A stopped relay can be
// started again.
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	stop := r.stopCh
	r.mu.Unlock()

	go r.run(ctx, stop)
}

// Stop halts the drain worker.
func (r *Relay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	close(r.stopCh)
	r.running = false
}

func (r *Relay) run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			r.Drain(ctx)
		}
	}
}

// Drain publishes one batch of pending entries immediately. It is called
// by the background loop and exposed for tests and for applications that
// want to drain right after commit instead of waiting for the ticker.
func (r *Relay) Drain(ctx context.Context) {
	entries, err := r.store.Pending(ctx, r.cfg.BatchSize)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if err := r.publish(ctx, entry.Event); err != nil {
			if r.cfg.OnError != nil {
				r.cfg.OnError(entry, err)
			}
			continue
		}

		_ = r.store.MarkPublished(ctx, entry.ID, time.Now())
		if r.cfg.OnPublish != nil {
			r.cfg.OnPublish(entry)
		}
	}
}
