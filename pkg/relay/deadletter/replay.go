package deadletter

import (
	"context"
	"sync"
	"time"

	"github.com/relayworks/relay/pkg/relay/event"
)

// PublishFunc re-publishes a dead-lettered event into the pipeline.
type PublishFunc func(ctx context.Context, evt event.DomainEvent) error

// ReplayerConfig configures the replayer.
type ReplayerConfig struct {
	// BatchSize is the number of records processed per poll.
	// Default: 10
	BatchSize int

	// PollInterval is how often the store is checked for pending records.
	// Default: 10 seconds
	PollInterval time.Duration

	// OnReplay is called before a record is re-published.
	OnReplay func(*Record)

	// OnSuccess is called after a record is re-published and marked.
	OnSuccess func(*Record)

	// OnFailure is called when re-publishing fails; the record stays
	// pending for the next poll.
	OnFailure func(*Record, error)
}

// DefaultReplayerConfig provides reasonable defaults.
var DefaultReplayerConfig = ReplayerConfig{
	BatchSize:    10,
	PollInterval: 10 * time.Second,
}

// Replayer periodically re-publishes pending dead letter records through
// the pipeline. It is the automated counterpart of an operator manually
// inspecting and replaying records.
type Replayer struct {
	store   Store
	publish PublishFunc
	cfg     ReplayerConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewReplayer creates a replayer over the given store.
func NewReplayer(store Store, publish PublishFunc, cfg ReplayerConfig) *Replayer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultReplayerConfig.BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultReplayerConfig.PollInterval
	}

	return &Replayer{
		store:   store,
		publish: publish,
		cfg:     cfg,
	}
}

// Start begins polling in a background goroutine. A stopped replayer can
// be started again.
func (r *Replayer) Start(ctx context.Context) {
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

// Stop halts the replayer.
func (r *Replayer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	close(r.stopCh)
	r.running = false
}

func (r *Replayer) run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			r.processBatch(ctx)
		}
	}
}

func (r *Replayer) processBatch(ctx context.Context) {
	records, err := r.store.Pending(ctx, r.cfg.BatchSize)
	if err != nil {
		return
	}

	for _, rec := range records {
		if r.cfg.OnReplay != nil {
			r.cfg.OnReplay(rec)
		}

		if err := r.publish(ctx, rec.Envelope.Event); err != nil {
			if r.cfg.OnFailure != nil {
				r.cfg.OnFailure(rec, err)
			}
			continue
		}

		_ = r.store.MarkReplayed(ctx, rec.EventID(), time.Now())
		if r.cfg.OnSuccess != nil {
			r.cfg.OnSuccess(rec)
		}
	}
}
