package deadletter

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store, suitable for tests and
// single-instance deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string // event IDs in append order
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := rec.EventID()
	if _, exists := s.records[id]; !exists {
		s.order = append(s.order, id)
	}
	cp := *rec
	s.records[id] = &cp
	return nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(limit, func(*Record) bool { return true }), nil
}

// Pending implements Store.
func (s *MemoryStore) Pending(ctx context.Context, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(limit, func(r *Record) bool { return r.ReplayedAt == nil }), nil
}

func (s *MemoryStore) collect(limit int, keep func(*Record) bool) []*Record {
	if limit <= 0 {
		limit = len(s.order)
	}
	out := make([]*Record, 0, limit)
	for _, id := range s.order {
		if len(out) >= limit {
			break
		}
		rec, ok := s.records[id]
		if !ok || !keep(rec) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, eventID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// MarkReplayed implements Store.
func (s *MemoryStore) MarkReplayed(ctx context.Context, eventID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[eventID]
	if !ok {
		return ErrNotFound
	}
	rec.ReplayedAt = &at
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[eventID]; !ok {
		return ErrNotFound
	}
	delete(s.records, eventID)
	for i, id := range s.order {
		if id == eventID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Count implements Store.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}
