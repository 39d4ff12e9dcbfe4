package gallery

import (
	"context"
	"sync"
)

// InMemoryStore keeps the library for the process lifetime only. Default when
// no DATABASE_URL is configured.
type InMemoryStore struct {
	mu    sync.RWMutex
	snap  Snapshot
	saved bool
}

func NewInMemoryStore() *InMemoryStore { return &InMemoryStore{} }

func (s *InMemoryStore) SaveLibrary(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
	s.saved = true
	return nil
}

func (s *InMemoryStore) LoadLibrary(_ context.Context) (Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap, s.saved, nil
}

func (s *InMemoryStore) Close() error { return nil }
