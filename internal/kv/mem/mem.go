// Package mem is an in-memory kv.Store used by tests and as a throwaway
// backend; nothing survives a restart.
package mem

import (
	"context"
	"sync"

	"mandoob/backend/internal/kv"
)

type Store struct {
	mu    sync.RWMutex
	slots map[string]string

	// Writes counts successful Set calls, so tests can assert that a
	// rejected operation never touched storage.
	Writes int
}

func New() *Store {
	return &Store{slots: make(map[string]string)}
}

func (s *Store) Close() error { return nil }

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	val, ok := s.slots[key]
	if !ok {
		return "", kv.ErrNotFound
	}
	return val, nil
}

func (s *Store) Set(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.slots[key] = value
	s.Writes++
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.slots, key)
	return nil
}
