package store

import (
	"context"
	"sync"
)

// MemoryStore implements Store with an in-memory map. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	// Return a copy to avoid external mutation.
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	s.data[key] = v
	return nil
}

// Len reports how many keys are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
