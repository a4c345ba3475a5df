package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps blobs in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Put stores a copy of data.
func (s *MemoryStore) Put(_ context.Context, data []byte) (string, error) {
	locator := Locator(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[locator]; !ok {
		s.blobs[locator] = append([]byte(nil), data...)
	}
	return locator, nil
}

// Get returns a copy of the blob stored under locator.
func (s *MemoryStore) Get(_ context.Context, locator string) ([]byte, error) {
	digest, err := ParseLocator(locator)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[LocatorScheme+digest]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Has reports whether locator is stored.
func (s *MemoryStore) Has(_ context.Context, locator string) (bool, error) {
	digest, err := ParseLocator(locator)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[LocatorScheme+digest]
	return ok, nil
}

var _ Store = (*MemoryStore)(nil)
