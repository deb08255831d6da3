package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InMemoryStore is an in-memory implementation of ObjectStore.
// This is intended for testing. Production should use GCSStore.
type InMemoryStore struct {
	mu        sync.RWMutex
	objects   map[string][]byte
	uploadErr error
}

// NewInMemoryStore creates a new in-memory object store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{objects: make(map[string][]byte)}
}

// Upload writes the object under key.
func (s *InMemoryStore) Upload(_ context.Context, key string, _ string, data []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.uploadErr != nil {
		return 0, s.uploadErr
	}
	s.objects[key] = append([]byte(nil), data...)
	return int64(len(data)), nil
}

// FailUploads makes subsequent uploads return err. Pass nil to recover.
func (s *InMemoryStore) FailUploads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.uploadErr = err
}

// SignedURL returns a fake time-bounded URL for the object.
func (s *InMemoryStore) SignedURL(_ context.Context, key string, expiresAt time.Time) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.objects[key]; !ok {
		return "", ErrObjectNotFound
	}
	return fmt.Sprintf("https://storage.local/%s?expires=%d", key, expiresAt.Unix()), nil
}

// Delete removes the object.
func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, key)
	return nil
}

// Get returns the stored object, for test assertions.
func (s *InMemoryStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[key]
	return data, ok
}

// Ensure InMemoryStore implements ObjectStore.
var _ ObjectStore = (*InMemoryStore)(nil)
