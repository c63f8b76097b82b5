package objectstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps objects in process memory. It is only reachable from the
// process that owns it.
type MemoryStore struct {
	objects map[string][]byte
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
	}
}

// Create stores a copy of data under id
func (s *MemoryStore) Create(ctx context.Context, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.objects[id]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}

	s.objects[id] = append([]byte(nil), data...)
	return nil
}

// Read returns a copy of the data stored under id
func (s *MemoryStore) Read(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, exists := s.objects[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return append([]byte(nil), data...), nil
}

// Delete removes id
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, id)
	return nil
}

// Len returns the number of stored objects
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Stats counts stored objects
func (s *MemoryStore) Stats(ctx context.Context) (StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := StoreStats{Objects: len(s.objects), CheckedAt: time.Now()}
	for _, data := range s.objects {
		stats.Bytes += int64(len(data))
	}
	return stats, nil
}
