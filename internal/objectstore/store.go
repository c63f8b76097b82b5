package objectstore

import (
	"context"
	"errors"
	"time"

	"github.com/skypro1111/media-transcriber/internal/metrics"
)

var (
	// ErrNotFound is returned by Read for an unknown id
	ErrNotFound = errors.New("object not found")

	// ErrAlreadyExists is returned by Create when the id is taken
	ErrAlreadyExists = errors.New("object already exists")

	// ErrTooLarge is returned by Create when the backend cannot hold the data
	ErrTooLarge = errors.New("object too large")
)

// Store is a write-once byte store.
//
// Create fails with ErrAlreadyExists if id was created before, including by a
// concurrent caller. Read fails with ErrNotFound for unknown ids. Delete of an
// unknown id succeeds.
type Store interface {
	Create(ctx context.Context, id string, data []byte) error
	Read(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}

type instrumented struct {
	store   Store
	metrics *metrics.Metrics
}

// WithMetrics records every operation on store
func WithMetrics(store Store, m *metrics.Metrics) Store {
	if m == nil {
		return store
	}
	return &instrumented{store: store, metrics: m}
}

func (s *instrumented) Create(ctx context.Context, id string, data []byte) error {
	err := s.store.Create(ctx, id, data)
	s.metrics.RecordStorageOperation("create", resultLabel(err))
	return err
}

func (s *instrumented) Read(ctx context.Context, id string) ([]byte, error) {
	data, err := s.store.Read(ctx, id)
	s.metrics.RecordStorageOperation("read", resultLabel(err))
	return data, err
}

func (s *instrumented) Delete(ctx context.Context, id string) error {
	err := s.store.Delete(ctx, id)
	s.metrics.RecordStorageOperation("delete", resultLabel(err))
	return err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}

// StoreStats is a snapshot of store usage
type StoreStats struct {
	Objects   int       `json:"objects"`
	Bytes     int64     `json:"bytes"`
	CheckedAt time.Time `json:"checked_at"`
}
