package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/skypro1111/media-transcriber/internal/objectstore"
)

// RunStore persists run records. Update applies fn atomically to the stored
// record and returns the result.
type RunStore interface {
	Create(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	Update(ctx context.Context, id string, fn func(*Run) error) (*Run, error)
	List(ctx context.Context, match func(*Run) bool) ([]*Run, error)
	Delete(ctx context.Context, id string) error
}

// MemoryRunStore keeps runs in process memory
type MemoryRunStore struct {
	runs map[string][]byte
	mu   sync.Mutex
}

// NewMemoryRunStore creates an empty store
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string][]byte)}
}

// Create stores a new run
func (s *MemoryRunStore) Create(ctx context.Context, run *Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("%w: %s", ErrRunExists, run.ID)
	}
	s.runs[run.ID] = data
	return nil
}

// Get returns a copy of the run
func (s *MemoryRunStore) Get(ctx context.Context, id string) (*Run, error) {
	s.mu.Lock()
	data, exists := s.runs[id]
	s.mu.Unlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return decodeRun(data)
}

// Update applies fn to the run under the store lock
func (s *MemoryRunStore) Update(ctx context.Context, id string, fn func(*Run) error) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, exists := s.runs[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	run, err := decodeRun(data)
	if err != nil {
		return nil, err
	}
	if err := fn(run); err != nil {
		return nil, err
	}
	run.UpdatedAt = time.Now()

	data, err = json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run: %w", err)
	}
	s.runs[id] = data

	return run, nil
}

// List returns the runs accepted by match
func (s *MemoryRunStore) List(ctx context.Context, match func(*Run) bool) ([]*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var runs []*Run
	for _, data := range s.runs {
		run, err := decodeRun(data)
		if err != nil {
			return nil, err
		}
		if match == nil || match(run) {
			runs = append(runs, run)
		}
	}
	return runs, nil
}

// Delete removes the run
func (s *MemoryRunStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, id)
	return nil
}

func decodeRun(data []byte) (*Run, error) {
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to decode run: %w", err)
	}
	return &run, nil
}

// runPrefix namespaces run records in the shared badger database
const runPrefix = "run/"

// maxConflictRetries bounds optimistic transaction retries in Update
const maxConflictRetries = 50

// BadgerRunStore keeps runs in badger as JSON. Terminal runs are written with
// the retention TTL so badger expires them even if the sweeper never runs.
type BadgerRunStore struct {
	db        *badger.DB
	retention time.Duration
	maxValue  int64
}

// NewBadgerRunStore creates a store over db
func NewBadgerRunStore(db *badger.DB, retention time.Duration) *BadgerRunStore {
	return &BadgerRunStore{db: db, retention: retention, maxValue: objectstore.MaxValueSize(db)}
}

func runKey(id string) []byte {
	return []byte(runPrefix + id)
}

func (s *BadgerRunStore) entry(run *Run) (*badger.Entry, error) {
	data, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run: %w", err)
	}
	if size := int64(len(data)); size > s.maxValue {
		return nil, fmt.Errorf("%w: run %s is %d bytes, limit %d", objectstore.ErrTooLarge, run.ID, size, s.maxValue)
	}

	e := badger.NewEntry(runKey(run.ID), data)
	if run.State.Terminal() && s.retention > 0 {
		e = e.WithTTL(s.retention)
	}
	return e, nil
}

// Create stores a new run
func (s *BadgerRunStore) Create(ctx context.Context, run *Run) error {
	e, err := s.entry(run)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(e.Key)
		if err == nil {
			return ErrRunExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.SetEntry(e)
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRunExists), errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%w: %s", ErrRunExists, run.ID)
	default:
		return fmt.Errorf("failed to create run %s: %w", run.ID, err)
	}
}

func getRun(txn *badger.Txn, id string) (*Run, error) {
	item, err := txn.Get(runKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var run *Run
	err = item.Value(func(val []byte) error {
		var decodeErr error
		run, decodeErr = decodeRun(val)
		return decodeErr
	})
	return run, err
}

// Get loads the run
func (s *BadgerRunStore) Get(ctx context.Context, id string) (*Run, error) {
	var run *Run
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		run, err = getRun(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Update applies fn in a transaction, retrying when a concurrent update conflicts
func (s *BadgerRunStore) Update(ctx context.Context, id string, fn func(*Run) error) (*Run, error) {
	for i := 0; ; i++ {
		var updated *Run
		err := s.db.Update(func(txn *badger.Txn) error {
			run, err := getRun(txn, id)
			if err != nil {
				return err
			}
			if err := fn(run); err != nil {
				return err
			}
			run.UpdatedAt = time.Now()

			e, err := s.entry(run)
			if err != nil {
				return err
			}
			updated = run
			return txn.SetEntry(e)
		})

		if errors.Is(err, badger.ErrConflict) && i < maxConflictRetries {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
}

// List returns the runs accepted by match
func (s *BadgerRunStore) List(ctx context.Context, match func(*Run) bool) ([]*Run, error) {
	var runs []*Run

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(runPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var run *Run
			err := it.Item().Value(func(val []byte) error {
				var decodeErr error
				run, decodeErr = decodeRun(val)
				return decodeErr
			})
			if err != nil {
				return err
			}

			if match == nil || match(run) {
				runs = append(runs, run)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, nil
}

// Delete removes the run
func (s *BadgerRunStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(runKey(id))
	})
}
