package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v3"
)

// objectPrefix namespaces objects inside a database shared with other stores
const objectPrefix = "obj/"

// BadgerConfig configures the embedded database
type BadgerConfig struct {
	Path     string
	InMemory bool
}

// OpenBadger opens the database shared by the object store and the run store
func OpenBadger(config BadgerConfig, logger *slog.Logger) (*badger.DB, error) {
	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(config.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
		opts = badger.DefaultOptions(filepath.Join(config.Path, "badger"))
	}
	opts.Logger = &badgerLogger{logger: logger.With(slog.String("component", "badger"))}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return db, nil
}

// RunValueLogGC periodically reclaims value log space until ctx is done
func RunValueLogGC(ctx context.Context, db *badger.DB, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				err := db.RunValueLogGC(0.5)
				if err == nil {
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
					logger.Warn("Value log GC failed", slog.String("error", err.Error()))
				}
				break
			}
		}
	}
}

// MaxValueSize is the largest value db accepts in one entry. In-memory
// databases cannot spill values to a value log and cap them at the value
// threshold.
func MaxValueSize(db *badger.DB) int64 {
	opts := db.Opts()
	limit := opts.ValueLogFileSize
	if opts.InMemory && opts.ValueThreshold < limit {
		limit = opts.ValueThreshold
	}
	return limit
}

// BadgerStore keeps objects in a badger database. A positive TTL makes badger
// expire objects that cleanup never reached.
type BadgerStore struct {
	db       *badger.DB
	ttl      time.Duration
	maxValue int64
}

// NewBadgerStore creates a store over db
func NewBadgerStore(db *badger.DB, ttl time.Duration) *BadgerStore {
	return &BadgerStore{db: db, ttl: ttl, maxValue: MaxValueSize(db)}
}

func objectKey(id string) []byte {
	return []byte(objectPrefix + id)
}

// Create stores data under id
func (s *BadgerStore) Create(ctx context.Context, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// badger reports oversized values with a dump of the value
	if size := int64(len(data)); size > s.maxValue {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, id, size, s.maxValue)
	}

	key := objectKey(id)
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		entry := badger.NewEntry(key, data)
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		return txn.SetEntry(entry)
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, badger.ErrConflict):
		// A conflicting commit means a concurrent writer created the same id
		return fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	default:
		return fmt.Errorf("failed to create object %s: %w", id, err)
	}
}

// Read returns the data stored under id
func (s *BadgerStore) Read(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(objectKey(id))
		if err != nil {
			return err
		}

		data, err = item.ValueCopy(nil)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", id, err)
	}

	return data, nil
}

// Delete removes id; deleting a missing id succeeds
func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(objectKey(id))
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", id, err)
	}

	return nil
}

// Stats counts live objects
func (s *BadgerStore) Stats(ctx context.Context) (StoreStats, error) {
	stats := StoreStats{CheckedAt: time.Now()}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(objectPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			stats.Objects++
			stats.Bytes += it.Item().ValueSize()
		}
		return nil
	})
	if err != nil {
		return StoreStats{}, fmt.Errorf("failed to collect object stats: %w", err)
	}

	return stats, nil
}

// badgerLogger routes badger's internal logging to slog
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
