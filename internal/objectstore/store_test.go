package objectstore

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/media-transcriber/internal/audio"
	"github.com/skypro1111/media-transcriber/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()

	db, err := OpenBadger(BadgerConfig{InMemory: true}, testLogger())
	if err != nil {
		t.Fatalf("OpenBadger failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func newHTTPTestStore(t *testing.T, backend Store) *HTTPStore {
	t.Helper()

	router := mux.NewRouter()
	NewHandler(backend, 0, testLogger()).Register(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	store, err := NewHTTPStore(server.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("NewHTTPStore failed: %v", err)
	}
	return store
}

// stores returns every Store implementation under test
func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"badger": NewBadgerStore(openTestDB(t), 0),
		"http":   newHTTPTestStore(t, NewMemoryStore()),
	}
}

func TestStoreContract(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := store.Create(ctx, "a", []byte("x")); err != nil {
				t.Fatalf("Create failed: %v", err)
			}

			err := store.Create(ctx, "a", []byte("y"))
			if !errors.Is(err, ErrAlreadyExists) {
				t.Errorf("Expected ErrAlreadyExists, got %v", err)
			}

			data, err := store.Read(ctx, "a")
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			if !bytes.Equal(data, []byte("x")) {
				t.Errorf("Expected first write to win, got %q", data)
			}

			if _, err := store.Read(ctx, "unknown"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound, got %v", err)
			}

			if err := store.Delete(ctx, "unknown"); err != nil {
				t.Errorf("Delete of unknown id should succeed, got %v", err)
			}

			if err := store.Delete(ctx, "a"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if err := store.Delete(ctx, "a"); err != nil {
				t.Errorf("Second delete should succeed, got %v", err)
			}

			if _, err := store.Read(ctx, "a"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}

func TestStoreEmptyObject(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := store.Create(ctx, "empty", nil); err != nil {
				t.Fatalf("Create failed: %v", err)
			}

			data, err := store.Read(ctx, "empty")
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			if len(data) != 0 {
				t.Errorf("Expected empty object, got %d bytes", len(data))
			}
		})
	}
}

func TestStoreConcurrentCreate(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			const writers = 8

			var wg sync.WaitGroup
			errs := make([]error, writers)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs[i] = store.Create(context.Background(), "contended", []byte{byte(i)})
				}(i)
			}
			wg.Wait()

			succeeded := 0
			for _, err := range errs {
				switch {
				case err == nil:
					succeeded++
				case !errors.Is(err, ErrAlreadyExists):
					t.Errorf("Unexpected error: %v", err)
				}
			}

			if succeeded != 1 {
				t.Errorf("Expected exactly one successful create, got %d", succeeded)
			}
		})
	}
}

func TestStoreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Create(ctx, "a", []byte("x")); !errors.Is(err, context.Canceled) {
				t.Errorf("Expected context.Canceled, got %v", err)
			}
		})
	}
}

func TestBadgerStoreTTL(t *testing.T) {
	store := NewBadgerStore(openTestDB(t), time.Second)
	ctx := context.Background()

	if err := store.Create(ctx, "short-lived", []byte("x")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := store.Read(ctx, "short-lived"); err != nil {
		t.Fatalf("Read before expiry failed: %v", err)
	}

	time.Sleep(2100 * time.Millisecond)

	if _, err := store.Read(ctx, "short-lived"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after TTL, got %v", err)
	}

	// An expired id can be created again
	if err := store.Create(ctx, "short-lived", []byte("y")); err != nil {
		t.Errorf("Create after expiry failed: %v", err)
	}
}

func TestBadgerStoreLargeValues(t *testing.T) {
	diskDB, err := OpenBadger(BadgerConfig{Path: t.TempDir()}, testLogger())
	if err != nil {
		t.Fatalf("OpenBadger failed: %v", err)
	}
	t.Cleanup(func() { diskDB.Close() })

	memoryDB := openTestDB(t)
	large := bytes.Repeat([]byte{0xab}, 2<<20)

	tests := []struct {
		name    string
		store   Store
		wantErr error
	}{
		{name: "on disk", store: NewBadgerStore(diskDB, 0)},
		{name: "in memory", store: NewBadgerStore(memoryDB, 0), wantErr: ErrTooLarge},
		{name: "over http", store: newHTTPTestStore(t, NewBadgerStore(memoryDB, 0)), wantErr: ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			err := tt.store.Create(ctx, "large", large)

			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Create failed: %v", err)
				}
				got, err := tt.store.Read(ctx, "large")
				if err != nil {
					t.Fatalf("Read failed: %v", err)
				}
				if !bytes.Equal(got, large) {
					t.Errorf("Read returned %d bytes, want %d", len(got), len(large))
				}
				return
			}

			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got %v", tt.wantErr, err)
			}
			if msg := err.Error(); len(msg) > 256 || strings.Contains(msg, "ab ab") {
				t.Errorf("Error carries the value: %.300s", msg)
			}
		})
	}

	if limit := MaxValueSize(memoryDB); limit >= int64(len(large)) {
		t.Errorf("Expected the in-memory limit below %d, got %d", len(large), limit)
	}
}

func TestBadgerStoreStats(t *testing.T) {
	db := openTestDB(t)
	store := NewBadgerStore(db, 0)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.Create(ctx, id, []byte("12345")); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	if err := store.Delete(ctx, "b"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	// Keys outside the object namespace are not counted
	if err := db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("run/x"), []byte("{}"))
	}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}

	if stats.Objects != 2 {
		t.Errorf("Expected 2 objects, got %d", stats.Objects)
	}
	if stats.Bytes != 10 {
		t.Errorf("Expected 10 bytes, got %d", stats.Bytes)
	}
}

func TestWithMetrics(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	store := WithMetrics(NewMemoryStore(), m)
	ctx := context.Background()

	_ = store.Create(ctx, "a", []byte("x"))
	_ = store.Create(ctx, "a", []byte("x"))
	_, _ = store.Read(ctx, "a")
	_, _ = store.Read(ctx, "b")
	_ = store.Delete(ctx, "a")

	tests := []struct {
		operation string
		result    string
		want      float64
	}{
		{"create", "ok", 1},
		{"create", "already_exists", 1},
		{"read", "ok", 1},
		{"read", "not_found", 1},
		{"delete", "ok", 1},
	}

	for _, tt := range tests {
		got := testutil.ToFloat64(m.StorageOperations.WithLabelValues(tt.operation, tt.result))
		if got != tt.want {
			t.Errorf("%s/%s: expected %v, got %v", tt.operation, tt.result, tt.want, got)
		}
	}

	if WithMetrics(NewMemoryStore(), nil) == nil {
		t.Error("Expected store without metrics")
	}
}

func TestAudioStore(t *testing.T) {
	store := NewAudioStore(NewMemoryStore())
	ctx := context.Background()

	original := audio.Audio{Data: []byte{0, 1, 2, 255}, DurationSeconds: 12.5, Format: audio.FormatOGG}
	if err := store.Create(ctx, "clip", original); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	loaded, err := store.Read(ctx, "clip")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if !bytes.Equal(loaded.Data, original.Data) || loaded.DurationSeconds != 12.5 || loaded.Format != audio.FormatOGG {
		t.Errorf("Loaded audio differs: %+v", loaded)
	}

	if err := store.Create(ctx, "clip", original); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}

	if err := store.Delete(ctx, "clip"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Read(ctx, "clip"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestAudioStoreRejectsCorruptObjects(t *testing.T) {
	backend := NewMemoryStore()
	store := NewAudioStore(backend)
	ctx := context.Background()

	_ = backend.Create(ctx, "garbage", []byte("not json"))
	if _, err := store.Read(ctx, "garbage"); err == nil {
		t.Error("Expected decode error")
	}

	_ = backend.Create(ctx, "flac", []byte(`{"data":"","duration_seconds":1,"format":"flac"}`))
	if _, err := store.Read(ctx, "flac"); !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}
}
