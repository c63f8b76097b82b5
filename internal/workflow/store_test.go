package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/skypro1111/media-transcriber/internal/objectstore"
	"github.com/skypro1111/media-transcriber/internal/transcription"
)

func newBadgerRunStore(t *testing.T, retention time.Duration) *BadgerRunStore {
	t.Helper()

	db, err := objectstore.OpenBadger(objectstore.BadgerConfig{InMemory: true}, testLogger())
	if err != nil {
		t.Fatalf("OpenBadger failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return NewBadgerRunStore(db, retention)
}

func runStores(t *testing.T) map[string]RunStore {
	return map[string]RunStore{
		"memory": NewMemoryRunStore(),
		"badger": newBadgerRunStore(t, time.Hour),
	}
}

func TestRunStoreContract(t *testing.T) {
	for name, store := range runStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			run := &Run{ID: "run-1", State: StateSubmitted, Objects: []string{"run-1"}, CreatedAt: time.Now()}

			if err := store.Create(ctx, run); err != nil {
				t.Fatalf("Create failed: %v", err)
			}

			if err := store.Create(ctx, run); !errors.Is(err, ErrRunExists) {
				t.Errorf("Expected ErrRunExists, got %v", err)
			}

			updated, err := store.Update(ctx, "run-1", func(r *Run) error {
				r.State = StateRecognizing
				r.SegmentIDs = []string{"a", "b"}
				return nil
			})
			if err != nil {
				t.Fatalf("Update failed: %v", err)
			}
			if updated.State != StateRecognizing || updated.UpdatedAt.IsZero() {
				t.Errorf("Unexpected updated run: %+v", updated)
			}

			got, err := store.Get(ctx, "run-1")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got.State != StateRecognizing || len(got.SegmentIDs) != 2 {
				t.Errorf("Expected persisted update, got %+v", got)
			}

			// A failing update leaves the run untouched
			_, err = store.Update(ctx, "run-1", func(r *Run) error {
				r.State = StateDone
				return errors.New("rejected")
			})
			if err == nil {
				t.Error("Expected update error")
			}
			if got, _ := store.Get(ctx, "run-1"); got.State != StateRecognizing {
				t.Errorf("Expected state recognizing after rejected update, got %s", got.State)
			}

			if _, err := store.Update(ctx, "missing", func(r *Run) error { return nil }); !errors.Is(err, ErrRunNotFound) {
				t.Errorf("Expected ErrRunNotFound on update, got %v", err)
			}

			if err := store.Create(ctx, &Run{ID: "run-2", State: StateDone}); err != nil {
				t.Fatalf("Create failed: %v", err)
			}

			unfinished, err := store.List(ctx, func(r *Run) bool { return !r.State.Terminal() })
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(unfinished) != 1 || unfinished[0].ID != "run-1" {
				t.Errorf("Expected only run-1 to be unfinished, got %v", unfinished)
			}

			all, err := store.List(ctx, nil)
			if err != nil || len(all) != 2 {
				t.Errorf("Expected 2 runs, got %d (%v)", len(all), err)
			}

			if err := store.Delete(ctx, "run-1"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if _, err := store.Get(ctx, "run-1"); !errors.Is(err, ErrRunNotFound) {
				t.Errorf("Expected ErrRunNotFound after delete, got %v", err)
			}
		})
	}
}

func TestRunStoreConcurrentUpdates(t *testing.T) {
	for name, store := range runStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Create(ctx, &Run{ID: "run-1", State: StateRecognizing}); err != nil {
				t.Fatalf("Create failed: %v", err)
			}

			const segments = 20
			var wg sync.WaitGroup
			for i := 0; i < segments; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					id := fmt.Sprintf("seg-%d", i)
					_, err := store.Update(ctx, "run-1", func(r *Run) error {
						if r.Recognized == nil {
							r.Recognized = make(map[string]transcription.Result)
						}
						r.Recognized[id] = transcription.Result{Text: id}
						return nil
					})
					if err != nil {
						t.Errorf("Update %s failed: %v", id, err)
					}
				}(i)
			}
			wg.Wait()

			run, err := store.Get(ctx, "run-1")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if len(run.Recognized) != segments {
				t.Errorf("Expected %d recorded results, got %d", segments, len(run.Recognized))
			}
		})
	}
}

func TestBadgerRunStoreExpiresTerminalRuns(t *testing.T) {
	store := newBadgerRunStore(t, time.Second)
	ctx := context.Background()

	if err := store.Create(ctx, &Run{ID: "active", State: StateRecognizing}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Create(ctx, &Run{ID: "finished", State: StateRecognizing}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.Update(ctx, "finished", func(r *Run) error {
		r.State = StateDone
		return nil
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	time.Sleep(2100 * time.Millisecond)

	if _, err := store.Get(ctx, "finished"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected terminal run to expire, got %v", err)
	}
	if _, err := store.Get(ctx, "active"); err != nil {
		t.Errorf("Expected active run to be kept, got %v", err)
	}
}

func TestEngineWithBadgerRunStore(t *testing.T) {
	activities := newFakeActivities("seg-1", "seg-2", "seg-3")
	engine := newTestEngine(t, newBadgerRunStore(t, time.Hour), activities, nil)

	if err := engine.Start(context.Background(), "run-1", Params{Metadata: "m"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := waitForTerminal(t, engine, "run-1")
	if status.State != StateDone {
		t.Fatalf("Expected done, got %s (%s)", status.State, status.Error)
	}
	if status.Deleted != 4 {
		t.Errorf("Expected 4 deleted objects, got %d", status.Deleted)
	}

	result, err := engine.GetResult(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if len(result.RecognitionResults) != 3 || result.RecognitionResults[2].Text != "text-seg-3" {
		t.Errorf("Unexpected result: %+v", result.RecognitionResults)
	}
}
