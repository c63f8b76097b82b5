package workflow

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/skypro1111/media-transcriber/internal/metrics"
	"github.com/skypro1111/media-transcriber/internal/transcription"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func slogTo(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, nil))
}

func testEngineConfig() EngineConfig {
	return EngineConfig{
		RetryPolicy: RetryPolicy{
			MaxAttempts:        3,
			InitialInterval:    time.Millisecond,
			BackoffCoefficient: 2,
			MaxInterval:        5 * time.Millisecond,
		},
	}
}

// fakeActivities records every call and lets tests script recognition
type fakeActivities struct {
	segmentIDs []string
	splitErr   error
	recognize  func(ctx context.Context, id string) (transcription.Result, error)
	notifyErr  error
	deleteErr  error

	mu             sync.Mutex
	splitCalls     int
	recognizeCalls map[string]int
	notified       []string
	deleted        []string
}

func newFakeActivities(segmentIDs ...string) *fakeActivities {
	return &fakeActivities{
		segmentIDs:     segmentIDs,
		recognizeCalls: make(map[string]int),
	}
}

func (f *fakeActivities) Split(ctx context.Context, audioID string, track func(ctx context.Context, id string) error) ([]string, error) {
	f.mu.Lock()
	f.splitCalls++
	f.mu.Unlock()

	for _, id := range f.segmentIDs {
		if err := track(ctx, id); err != nil {
			return nil, err
		}
	}

	if f.splitErr != nil {
		return nil, f.splitErr
	}
	return f.segmentIDs, nil
}

func (f *fakeActivities) Recognize(ctx context.Context, segmentID string) (transcription.Result, error) {
	f.mu.Lock()
	f.recognizeCalls[segmentID]++
	f.mu.Unlock()

	if f.recognize != nil {
		return f.recognize(ctx, segmentID)
	}
	return transcription.Result{Text: "text-" + segmentID, DurationSeconds: 1}, nil
}

func (f *fakeActivities) Notify(ctx context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.notifyErr != nil {
		return f.notifyErr
	}
	f.notified = append(f.notified, runID)
	return nil
}

func (f *fakeActivities) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeActivities) deletedSet() map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	set := make(map[string]bool, len(f.deleted))
	for _, id := range f.deleted {
		set[id] = true
	}
	return set
}

func newTestEngine(t *testing.T, store RunStore, activities Activities, m *metrics.Metrics) *Engine {
	t.Helper()

	engine, err := NewEngine(store, activities, testEngineConfig(), testLogger(), m)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	t.Cleanup(engine.Stop)

	return engine
}

// waitForStatus polls until cond holds for the run
func waitForStatus(t *testing.T, engine *Engine, runID string, cond func(RunStatus) bool) RunStatus {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		status, err := engine.Status(context.Background(), runID)
		if err == nil && cond(status) {
			return status
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for run %s, last status %+v, error %v", runID, status, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitForTerminal(t *testing.T, engine *Engine, runID string) RunStatus {
	t.Helper()
	return waitForStatus(t, engine, runID, func(s RunStatus) bool { return s.State.Terminal() })
}

func expectDeleted(t *testing.T, f *fakeActivities, ids ...string) {
	t.Helper()

	deleted := f.deletedSet()
	for _, id := range ids {
		if !deleted[id] {
			t.Errorf("Expected object %s to be deleted, deleted: %v", id, deleted)
		}
	}
}

// waitForIdle waits until the engine has finished executing every run
func waitForIdle(t *testing.T, engine *Engine) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for engine.ActiveRuns() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %d active runs", engine.ActiveRuns())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
