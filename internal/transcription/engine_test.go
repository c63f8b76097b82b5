package transcription

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/media-transcriber/internal/audio"
	"github.com/skypro1111/media-transcriber/internal/metrics"
)

type stubEngine struct {
	result Result
	err    error
}

func (s stubEngine) Transcribe(ctx context.Context, a audio.Audio) (Result, error) {
	return s.result, s.err
}

func TestInstrumentedRecordsMetrics(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	ok := NewInstrumented(stubEngine{result: Result{Text: "hi", DurationSeconds: 1}}, m, logger)
	if _, err := ok.Transcribe(context.Background(), canonicalSegment(1)); err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	silent := NewInstrumented(stubEngine{result: Result{Text: Unrecognized, DurationSeconds: 1}}, m, logger)
	if _, err := silent.Transcribe(context.Background(), canonicalSegment(1)); err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	failing := NewInstrumented(stubEngine{err: ErrTranscription}, m, logger)
	if _, err := failing.Transcribe(context.Background(), canonicalSegment(1)); !errors.Is(err, ErrTranscription) {
		t.Fatalf("Expected ErrTranscription, got %v", err)
	}

	if got := testutil.ToFloat64(m.TranscriptionRequests); got != 3 {
		t.Errorf("Expected 3 requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.TranscriptionSuccesses); got != 2 {
		t.Errorf("Expected 2 successes, got %v", got)
	}
	if got := testutil.ToFloat64(m.TranscriptionUnrecognized); got != 1 {
		t.Errorf("Expected 1 unrecognized, got %v", got)
	}
	if got := testutil.ToFloat64(m.TranscriptionFailures); got != 1 {
		t.Errorf("Expected 1 failure, got %v", got)
	}
}

func TestInstrumentedWithoutMetrics(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	engine := NewInstrumented(stubEngine{result: Result{Text: "hi", DurationSeconds: 1}}, nil, logger)

	result, err := engine.Transcribe(context.Background(), canonicalSegment(1))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if result.Text != "hi" {
		t.Errorf("Expected text 'hi', got %q", result.Text)
	}
}
