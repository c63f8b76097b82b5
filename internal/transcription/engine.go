package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skypro1111/media-transcriber/internal/audio"
	"github.com/skypro1111/media-transcriber/internal/metrics"
)

// Unrecognized is returned as Result.Text when a valid clip contains no recognizable speech
const Unrecognized = "UNRECOGNIZED"

var (
	// ErrTranscription is returned when the engine or its backend fails. It is retryable.
	ErrTranscription = errors.New("transcription failed")

	// ErrNotCanonical is returned when the input is not canonical WAV. The engine never converts.
	ErrNotCanonical = errors.New("audio is not in canonical transcription format")
)

// Result is the transcription of one segment. DurationSeconds is the
// segment's duration, used for elapsed time accounting.
type Result struct {
	Text            string  `json:"text"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// IsUnrecognized reports whether the engine found no speech
func (r Result) IsUnrecognized() bool {
	return r.Text == Unrecognized
}

// Engine transcribes one canonical WAV segment
type Engine interface {
	Transcribe(ctx context.Context, a audio.Audio) (Result, error)
}

// checkCanonical rejects input the engine would otherwise have to convert
func checkCanonical(a audio.Audio, sampleRate int) error {
	if a.Format != audio.CanonicalFormat {
		return fmt.Errorf("%w: format %s", ErrNotCanonical, a.Format)
	}
	if !audio.IsCanonicalWAV(a.Data, sampleRate) {
		return fmt.Errorf("%w: expected mono PCM-16 WAV at %d Hz", ErrNotCanonical, sampleRate)
	}
	return nil
}

// Instrumented records metrics and logs around another Engine
type Instrumented struct {
	engine  Engine
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewInstrumented wraps engine
func NewInstrumented(engine Engine, m *metrics.Metrics, logger *slog.Logger) *Instrumented {
	return &Instrumented{engine: engine, metrics: m, logger: logger}
}

// Transcribe calls the wrapped engine
func (i *Instrumented) Transcribe(ctx context.Context, a audio.Audio) (Result, error) {
	i.metrics.RecordTranscriptionRequest()
	startTime := time.Now()

	result, err := i.engine.Transcribe(ctx, a)
	elapsed := time.Since(startTime)

	if err != nil {
		i.metrics.RecordTranscriptionFailure(elapsed.Seconds())
		i.logger.Warn("Transcription failed",
			slog.Float64("segment_duration", a.DurationSeconds),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		return Result{}, err
	}

	i.metrics.RecordTranscriptionSuccess(elapsed.Seconds(), result.IsUnrecognized())
	i.logger.Debug("Segment transcribed",
		slog.Float64("segment_duration", a.DurationSeconds),
		slog.Duration("elapsed", elapsed),
		slog.Int("text_length", len(result.Text)),
		slog.Bool("unrecognized", result.IsUnrecognized()),
	)

	return result, nil
}
