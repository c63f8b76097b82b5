package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/skypro1111/media-transcriber/internal/audio"
	"github.com/skypro1111/media-transcriber/internal/objectstore"
	"github.com/skypro1111/media-transcriber/internal/transcription"
)

// Activities are the units of work the engine schedules. Each call is one
// attempt; the engine owns retries and timeouts.
type Activities interface {
	// Split reads the original audio, splits it and stores every segment
	// under a fresh id. track is called with each id before the segment is
	// written and must persist it; Split stops if track fails.
	Split(ctx context.Context, audioID string, track func(ctx context.Context, id string) error) ([]string, error)

	// Recognize reads one segment and transcribes it
	Recognize(ctx context.Context, segmentID string) (transcription.Result, error)

	// Notify tells the submitter that the result of runID is available
	Notify(ctx context.Context, runID string) error

	// Delete removes one stored object; deleting a missing object succeeds
	Delete(ctx context.Context, id string) error
}

// LocalActivities runs the units of work in this process
type LocalActivities struct {
	objects   *objectstore.AudioStore
	segmenter audio.Segmenter
	converter audio.Converter
	engine    transcription.Engine
	notifier  Notifier
	logger    *slog.Logger
}

// NewLocalActivities creates activities over the given collaborators
func NewLocalActivities(objects *objectstore.AudioStore, segmenter audio.Segmenter, converter audio.Converter,
	engine transcription.Engine, notifier Notifier, logger *slog.Logger) *LocalActivities {
	return &LocalActivities{
		objects:   objects,
		segmenter: segmenter,
		converter: converter,
		engine:    engine,
		notifier:  notifier,
		logger:    logger,
	}
}

// Split implements Activities
func (a *LocalActivities) Split(ctx context.Context, audioID string, track func(ctx context.Context, id string) error) ([]string, error) {
	original, err := a.objects.Read(ctx, audioID)
	if err != nil {
		return nil, fmt.Errorf("failed to read original audio: %w", err)
	}

	segments, err := a.segmenter.Split(ctx, original)
	if err != nil {
		return nil, fmt.Errorf("failed to split audio: %w", err)
	}

	ids := make([]string, 0, len(segments))
	for _, segment := range segments {
		id := uuid.NewString()
		if err := track(ctx, id); err != nil {
			return nil, fmt.Errorf("failed to record segment id: %w", err)
		}

		if err := a.objects.Create(ctx, id, segment); err != nil {
			return nil, fmt.Errorf("failed to store segment: %w", err)
		}
		ids = append(ids, id)
	}

	a.logger.Debug("Audio split into stored segments",
		slog.String("audio_id", audioID),
		slog.Int("segments", len(ids)),
		slog.Float64("duration", original.DurationSeconds),
	)

	return ids, nil
}

// Recognize implements Activities
func (a *LocalActivities) Recognize(ctx context.Context, segmentID string) (transcription.Result, error) {
	segment, err := a.objects.Read(ctx, segmentID)
	if err != nil {
		return transcription.Result{}, fmt.Errorf("failed to read segment: %w", err)
	}

	canonical, err := a.converter.Convert(ctx, segment, audio.CanonicalFormat)
	if err != nil {
		return transcription.Result{}, fmt.Errorf("failed to normalize segment: %w", err)
	}

	return a.engine.Transcribe(ctx, canonical)
}

// Notify implements Activities
func (a *LocalActivities) Notify(ctx context.Context, runID string) error {
	return a.notifier.Notify(ctx, runID)
}

// Delete implements Activities
func (a *LocalActivities) Delete(ctx context.Context, id string) error {
	return a.objects.Delete(ctx, id)
}
