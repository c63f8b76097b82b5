package recognition

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/skypro1111/media-transcriber/internal/audio"
	"github.com/skypro1111/media-transcriber/internal/transcription"
	"github.com/skypro1111/media-transcriber/internal/workflow"
)

// DefaultPollInterval is how often Durable checks for a captured result
const DefaultPollInterval = time.Second

// Durable recognizes a clip through the workflow engine and waits for the
// run to capture its result. Nothing is yielded before the whole run has
// succeeded.
type Durable struct {
	client       workflow.Client
	timeouts     workflow.Timeouts
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewDurable creates a durable recognizer submitting through client
func NewDurable(client workflow.Client, timeouts workflow.Timeouts, pollInterval time.Duration, logger *slog.Logger) *Durable {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	return &Durable{
		client:       client,
		timeouts:     timeouts,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Recognize implements Service
func (d *Durable) Recognize(ctx context.Context, a audio.Audio) iter.Seq2[transcription.Result, error] {
	return func(yield func(transcription.Result, error) bool) {
		runID, err := d.client.Submit(ctx, a, "", d.timeouts)
		if err != nil {
			yield(transcription.Result{}, fmt.Errorf("failed to submit run: %w", err))
			return
		}

		d.logger.Debug("Waiting for run result", slog.String("run_id", runID))

		result, err := d.wait(ctx, runID)
		if err != nil {
			yield(transcription.Result{}, err)
			return
		}

		for _, r := range result.RecognitionResults {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// wait polls GetResult until the result is captured or the run failed
func (d *Durable) wait(ctx context.Context, runID string) (*workflow.RecognitionTaskResult, error) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		result, err := d.client.GetResult(ctx, runID)
		if err == nil {
			return result, nil
		}

		if !errors.Is(err, workflow.ErrResultPending) {
			return nil, err
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
