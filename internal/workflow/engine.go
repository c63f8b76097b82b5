package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/skypro1111/media-transcriber/internal/metrics"
	"github.com/skypro1111/media-transcriber/internal/transcription"
)

// ErrEngineStopped is returned by Start after Stop
var ErrEngineStopped = errors.New("workflow engine stopped")

// EngineConfig contains configuration for the saga engine
type EngineConfig struct {
	RetryPolicy   RetryPolicy
	RunRetention  time.Duration // terminal runs older than this are purged; 0 keeps them
	SweepInterval time.Duration
}

// DefaultEngineConfig returns the engine defaults
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		RetryPolicy:   DefaultRetryPolicy(),
		RunRetention:  24 * time.Hour,
		SweepInterval: 10 * time.Minute,
	}
}

// Engine drives runs through the saga, persisting every transition
type Engine struct {
	store      RunStore
	activities Activities
	config     EngineConfig
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// Runs executing in this process
	active map[string]struct{}
	mu     sync.Mutex
	wg     sync.WaitGroup

	ctx      context.Context
	cancel   context.CancelFunc
	sweeper  chan struct{}
	stopOnce sync.Once
}

// NewEngine creates an engine and starts its sweep routine. Call Resume to
// pick up runs left unfinished by a previous process.
func NewEngine(store RunStore, activities Activities, config EngineConfig, logger *slog.Logger, m *metrics.Metrics) (*Engine, error) {
	if err := config.RetryPolicy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		store:      store,
		activities: activities,
		config:     config,
		logger:     logger,
		metrics:    m,
		active:     make(map[string]struct{}),
		ctx:        ctx,
		cancel:     cancel,
		sweeper:    make(chan struct{}),
	}

	go e.startSweepRoutine()

	return e, nil
}

// Start persists a new run keyed by runID, the id of the already stored
// original audio, and executes it in the background.
func (e *Engine) Start(ctx context.Context, runID string, params Params) error {
	if runID == "" {
		return fmt.Errorf("run id cannot be empty")
	}

	if e.ctx.Err() != nil {
		return ErrEngineStopped
	}

	params.Timeouts = params.Timeouts.WithDefaults()

	now := time.Now()
	run := &Run{
		ID:        runID,
		State:     StateSubmitted,
		Params:    params,
		Objects:   []string{runID},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := e.store.Create(ctx, run); err != nil {
		return err
	}

	e.logger.Info("Run submitted",
		slog.String("run_id", runID),
		slog.Duration("split_timeout", params.Timeouts.Split),
		slog.Duration("recognize_timeout", params.Timeouts.Recognize),
		slog.Duration("notify_timeout", params.Timeouts.Notify),
		slog.Duration("cleanup_timeout", params.Timeouts.Cleanup),
	)

	e.launch(runID)
	return nil
}

// Resume executes every non-terminal run found in the store
func (e *Engine) Resume(ctx context.Context) (int, error) {
	runs, err := e.store.List(ctx, func(r *Run) bool { return !r.State.Terminal() })
	if err != nil {
		return 0, fmt.Errorf("failed to list unfinished runs: %w", err)
	}

	for _, run := range runs {
		e.logger.Info("Resuming run",
			slog.String("run_id", run.ID),
			slog.String("state", string(run.State)),
		)
		e.launch(run.ID)
	}

	return len(runs), nil
}

// GetResult returns the captured result of a run. It fails with
// ErrResultPending while the run is still working towards it, and with
// ErrRunFailed if the run failed before capturing it.
func (e *Engine) GetResult(ctx context.Context, runID string) (*RecognitionTaskResult, error) {
	run, err := e.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run.Result != nil {
		return run.Result, nil
	}

	if run.Failed() {
		return nil, run.failure()
	}

	return nil, fmt.Errorf("%w: run %s is %s", ErrResultPending, runID, run.State)
}

// Status returns the monitoring view of a run
func (e *Engine) Status(ctx context.Context, runID string) (RunStatus, error) {
	run, err := e.store.Get(ctx, runID)
	if err != nil {
		return RunStatus{}, err
	}
	return run.Status(), nil
}

// ActiveRuns returns the number of runs executing in this process
func (e *Engine) ActiveRuns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Stop cancels in-flight runs and waits for them to return. Interrupted runs
// stay persisted in their current state and continue on the next Resume.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.logger.Info("Stopping workflow engine...", slog.Int("active_runs", e.ActiveRuns()))

		e.mu.Lock()
		e.cancel()
		e.mu.Unlock()

		e.wg.Wait()
		<-e.sweeper

		e.logger.Info("Workflow engine stopped")
	})
}

func (e *Engine) launch(runID string) {
	e.mu.Lock()
	if e.ctx.Err() != nil {
		e.mu.Unlock()
		return
	}
	if _, running := e.active[runID]; running {
		e.mu.Unlock()
		return
	}
	e.active[runID] = struct{}{}
	e.wg.Add(1)
	e.mu.Unlock()

	e.metrics.RecordRunStarted()

	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.active, runID)
			e.mu.Unlock()
		}()

		e.execute(runID)
	}()
}

// execute advances the run until it is terminal or the engine stops
func (e *Engine) execute(runID string) {
	logger := e.logger.With(slog.String("run_id", runID))

	run, err := e.store.Get(e.ctx, runID)
	if err != nil {
		logger.Error("Failed to load run", slog.String("error", err.Error()))
		e.metrics.RecordRunSuspended()
		return
	}

	for !run.State.Terminal() {
		from := run.State

		next, err := e.advance(run)
		if err != nil {
			if e.ctx.Err() != nil {
				logger.Info("Run suspended", slog.String("state", string(from)))
			} else {
				logger.Error("Failed to advance run",
					slog.String("state", string(from)),
					slog.String("error", err.Error()),
				)
			}
			e.metrics.RecordRunSuspended()
			return
		}

		logger.Debug("Run advanced",
			slog.String("from", string(from)),
			slog.String("to", string(next.State)),
		)
		run = next
	}

	if run.State == StateFailed {
		logger.Warn("Run failed",
			slog.String("failed_step", run.FailedStep),
			slog.String("error", run.Error),
			slog.Bool("result_captured", run.Result != nil),
		)
	} else {
		logger.Info("Run completed",
			slog.Int("segments", len(run.SegmentIDs)),
			slog.Int("objects_deleted", len(run.Deleted)),
			slog.Duration("total_duration", run.UpdatedAt.Sub(run.CreatedAt)),
		)
	}

	e.metrics.RecordRunFinished(run.FailedStep)
}

// advance performs the work of the current state and persists the next one.
// Step failures are recorded on the run; an error means the run could not
// be persisted or the engine is stopping.
func (e *Engine) advance(run *Run) (*Run, error) {
	switch run.State {
	case StateSubmitted:
		return e.transition(run.ID, StateSplitting)
	case StateSplitting:
		return e.split(run)
	case StateRecognizing:
		return e.recognize(run)
	case StateResultCaptured:
		return e.transition(run.ID, StateNotifying)
	case StateNotifying:
		return e.notify(run)
	case StateCleaningUp:
		return e.cleanup(run)
	default:
		return nil, fmt.Errorf("run %s has unknown state %q", run.ID, run.State)
	}
}

func (e *Engine) transition(runID string, state State) (*Run, error) {
	return e.store.Update(e.ctx, runID, func(r *Run) error {
		r.State = state
		return nil
	})
}

// fail records a step failure and moves the run to cleanup
func (e *Engine) fail(runID, step string, cause error) (*Run, error) {
	e.logger.Error("Workflow step failed",
		slog.String("run_id", runID),
		slog.String("step", step),
		slog.String("error", cause.Error()),
	)

	return e.store.Update(e.ctx, runID, func(r *Run) error {
		r.FailedStep = step
		r.Error = cause.Error()
		r.State = StateCleaningUp
		return nil
	})
}

// runStep executes one unit of work under the retry policy
func (e *Engine) runStep(ctx context.Context, runID, step string, timeout time.Duration, fn func(context.Context) error) error {
	startTime := time.Now()

	err := e.config.RetryPolicy.Do(ctx, timeout, fn, func(attempt int, err error) {
		e.metrics.RecordStepRetry(step)
		e.logger.Warn("Retrying workflow step",
			slog.String("run_id", runID),
			slog.String("step", step),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	})

	e.metrics.RecordStep(step, err == nil, time.Since(startTime).Seconds())
	return err
}

func (e *Engine) split(run *Run) (*Run, error) {
	// Segment ids are written ahead into Objects so cleanup finds segments
	// stored by an attempt that later failed
	track := func(ctx context.Context, id string) error {
		_, err := e.store.Update(ctx, run.ID, func(r *Run) error {
			if !slices.Contains(r.Objects, id) {
				r.Objects = append(r.Objects, id)
			}
			return nil
		})
		return err
	}

	var segmentIDs []string
	err := e.runStep(e.ctx, run.ID, StepSplit, run.Params.Timeouts.Split, func(ctx context.Context) error {
		ids, err := e.activities.Split(ctx, run.ID, track)
		if err != nil {
			return err
		}
		segmentIDs = ids
		return nil
	})
	if err != nil {
		if ctxErr := e.ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return e.fail(run.ID, StepSplit, err)
	}

	return e.store.Update(e.ctx, run.ID, func(r *Run) error {
		r.SegmentIDs = segmentIDs
		r.Recognized = make(map[string]transcription.Result, len(segmentIDs))
		r.State = StateRecognizing
		return nil
	})
}

func (e *Engine) recognize(run *Run) (*Run, error) {
	var missing []string
	for _, id := range run.SegmentIDs {
		if _, done := run.Recognized[id]; !done {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		ctx, cancel := context.WithCancel(e.ctx)
		defer cancel()

		var (
			wg       sync.WaitGroup
			failOnce sync.Once
			firstErr error
		)

		for _, id := range missing {
			wg.Add(1)
			go func(segmentID string) {
				defer wg.Done()

				var result transcription.Result
				err := e.runStep(ctx, run.ID, StepRecognize, run.Params.Timeouts.Recognize, func(ctx context.Context) error {
					var err error
					result, err = e.activities.Recognize(ctx, segmentID)
					return err
				})

				// Each result is recorded on its own so a resumed run only
				// repeats the segments that are still missing
				if err == nil {
					_, err = e.store.Update(ctx, run.ID, func(r *Run) error {
						if r.Recognized == nil {
							r.Recognized = make(map[string]transcription.Result)
						}
						r.Recognized[segmentID] = result
						return nil
					})
				}

				if err != nil {
					failOnce.Do(func() {
						firstErr = fmt.Errorf("segment %s: %w", segmentID, err)
						cancel()
					})
				}
			}(id)
		}

		wg.Wait()

		if firstErr != nil {
			if ctxErr := e.ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return e.fail(run.ID, StepRecognize, firstErr)
		}
	}

	// Results follow the split order, not completion order
	return e.store.Update(e.ctx, run.ID, func(r *Run) error {
		results := make([]transcription.Result, 0, len(r.SegmentIDs))
		for _, id := range r.SegmentIDs {
			result, ok := r.Recognized[id]
			if !ok {
				return fmt.Errorf("segment %s has no recognition result", id)
			}
			results = append(results, result)
		}

		r.Result = &RecognitionTaskResult{
			RecognitionResults: results,
			Metadata:           r.Params.Metadata,
		}
		r.State = StateResultCaptured
		return nil
	})
}

func (e *Engine) notify(run *Run) (*Run, error) {
	err := e.runStep(e.ctx, run.ID, StepNotify, run.Params.Timeouts.Notify, func(ctx context.Context) error {
		return e.activities.Notify(ctx, run.ID)
	})
	if err != nil {
		if ctxErr := e.ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// The captured result stays queryable; cleanup still runs
		return e.fail(run.ID, StepNotify, err)
	}

	return e.transition(run.ID, StateCleaningUp)
}

// cleanup deletes every object the run created. It runs after notification
// and after any failure.
func (e *Engine) cleanup(run *Run) (*Run, error) {
	var pending []string
	for _, id := range run.Objects {
		if !slices.Contains(run.Deleted, id) {
			pending = append(pending, id)
		}
	}

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)

	for _, id := range pending {
		wg.Add(1)
		go func(objectID string) {
			defer wg.Done()

			err := e.runStep(e.ctx, run.ID, StepCleanup, run.Params.Timeouts.Cleanup, func(ctx context.Context) error {
				return e.activities.Delete(ctx, objectID)
			})
			if err == nil {
				_, err = e.store.Update(e.ctx, run.ID, func(r *Run) error {
					if !slices.Contains(r.Deleted, objectID) {
						r.Deleted = append(r.Deleted, objectID)
					}
					return nil
				})
			}

			if err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("object %s: %w", objectID, err)
				}
				errMu.Unlock()
			}
		}(id)
	}

	wg.Wait()

	if ctxErr := e.ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	if firstErr != nil {
		e.logger.Error("Workflow cleanup incomplete",
			slog.String("run_id", run.ID),
			slog.String("error", firstErr.Error()),
		)
	}

	return e.store.Update(e.ctx, run.ID, func(r *Run) error {
		if firstErr != nil && r.FailedStep == "" {
			r.FailedStep = StepCleanup
			r.Error = firstErr.Error()
		}

		if r.Failed() {
			r.State = StateFailed
		} else {
			r.State = StateDone
		}
		return nil
	})
}

// startSweepRoutine purges expired terminal runs until the engine stops
func (e *Engine) startSweepRoutine() {
	defer close(e.sweeper)

	if e.config.SweepInterval <= 0 || e.config.RunRetention <= 0 {
		<-e.ctx.Done()
		return
	}

	ticker := time.NewTicker(e.config.SweepInterval)
	defer ticker.Stop()

	e.logger.Info("Run sweep routine started",
		slog.Duration("retention", e.config.RunRetention),
		slog.Duration("check_interval", e.config.SweepInterval),
	)

	for {
		select {
		case <-e.ctx.Done():
			e.logger.Info("Run sweep routine stopping")
			return

		case <-ticker.C:
			if _, err := e.Sweep(e.ctx); err != nil && e.ctx.Err() == nil {
				e.logger.Warn("Run sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep deletes terminal runs that finished more than RunRetention ago
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	if e.config.RunRetention <= 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-e.config.RunRetention)
	expired, err := e.store.List(ctx, func(r *Run) bool {
		return r.State.Terminal() && r.UpdatedAt.Before(cutoff)
	})
	if err != nil {
		return 0, err
	}

	for _, run := range expired {
		if err := e.store.Delete(ctx, run.ID); err != nil {
			return 0, fmt.Errorf("failed to delete run %s: %w", run.ID, err)
		}
	}

	if len(expired) > 0 {
		e.logger.Info("Purged expired runs", slog.Int("count", len(expired)))
	}

	return len(expired), nil
}
