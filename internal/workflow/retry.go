package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/skypro1111/media-transcriber/internal/audio"
	"github.com/skypro1111/media-transcriber/internal/objectstore"
	"github.com/skypro1111/media-transcriber/internal/transcription"
)

// RetryPolicy controls how often a failing unit of work is attempted
type RetryPolicy struct {
	MaxAttempts        int
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaxInterval        time.Duration
}

// DefaultRetryPolicy returns the policy applied to every unit of work
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:        5,
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaxInterval:        30 * time.Second,
	}
}

// Validate checks the policy parameters
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}

	if p.InitialInterval < 0 {
		return fmt.Errorf("initial interval cannot be negative, got %v", p.InitialInterval)
	}

	if p.BackoffCoefficient < 1 {
		return fmt.Errorf("backoff coefficient must be at least 1, got %f", p.BackoffCoefficient)
	}

	if p.MaxInterval < p.InitialInterval {
		return fmt.Errorf("max interval %v is below initial interval %v", p.MaxInterval, p.InitialInterval)
	}

	return nil
}

// nonRetryable lists caller and contract errors that repeating cannot fix
var nonRetryable = []error{
	audio.ErrConversion,
	audio.ErrEmptyAudio,
	audio.ErrUnsupportedFormat,
	transcription.ErrNotCanonical,
	objectstore.ErrNotFound,
	objectstore.ErrAlreadyExists,
	objectstore.ErrTooLarge,
	ErrActivityRejected,
}

// Retryable reports whether a failed unit of work may be attempted again
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range nonRetryable {
		if errors.Is(err, target) {
			return false
		}
	}
	return true
}

// attempt runs fn once under timeout. An attempt that runs out of time while
// ctx is still live fails with ErrStepTimeout.
func attempt(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %v: %w", ErrStepTimeout, timeout, err)
	}
	return err
}

// Do runs fn until it succeeds, fails with a non-retryable error, runs out of
// attempts, or ctx is done. onRetry is called before every repeated attempt.
func (p RetryPolicy) Do(ctx context.Context, timeout time.Duration, fn func(context.Context) error, onRetry func(attempt int, err error)) error {
	interval := p.InitialInterval

	for n := 1; ; n++ {
		err := attempt(ctx, timeout, fn)
		if err == nil {
			return nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if !Retryable(err) {
			return err
		}

		if n >= p.MaxAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", n, err)
		}

		if onRetry != nil {
			onRetry(n, err)
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}

		interval = time.Duration(float64(interval) * p.BackoffCoefficient)
		if interval > p.MaxInterval {
			interval = p.MaxInterval
		}
	}
}
