package recognition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/skypro1111/media-transcriber/internal/audio"
	"github.com/skypro1111/media-transcriber/internal/transcription"
	"github.com/skypro1111/media-transcriber/internal/workflow"
)

// pollingClient reports the result as pending for a number of polls
type pollingClient struct {
	submitErr    error
	pendingPolls int
	result       *workflow.RecognitionTaskResult
	resultErr    error

	mu       sync.Mutex
	polls    int
	timeouts workflow.Timeouts
}

func (c *pollingClient) Submit(ctx context.Context, a audio.Audio, metadata string, timeouts workflow.Timeouts) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeouts = timeouts
	if c.submitErr != nil {
		return "", c.submitErr
	}
	return "run-1", nil
}

func (c *pollingClient) GetResult(ctx context.Context, runID string) (*workflow.RecognitionTaskResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.polls++
	if c.polls <= c.pendingPolls {
		return nil, fmt.Errorf("%w: %s", workflow.ErrResultPending, runID)
	}
	if c.resultErr != nil {
		return nil, c.resultErr
	}
	return c.result, nil
}

func TestDurableYieldsCapturedResult(t *testing.T) {
	client := &pollingClient{
		pendingPolls: 3,
		result: &workflow.RecognitionTaskResult{RecognitionResults: []transcription.Result{
			{Text: "a", DurationSeconds: 1},
			{Text: "b", DurationSeconds: 2},
		}},
	}
	timeouts := workflow.Timeouts{Recognize: time.Minute}

	d := NewDurable(client, timeouts, time.Millisecond, testLogger())

	results, err := Collect(d.Recognize(context.Background(), anyClip()))
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}

	if got := texts(results); got != "a,b" {
		t.Errorf("Expected a,b, got %s", got)
	}
	if client.polls != 4 {
		t.Errorf("Expected 4 polls, got %d", client.polls)
	}
	if client.timeouts != timeouts {
		t.Errorf("Expected timeouts to be forwarded, got %+v", client.timeouts)
	}
}

func TestDurableFailedRun(t *testing.T) {
	client := &pollingClient{
		pendingPolls: 1,
		resultErr:    fmt.Errorf("%w: segment 2 failed", workflow.ErrRunFailed),
	}

	d := NewDurable(client, workflow.Timeouts{}, time.Millisecond, testLogger())

	results, err := Collect(d.Recognize(context.Background(), anyClip()))
	if !errors.Is(err, workflow.ErrRunFailed) {
		t.Errorf("Expected ErrRunFailed, got %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected no partial results, got %d", len(results))
	}
}

func TestDurableSubmitError(t *testing.T) {
	client := &pollingClient{submitErr: errors.New("store unavailable")}
	d := NewDurable(client, workflow.Timeouts{}, time.Millisecond, testLogger())

	if _, err := Collect(d.Recognize(context.Background(), anyClip())); err == nil {
		t.Error("Expected submit error")
	}
	if client.polls != 0 {
		t.Errorf("Expected no polling after a failed submit, got %d", client.polls)
	}
}

func TestDurableCancelledWhilePending(t *testing.T) {
	client := &pollingClient{pendingPolls: 1 << 30}
	d := NewDurable(client, workflow.Timeouts{}, 5*time.Millisecond, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if _, err := Collect(d.Recognize(ctx, anyClip())); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got %v", err)
	}
}
