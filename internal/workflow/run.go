package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/skypro1111/media-transcriber/internal/transcription"
)

// State is the lifecycle state of a run
type State string

const (
	StateSubmitted      State = "submitted"
	StateSplitting      State = "splitting"
	StateRecognizing    State = "recognizing"
	StateResultCaptured State = "result_captured"
	StateNotifying      State = "notifying"
	StateCleaningUp     State = "cleaning_up"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Step names used in errors, logs and metrics
const (
	StepSplit     = "split"
	StepRecognize = "recognize"
	StepNotify    = "notify"
	StepCleanup   = "cleanup"
)

var (
	// ErrStepTimeout is returned when one attempt of a unit of work exceeds its timeout
	ErrStepTimeout = errors.New("workflow step timed out")

	// ErrRunFailed is returned by GetResult for a run that failed before its result was captured
	ErrRunFailed = errors.New("workflow run failed")

	// ErrResultPending is returned by GetResult while the result is not yet captured
	ErrResultPending = errors.New("workflow result not yet available")

	// ErrRunNotFound is returned for unknown run ids
	ErrRunNotFound = errors.New("workflow run not found")

	// ErrRunExists is returned when starting a run with an id already in use
	ErrRunExists = errors.New("workflow run already exists")
)

// Timeouts bound each unit of work. They are encoded in JSON as seconds.
type Timeouts struct {
	Split     time.Duration
	Recognize time.Duration
	Notify    time.Duration
	Cleanup   time.Duration
}

// DefaultTimeouts returns the timeouts used when a caller supplies none
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Split:     600 * time.Second,
		Recognize: 600 * time.Second,
		Notify:    10 * time.Second,
		Cleanup:   60 * time.Second,
	}
}

// WithDefaults replaces unset timeouts with the defaults
func (t Timeouts) WithDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Split <= 0 {
		t.Split = d.Split
	}
	if t.Recognize <= 0 {
		t.Recognize = d.Recognize
	}
	if t.Notify <= 0 {
		t.Notify = d.Notify
	}
	if t.Cleanup <= 0 {
		t.Cleanup = d.Cleanup
	}
	return t
}

type timeoutsJSON struct {
	Split     float64 `json:"split"`
	Recognize float64 `json:"recognize"`
	Notify    float64 `json:"notify"`
	Cleanup   float64 `json:"cleanup"`
}

// MarshalJSON encodes the timeouts as seconds
func (t Timeouts) MarshalJSON() ([]byte, error) {
	return json.Marshal(timeoutsJSON{
		Split:     t.Split.Seconds(),
		Recognize: t.Recognize.Seconds(),
		Notify:    t.Notify.Seconds(),
		Cleanup:   t.Cleanup.Seconds(),
	})
}

// UnmarshalJSON decodes timeouts given in seconds
func (t *Timeouts) UnmarshalJSON(data []byte) error {
	var v timeoutsJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	toDuration := func(seconds float64) time.Duration {
		return time.Duration(seconds * float64(time.Second))
	}

	*t = Timeouts{
		Split:     toDuration(v.Split),
		Recognize: toDuration(v.Recognize),
		Notify:    toDuration(v.Notify),
		Cleanup:   toDuration(v.Cleanup),
	}
	return nil
}

// Params are supplied by the submitter. Metadata is opaque to the workflow
// and returned unchanged in the result.
type Params struct {
	Metadata string   `json:"metadata"`
	Timeouts Timeouts `json:"timeouts"`
}

// RecognitionTaskResult is the captured, immutable outcome of a run
type RecognitionTaskResult struct {
	RecognitionResults []transcription.Result `json:"recognition_results"`
	Metadata           string                 `json:"metadata"`
}

// Run is the persisted record of one saga execution
type Run struct {
	ID     string `json:"id"`
	State  State  `json:"state"`
	Params Params `json:"params"`

	// Objects lists every storage id created for the run, written before the
	// object itself so cleanup can always find it
	Objects []string `json:"objects"`
	Deleted []string `json:"deleted,omitempty"`

	SegmentIDs []string                        `json:"segment_ids,omitempty"`
	Recognized map[string]transcription.Result `json:"recognized,omitempty"`
	Result     *RecognitionTaskResult          `json:"result,omitempty"`

	FailedStep string `json:"failed_step,omitempty"`
	Error      string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Failed reports whether the run recorded a failure, even if cleanup is still running
func (r *Run) Failed() bool {
	return r.FailedStep != ""
}

// failure returns the recorded failure as an error
func (r *Run) failure() error {
	return fmt.Errorf("%w: run %s failed at %s: %s", ErrRunFailed, r.ID, r.FailedStep, r.Error)
}

// RunStatus is a monitoring view of a run
type RunStatus struct {
	ID             string    `json:"id"`
	State          State     `json:"state"`
	FailedStep     string    `json:"failed_step,omitempty"`
	Error          string    `json:"error,omitempty"`
	Segments       int       `json:"segments"`
	Recognized     int       `json:"recognized"`
	Objects        int       `json:"objects"`
	Deleted        int       `json:"deleted"`
	ResultCaptured bool      `json:"result_captured"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Status builds the monitoring view of r
func (r *Run) Status() RunStatus {
	return RunStatus{
		ID:             r.ID,
		State:          r.State,
		FailedStep:     r.FailedStep,
		Error:          r.Error,
		Segments:       len(r.SegmentIDs),
		Recognized:     len(r.Recognized),
		Objects:        len(r.Objects),
		Deleted:        len(r.Deleted),
		ResultCaptured: r.Result != nil,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}
