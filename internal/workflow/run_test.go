package workflow

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestTimeoutsJSON(t *testing.T) {
	timeouts := Timeouts{
		Split:     90 * time.Second,
		Recognize: 1500 * time.Millisecond,
		Notify:    10 * time.Second,
		Cleanup:   time.Minute,
	}

	data, err := json.Marshal(timeouts)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	want := `{"split":90,"recognize":1.5,"notify":10,"cleanup":60}`
	if string(data) != want {
		t.Errorf("Expected %s, got %s", want, data)
	}

	var decoded Timeouts
	if err := json.Unmarshal([]byte(`{"split":600,"recognize":0.25}`), &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.Split != 600*time.Second || decoded.Recognize != 250*time.Millisecond {
		t.Errorf("Unexpected decoded timeouts: %+v", decoded)
	}
	if decoded.Notify != 0 || decoded.Cleanup != 0 {
		t.Errorf("Expected missing timeouts to stay unset, got %+v", decoded)
	}
}

func TestTimeoutsWithDefaults(t *testing.T) {
	got := Timeouts{Recognize: 5 * time.Second}.WithDefaults()

	want := DefaultTimeouts()
	want.Recognize = 5 * time.Second

	if got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}

func TestStateTerminal(t *testing.T) {
	for _, state := range []State{StateSubmitted, StateSplitting, StateRecognizing, StateResultCaptured, StateNotifying, StateCleaningUp} {
		if state.Terminal() {
			t.Errorf("Expected %s to be non-terminal", state)
		}
	}

	if !StateDone.Terminal() || !StateFailed.Terminal() {
		t.Error("Expected done and failed to be terminal")
	}
}

func TestRunFailure(t *testing.T) {
	run := &Run{ID: "run-1", FailedStep: StepRecognize, Error: "segment seg-2: backend down"}

	if !run.Failed() {
		t.Fatal("Expected run to be failed")
	}

	err := run.failure()
	if !errors.Is(err, ErrRunFailed) {
		t.Errorf("Expected ErrRunFailed, got %v", err)
	}

	status := run.Status()
	if status.FailedStep != StepRecognize || status.ResultCaptured {
		t.Errorf("Unexpected status: %+v", status)
	}
}
