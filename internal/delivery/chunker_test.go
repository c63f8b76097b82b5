package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/skypro1111/media-transcriber/internal/transcription"
)

// recordingSink keeps the latest text of every message it created
type recordingSink struct {
	order    []string
	messages map[string]string
	appends  int
	failOn   int // fail the n-th operation, 1-based; 0 never fails
	ops      int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{messages: make(map[string]string)}
}

func (s *recordingSink) fail() error {
	s.ops++
	if s.failOn > 0 && s.ops == s.failOn {
		return errors.New("chat unavailable")
	}
	return nil
}

func (s *recordingSink) SendNew(ctx context.Context, text string) (Handle, error) {
	if err := s.fail(); err != nil {
		return Handle{}, err
	}
	id := fmt.Sprintf("msg-%d", len(s.order)+1)
	s.order = append(s.order, id)
	s.messages[id] = text
	return Handle{ID: id, Text: text}, nil
}

func (s *recordingSink) AppendToLast(ctx context.Context, h Handle, text string) (Handle, error) {
	if err := s.fail(); err != nil {
		return Handle{}, err
	}
	if !strings.HasPrefix(text, s.messages[h.ID]+"\n") {
		return Handle{}, fmt.Errorf("append to %s does not extend its text", h.ID)
	}
	s.appends++
	s.messages[h.ID] = text
	return Handle{ID: h.ID, Text: text}, nil
}

func (s *recordingSink) texts() []string {
	texts := make([]string, 0, len(s.order))
	for _, id := range s.order {
		texts = append(texts, s.messages[id])
	}
	return texts
}

func results(durations []float64, texts []string) []transcription.Result {
	out := make([]transcription.Result, len(durations))
	for i := range durations {
		out[i] = transcription.Result{Text: texts[i], DurationSeconds: durations[i]}
	}
	return out
}

func TestFormatTimerPrefix(t *testing.T) {
	tests := []struct {
		start, end float64
		want       string
	}{
		{0, 3, "00:00 - 00:03"},
		{65, 125, "01:05 - 02:05"},
		{59.9, 60.2, "00:59 - 01:00"},
		{3599, 3661, "59:59 - 61:01"},
	}

	for _, tt := range tests {
		if got := FormatTimerPrefix(tt.start, tt.end); got != tt.want {
			t.Errorf("FormatTimerPrefix(%v, %v) = %q, want %q", tt.start, tt.end, got, tt.want)
		}
	}
}

func TestChunkerAppendsToOneMessage(t *testing.T) {
	sink := newRecordingSink()

	c, err := DeliverAll(context.Background(), sink, results(
		[]float64{2.5, 3, 4},
		[]string{"hello", transcription.Unrecognized, "world"},
	))
	if err != nil {
		t.Fatalf("DeliverAll failed: %v", err)
	}

	want := "00:00 - 00:02: hello\n00:02 - 00:05: UNRECOGNIZED\n00:05 - 00:09: world"
	if texts := sink.texts(); len(texts) != 1 || texts[0] != want {
		t.Errorf("Expected single message %q, got %q", want, texts)
	}
	if sink.appends != 2 {
		t.Errorf("Expected 2 appends, got %d", sink.appends)
	}
	if c.Elapsed() != 9.5 {
		t.Errorf("Expected elapsed 9.5, got %v", c.Elapsed())
	}
}

func TestChunkerStartsNewMessageWhenFull(t *testing.T) {
	sink := newRecordingSink()
	long := strings.Repeat("a", 4060)

	c, err := DeliverAll(context.Background(), sink, results(
		[]float64{30, 40, 20, 10},
		[]string{"first", "second", long, "last"},
	))
	if err != nil {
		t.Fatalf("DeliverAll failed: %v", err)
	}

	if c.Messages() != 2 || len(sink.order) != 2 {
		t.Fatalf("Expected 2 messages, got %d: %q", len(sink.order), sink.texts())
	}

	texts := sink.texts()
	if !strings.HasPrefix(texts[1], "01:10 - 01:30: aaa") {
		t.Errorf("Expected second message to start with the long line, got %.30q", texts[1])
	}
	if !strings.HasSuffix(texts[1], "\n01:30 - 01:40: last") {
		t.Errorf("Expected last line appended to the second message, got %.30q", texts[1][len(texts[1])-30:])
	}

	for i, text := range texts {
		if n := utf8.RuneCountInString(text); n > MaxMessageLength {
			t.Errorf("Message %d has %d characters", i, n)
		}
	}
}

func TestChunkerWrapsOversizedLine(t *testing.T) {
	sink := newRecordingSink()
	huge := strings.Repeat("b", 4100)

	_, err := DeliverAll(context.Background(), sink, results(
		[]float64{30, 40, 20, 10},
		[]string{"first", "second", huge, "last"},
	))
	if err != nil {
		t.Fatalf("DeliverAll failed: %v", err)
	}

	texts := sink.texts()
	if len(texts) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(texts))
	}

	for i, text := range texts {
		if n := utf8.RuneCountInString(text); n > MaxMessageLength {
			t.Errorf("Message %d has %d characters", i, n)
		}
	}

	if utf8.RuneCountInString(texts[1]) != MaxMessageLength {
		t.Errorf("Expected the first piece to fill a message, got %d", utf8.RuneCountInString(texts[1]))
	}
	if !strings.HasSuffix(texts[2], "b\n01:30 - 01:40: last") {
		t.Errorf("Expected the tail piece to stay open for appending, got %.40q", texts[2])
	}
}

func TestChunkerCountsRunes(t *testing.T) {
	sink := newRecordingSink()
	c := NewChunker(sink, 40)

	// 15 prefix characters plus 10 Cyrillic letters, 20 bytes
	line := strings.Repeat("я", 10)
	for i := 0; i < 2; i++ {
		if err := c.Add(context.Background(), transcription.Result{Text: line, DurationSeconds: 1}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	// 25 + 1 + 25 exceeds 40
	if len(sink.order) != 2 {
		t.Errorf("Expected 2 messages, got %d", len(sink.order))
	}

	sink2 := newRecordingSink()
	c = NewChunker(sink2, 60)
	for i := 0; i < 2; i++ {
		if err := c.Add(context.Background(), transcription.Result{Text: line, DurationSeconds: 1}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	if len(sink2.order) != 1 {
		t.Errorf("Expected rune length to fit one message, got %d", len(sink2.order))
	}
}

func TestDeliverStopsOnSequenceError(t *testing.T) {
	sink := newRecordingSink()
	failure := errors.New("segment failed")

	seq := func(yield func(transcription.Result, error) bool) {
		if !yield(transcription.Result{Text: "kept", DurationSeconds: 1}, nil) {
			return
		}
		if !yield(transcription.Result{}, failure) {
			return
		}
		t.Error("Sequence continued after the consumer stopped")
	}

	c, err := Deliver(context.Background(), sink, seq)
	if !errors.Is(err, failure) {
		t.Errorf("Expected sequence error, got %v", err)
	}

	if texts := sink.texts(); len(texts) != 1 || texts[0] != "00:00 - 00:01: kept" {
		t.Errorf("Expected the delivered chunk to be kept, got %q", texts)
	}
	if c.Elapsed() != 1 {
		t.Errorf("Expected elapsed 1, got %v", c.Elapsed())
	}
}

func TestDeliverSinkError(t *testing.T) {
	sink := newRecordingSink()
	sink.failOn = 2

	_, err := DeliverAll(context.Background(), sink, results([]float64{1, 1, 1}, []string{"a", "b", "c"}))
	if err == nil || !strings.Contains(err.Error(), "chat unavailable") {
		t.Errorf("Expected sink error, got %v", err)
	}
	if sink.ops != 2 {
		t.Errorf("Expected delivery to stop after the failed operation, got %d operations", sink.ops)
	}
}
