package delivery

import (
	"context"
	"fmt"
	"iter"
	"unicode/utf8"

	"github.com/skypro1111/media-transcriber/internal/transcription"
)

// MaxMessageLength is the longest message, in characters, a chat accepts
const MaxMessageLength = 4096

// FormatTimerPrefix renders [start, end) as "MM:SS - MM:SS" on whole seconds
func FormatTimerPrefix(start, end float64) string {
	s, e := int(start), int(end)
	return fmt.Sprintf("%02d:%02d - %02d:%02d", s/60, s%60, e/60, e%60)
}

// Chunker delivers the results of one transcription to a Sink
type Chunker struct {
	sink      Sink
	maxLength int

	elapsed  float64
	current  *Handle
	messages int
}

// NewChunker creates a chunker writing to sink. maxLength <= 0 selects MaxMessageLength.
func NewChunker(sink Sink, maxLength int) *Chunker {
	if maxLength <= 0 {
		maxLength = MaxMessageLength
	}
	return &Chunker{sink: sink, maxLength: maxLength}
}

// Add delivers the next result
func (c *Chunker) Add(ctx context.Context, r transcription.Result) error {
	line := FormatTimerPrefix(c.elapsed, c.elapsed+r.DurationSeconds) + ": " + r.Text

	if c.current != nil && utf8.RuneCountInString(c.current.Text)+1+utf8.RuneCountInString(line) > c.maxLength {
		c.current = nil
	}

	var err error
	if utf8.RuneCountInString(line) > c.maxLength {
		err = c.sendWrapped(ctx, line)
	} else if c.current == nil {
		err = c.sendNew(ctx, line)
	} else {
		err = c.append(ctx, line)
	}
	if err != nil {
		return err
	}

	c.elapsed += r.DurationSeconds
	return nil
}

// Elapsed returns the end of the last delivered time range in seconds
func (c *Chunker) Elapsed() float64 {
	return c.elapsed
}

// Messages returns the number of distinct messages sent so far
func (c *Chunker) Messages() int {
	return c.messages
}

func (c *Chunker) sendNew(ctx context.Context, text string) error {
	h, err := c.sink.SendNew(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	c.current = &h
	c.messages++
	return nil
}

func (c *Chunker) append(ctx context.Context, line string) error {
	h, err := c.sink.AppendToLast(ctx, *c.current, c.current.Text+"\n"+line)
	if err != nil {
		return fmt.Errorf("failed to extend message %s: %w", c.current.ID, err)
	}
	c.current = &h
	return nil
}

// sendWrapped splits a line longer than a whole message into full-size
// messages; the last piece stays open for appending
func (c *Chunker) sendWrapped(ctx context.Context, line string) error {
	c.current = nil

	runes := []rune(line)
	for start := 0; start < len(runes); start += c.maxLength {
		end := min(start+c.maxLength, len(runes))
		if err := c.sendNew(ctx, string(runes[start:end])); err != nil {
			return err
		}
	}
	return nil
}

// Deliver feeds every result of seq to a fresh Chunker. It stops at the
// first error from seq or the sink; messages already sent are kept.
func Deliver(ctx context.Context, sink Sink, seq iter.Seq2[transcription.Result, error]) (*Chunker, error) {
	c := NewChunker(sink, MaxMessageLength)

	for result, err := range seq {
		if err != nil {
			return c, err
		}
		if err := c.Add(ctx, result); err != nil {
			return c, err
		}
	}

	return c, nil
}

// DeliverAll delivers a complete result list, as captured by a durable run
func DeliverAll(ctx context.Context, sink Sink, results []transcription.Result) (*Chunker, error) {
	return Deliver(ctx, sink, func(yield func(transcription.Result, error) bool) {
		for _, r := range results {
			if !yield(r, nil) {
				return
			}
		}
	})
}
