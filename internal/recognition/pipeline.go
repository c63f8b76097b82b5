package recognition

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/media-transcriber/internal/audio"
	"github.com/skypro1111/media-transcriber/internal/transcription"
)

// DefaultLookahead is the number of segments transcribed ahead of the consumer
const DefaultLookahead = 2

// Pipeline recognizes a clip in process: split, then normalize and
// transcribe every segment. Up to lookahead segments are in flight at once;
// results are still emitted in segment order.
type Pipeline struct {
	segmenter audio.Segmenter
	converter audio.Converter
	engine    transcription.Engine
	pool      *audio.Pool
	lookahead int
	logger    *slog.Logger
}

// NewPipeline creates a pipeline. A lookahead of 1 is strictly sequential.
func NewPipeline(segmenter audio.Segmenter, converter audio.Converter, engine transcription.Engine,
	pool *audio.Pool, lookahead int, logger *slog.Logger) *Pipeline {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}

	return &Pipeline{
		segmenter: segmenter,
		converter: converter,
		engine:    engine,
		pool:      pool,
		lookahead: lookahead,
		logger:    logger,
	}
}

type outcome struct {
	result transcription.Result
	err    error
}

// Recognize implements Service
func (p *Pipeline) Recognize(ctx context.Context, a audio.Audio) iter.Seq2[transcription.Result, error] {
	return func(yield func(transcription.Result, error) bool) {
		var wg sync.WaitGroup
		defer wg.Wait()

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		startTime := time.Now()

		segments, err := p.segmenter.Split(ctx, a)
		if err != nil {
			yield(transcription.Result{}, err)
			return
		}

		p.logger.Debug("Recognizing segments",
			slog.Int("segments", len(segments)),
			slog.Float64("duration", a.DurationSeconds),
			slog.Int("lookahead", p.lookahead),
		)

		pending := make([]chan outcome, len(segments))
		start := func(i int) {
			ch := make(chan outcome, 1)
			pending[i] = ch

			wg.Add(1)
			go func() {
				defer wg.Done()
				result, err := p.recognizeSegment(ctx, segments[i])
				ch <- outcome{result: result, err: err}
			}()
		}

		next := 0
		for ; next < len(segments) && next < p.lookahead; next++ {
			start(next)
		}

		for i := range segments {
			o := <-pending[i]

			if o.err != nil {
				yield(transcription.Result{}, fmt.Errorf("segment %d of %d: %w", i+1, len(segments), o.err))
				return
			}

			if next < len(segments) {
				start(next)
				next++
			}

			if !yield(o.result, nil) {
				p.logger.Debug("Recognition stopped by consumer", slog.Int("delivered", i+1))
				return
			}
		}

		p.logger.Debug("Recognition completed",
			slog.Int("segments", len(segments)),
			slog.Duration("elapsed", time.Since(startTime)),
		)
	}
}

func (p *Pipeline) recognizeSegment(ctx context.Context, segment audio.Audio) (transcription.Result, error) {
	canonical, err := p.converter.Convert(ctx, segment, audio.CanonicalFormat)
	if err != nil {
		return transcription.Result{}, err
	}

	var result transcription.Result
	err = p.pool.Do(ctx, func(ctx context.Context) error {
		var transcribeErr error
		result, transcribeErr = p.engine.Transcribe(ctx, canonical)
		return transcribeErr
	})
	if err != nil {
		return transcription.Result{}, err
	}
	return result, nil
}
