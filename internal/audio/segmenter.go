package audio

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skypro1111/media-transcriber/internal/metrics"
	"github.com/skypro1111/media-transcriber/internal/vad"
)

// Segmenter splits one Audio into an ordered sequence of smaller Audio values
type Segmenter interface {
	Split(ctx context.Context, a Audio) ([]Audio, error)
}

// SplitConfig contains configuration for silence-based splitting
type SplitConfig struct {
	MinSilence      time.Duration // shortest silence run that may separate segments
	SilenceMarginDB float64       // silence is quieter than overall loudness minus this margin
	LeadingSilence  time.Duration // silence kept in front of each segment
	FrameSize       time.Duration // loudness measurement granularity
}

// DefaultSplitConfig returns the splitter defaults
func DefaultSplitConfig() SplitConfig {
	return SplitConfig{
		MinSilence:      800 * time.Millisecond,
		SilenceMarginDB: 20,
		LeadingSilence:  2000 * time.Millisecond,
		FrameSize:       10 * time.Millisecond,
	}
}

// Validate checks the split parameters
func (c SplitConfig) Validate() error {
	if c.MinSilence <= 0 {
		return fmt.Errorf("min silence must be positive, got %v", c.MinSilence)
	}

	if c.SilenceMarginDB <= 0 {
		return fmt.Errorf("silence margin must be positive, got %f", c.SilenceMarginDB)
	}

	if c.LeadingSilence < 0 {
		return fmt.Errorf("leading silence cannot be negative, got %v", c.LeadingSilence)
	}

	if c.FrameSize <= 0 || c.FrameSize > c.MinSilence {
		return fmt.Errorf("frame size must be positive and not exceed min silence, got %v", c.FrameSize)
	}

	return nil
}

// SilenceSplitter cuts audio at silence runs. Output segments are canonical WAV
// in temporal order; each one is preceded by up to LeadingSilence of the
// silence before it.
type SilenceSplitter struct {
	config    SplitConfig
	converter Converter
	pool      *Pool
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewSilenceSplitter creates a splitter
func NewSilenceSplitter(config SplitConfig, converter Converter, pool *Pool, logger *slog.Logger, m *metrics.Metrics) (*SilenceSplitter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid split config: %w", err)
	}

	return &SilenceSplitter{
		config:    config,
		converter: converter,
		pool:      pool,
		logger:    logger,
		metrics:   m,
	}, nil
}

// Split normalizes a to canonical WAV and splits it at silence boundaries.
// It never returns an empty sequence for non-empty input.
func (s *SilenceSplitter) Split(ctx context.Context, a Audio) ([]Audio, error) {
	if a.IsEmpty() {
		return nil, ErrEmptyAudio
	}

	canonical, err := s.converter.Convert(ctx, a, CanonicalFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize audio for splitting: %w", err)
	}

	var segments []Audio
	err = s.pool.Do(ctx, func(ctx context.Context) error {
		var splitErr error
		segments, splitErr = s.split(canonical)
		return splitErr
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordSplit(len(segments))

	return segments, nil
}

// split runs on a pool worker
func (s *SilenceSplitter) split(canonical Audio) ([]Audio, error) {
	samples, sampleRate, err := DecodeWAV(canonical.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConversion, err)
	}

	if len(samples) == 0 {
		return nil, ErrEmptyAudio
	}

	analyzer, err := vad.NewAnalyzer(sampleRate, s.config.FrameSize)
	if err != nil {
		return nil, err
	}

	analysis := analyzer.Analyze(samples, s.config.SilenceMarginDB, s.config.MinSilence)

	regions := analysis.SpeechRegions()
	if len(regions) == 0 {
		regions = []vad.Region{{Start: 0, End: len(samples)}}
	}

	padding := int(int64(sampleRate) * int64(s.config.LeadingSilence) / int64(time.Second))

	segments := make([]Audio, 0, len(regions))
	prevEnd := 0

	for _, region := range regions {
		start := max(region.Start-padding, prevEnd)
		segment := samples[start:region.End]

		data, err := EncodeWAV(segment, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConversion, err)
		}

		segments = append(segments, Audio{
			Data:            data,
			DurationSeconds: float64(len(segment)) / float64(sampleRate),
			Format:          CanonicalFormat,
		})
		prevEnd = region.End
	}

	s.logger.Debug("Audio split on silence",
		slog.Int("samples", len(samples)),
		slog.Float64("overall_dbfs", analysis.OverallDBFS),
		slog.Float64("threshold_dbfs", analysis.Threshold),
		slog.Int("silence_runs", len(analysis.Silences)),
		slog.Float64("silence_percentage", analysis.SilencePercentage()),
		slog.Int("segments", len(segments)),
	)

	return segments, nil
}
