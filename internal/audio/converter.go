package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/skypro1111/media-transcriber/internal/metrics"
)

// DefaultSampleRate is the canonical sample rate used for segmentation and transcription
const DefaultSampleRate = 16000

// Converter transforms audio between formats
type Converter interface {
	Convert(ctx context.Context, a Audio, target Format) (Audio, error)
}

// ConverterConfig contains configuration for the ffmpeg converter
type ConverterConfig struct {
	FFmpegPath string
	SampleRate int
	TempDir    string
}

// FFmpegConverter converts audio by shelling out to ffmpeg.
//
// Convert returns its input unchanged when the input already has the target
// format (for WAV: when it is also canonical mono PCM-16 at the configured
// sample rate). In every other case the input is decoded to canonical PCM and
// the returned duration is recomputed from the decoded samples.
type FFmpegConverter struct {
	config  ConverterConfig
	pool    *Pool
	logger  *slog.Logger
	metrics *metrics.Metrics
}

var encoderArgs = map[Format][]string{
	FormatWAV: {"-c:a", "pcm_s16le", "-f", "wav"},
	FormatOGG: {"-c:a", "libopus", "-f", "ogg"},
	FormatMP3: {"-c:a", "libmp3lame", "-f", "mp3"},
	FormatMP4: {"-c:a", "aac", "-f", "mp4"},
}

// NewFFmpegConverter creates a converter that runs on the given pool
func NewFFmpegConverter(config ConverterConfig, pool *Pool, logger *slog.Logger, m *metrics.Metrics) *FFmpegConverter {
	if config.FFmpegPath == "" {
		config.FFmpegPath = "ffmpeg"
	}

	if config.SampleRate <= 0 {
		config.SampleRate = DefaultSampleRate
	}

	return &FFmpegConverter{
		config:  config,
		pool:    pool,
		logger:  logger,
		metrics: m,
	}
}

// SampleRate returns the canonical sample rate
func (c *FFmpegConverter) SampleRate() int {
	return c.config.SampleRate
}

// Convert converts a to the target format
func (c *FFmpegConverter) Convert(ctx context.Context, a Audio, target Format) (Audio, error) {
	if !target.Valid() {
		return Audio{}, fmt.Errorf("%w: unsupported target format %q", ErrConversion, target)
	}

	if !a.Format.Valid() {
		return Audio{}, fmt.Errorf("%w: unsupported source format %q", ErrConversion, a.Format)
	}

	if a.IsEmpty() {
		return Audio{}, fmt.Errorf("%w: %w", ErrConversion, ErrEmptyAudio)
	}

	if a.Format == target && (target != FormatWAV || IsCanonicalWAV(a.Data, c.config.SampleRate)) {
		return a, nil
	}

	c.logger.Debug("Converting audio",
		slog.String("from", a.Format.String()),
		slog.String("to", target.String()),
		slog.Int("size_bytes", len(a.Data)),
		slog.Float64("duration", a.DurationSeconds),
	)

	startTime := time.Now()

	var out Audio
	err := c.pool.Do(ctx, func(ctx context.Context) error {
		var convErr error
		out, convErr = c.convert(ctx, a, target)
		return convErr
	})
	if err != nil {
		if errors.Is(err, ErrConversion) || ctx.Err() != nil {
			return Audio{}, err
		}
		return Audio{}, fmt.Errorf("%w: %w", ErrConversion, err)
	}

	c.metrics.RecordConversion(a.Format.String(), target.String(), time.Since(startTime).Seconds())

	return out, nil
}

// convert runs on a pool worker
func (c *FFmpegConverter) convert(ctx context.Context, a Audio, target Format) (Audio, error) {
	samples, err := c.decodePCM(ctx, a)
	if err != nil {
		return Audio{}, err
	}

	duration := float64(len(samples)) / float64(c.config.SampleRate)

	canonical, err := EncodeWAV(samples, c.config.SampleRate)
	if err != nil {
		return Audio{}, fmt.Errorf("%w: %w", ErrConversion, err)
	}

	if target == FormatWAV {
		return Audio{Data: canonical, DurationSeconds: duration, Format: FormatWAV}, nil
	}

	data, err := c.runFFmpeg(ctx, canonical, FormatWAV, target)
	if err != nil {
		return Audio{}, err
	}

	return Audio{Data: data, DurationSeconds: duration, Format: target}, nil
}

// decodePCM returns mono PCM-16 samples at the canonical sample rate
func (c *FFmpegConverter) decodePCM(ctx context.Context, a Audio) ([]int16, error) {
	data := a.Data
	if a.Format != FormatWAV || !IsCanonicalWAV(data, c.config.SampleRate) {
		var err error
		data, err = c.runFFmpeg(ctx, a.Data, a.Format, FormatWAV)
		if err != nil {
			return nil, err
		}
	}

	samples, _, err := DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrConversion, a.Format, err)
	}

	return samples, nil
}

// runFFmpeg converts data between formats through temporary files. MP4 input
// cannot be demuxed reliably from a pipe, so files are used for every format.
func (c *FFmpegConverter) runFFmpeg(ctx context.Context, data []byte, from, to Format) ([]byte, error) {
	dir, err := os.MkdirTemp(c.config.TempDir, "convert-*")
	if err != nil {
		return nil, fmt.Errorf("%w: create temp dir: %w", ErrConversion, err)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "input."+from.String())
	outPath := filepath.Join(dir, "output."+to.String())

	if err := os.WriteFile(inPath, data, 0600); err != nil {
		return nil, fmt.Errorf("%w: write input: %w", ErrConversion, err)
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", inPath, "-vn"}
	if to == FormatWAV {
		args = append(args, "-ac", "1", "-ar", strconv.Itoa(c.config.SampleRate))
	}
	args = append(args, encoderArgs[to]...)
	args = append(args, outPath)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.config.FFmpegPath, args...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: ffmpeg %s -> %s: %v: %s",
			ErrConversion, from, to, err, strings.TrimSpace(stderr.String()))
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read output: %w", ErrConversion, err)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: ffmpeg produced no output for %s -> %s", ErrConversion, from, to)
	}

	return out, nil
}
