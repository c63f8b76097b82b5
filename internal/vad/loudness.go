package vad

import (
	"fmt"
	"math"
	"time"
)

// fullScale is the magnitude of the largest PCM-16 sample
const fullScale = 32768.0

// Region is a half-open range of sample offsets [Start, End)
type Region struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of samples in the region
func (r Region) Len() int {
	return r.End - r.Start
}

// Analyzer measures frame loudness of mono PCM-16 audio
type Analyzer struct {
	sampleRate int
	frameSize  int // samples per frame
}

// Analysis is the result of analyzing one clip
type Analysis struct {
	TotalSamples int       `json:"total_samples"`
	FrameSize    int       `json:"frame_size"`
	OverallDBFS  float64   `json:"overall_dbfs"`
	Threshold    float64   `json:"threshold_dbfs"`
	FrameDBFS    []float64 `json:"-"`
	Silences     []Region  `json:"silences"`
}

// NewAnalyzer creates an analyzer with the given frame duration
func NewAnalyzer(sampleRate int, frameDuration time.Duration) (*Analyzer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	frameSize := int(int64(sampleRate) * int64(frameDuration) / int64(time.Second))
	if frameSize <= 0 {
		return nil, fmt.Errorf("frame duration %v is shorter than one sample at %d Hz", frameDuration, sampleRate)
	}

	return &Analyzer{sampleRate: sampleRate, frameSize: frameSize}, nil
}

// FrameSize returns the frame size in samples
func (a *Analyzer) FrameSize() int {
	return a.frameSize
}

// DBFS returns the RMS loudness of samples relative to full scale.
// Digital silence yields -Inf.
func DBFS(samples []int16) float64 {
	if len(samples) == 0 {
		return math.Inf(-1)
	}

	var energy float64
	for _, sample := range samples {
		energy += float64(sample) * float64(sample)
	}
	rms := math.Sqrt(energy / float64(len(samples)))
	if rms == 0 {
		return math.Inf(-1)
	}

	return 20 * math.Log10(rms/fullScale)
}

// Analyze finds the runs of frames quieter than (overall loudness - marginDB)
// that last at least minSilence.
func (a *Analyzer) Analyze(samples []int16, marginDB float64, minSilence time.Duration) Analysis {
	result := Analysis{
		TotalSamples: len(samples),
		FrameSize:    a.frameSize,
		OverallDBFS:  DBFS(samples),
	}
	result.Threshold = result.OverallDBFS - marginDB

	numFrames := (len(samples) + a.frameSize - 1) / a.frameSize
	result.FrameDBFS = make([]float64, numFrames)
	for i := range result.FrameDBFS {
		start := i * a.frameSize
		end := min(start+a.frameSize, len(samples))
		result.FrameDBFS[i] = DBFS(samples[start:end])
	}

	minSamples := int(int64(a.sampleRate) * int64(minSilence) / int64(time.Second))
	if minSamples <= 0 {
		minSamples = 1
	}

	runStart := -1
	flush := func(end int) {
		if runStart >= 0 && end-runStart >= minSamples {
			result.Silences = append(result.Silences, Region{Start: runStart, End: end})
		}
		runStart = -1
	}

	for i, level := range result.FrameDBFS {
		if level < result.Threshold {
			if runStart < 0 {
				runStart = i * a.frameSize
			}
			continue
		}
		flush(i * a.frameSize)
	}
	flush(len(samples))

	return result
}

// SpeechRegions returns the complement of the silence runs, in temporal order
func (r Analysis) SpeechRegions() []Region {
	regions := make([]Region, 0, len(r.Silences)+1)
	cursor := 0

	for _, silence := range r.Silences {
		if silence.Start > cursor {
			regions = append(regions, Region{Start: cursor, End: silence.Start})
		}
		cursor = silence.End
	}

	if cursor < r.TotalSamples {
		regions = append(regions, Region{Start: cursor, End: r.TotalSamples})
	}

	return regions
}

// SilencePercentage returns the share of samples inside qualifying silence runs
func (r Analysis) SilencePercentage() float64 {
	if r.TotalSamples == 0 {
		return 0
	}

	silent := 0
	for _, s := range r.Silences {
		silent += s.Len()
	}

	return float64(silent) / float64(r.TotalSamples) * 100
}
