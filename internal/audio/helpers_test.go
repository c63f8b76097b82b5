package audio

import (
	"log/slog"
	"math"
	"os"
)

const testSampleRate = 16000

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// tone generates a 440Hz sine wave
func tone(seconds float64, sampleRate int) []int16 {
	n := int(seconds * float64(sampleRate))
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		samples[i] = int16(10000 * math.Sin(2*math.Pi*440*t))
	}
	return samples
}

func silence(seconds float64, sampleRate int) []int16 {
	return make([]int16, int(seconds*float64(sampleRate)))
}

func concat(parts ...[]int16) []int16 {
	var out []int16
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func wavAudio(samples []int16, sampleRate int) Audio {
	data, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		panic(err)
	}
	return Audio{
		Data:            data,
		DurationSeconds: float64(len(samples)) / float64(sampleRate),
		Format:          FormatWAV,
	}
}
