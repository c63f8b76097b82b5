package transcription

import (
	"math"

	"github.com/skypro1111/media-transcriber/internal/audio"
)

func canonicalSegment(seconds float64) audio.Audio {
	samples := make([]int16, int(seconds*audio.DefaultSampleRate))
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/audio.DefaultSampleRate))
	}

	data, err := audio.EncodeWAV(samples, audio.DefaultSampleRate)
	if err != nil {
		panic(err)
	}

	return audio.Audio{Data: data, DurationSeconds: seconds, Format: audio.FormatWAV}
}
