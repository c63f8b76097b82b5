package recognition

import (
	"context"
	"iter"

	"github.com/skypro1111/media-transcriber/internal/audio"
	"github.com/skypro1111/media-transcriber/internal/transcription"
)

// Service produces transcription results for a clip in temporal order. The
// first error ends the sequence; stopping the iteration cancels pending work.
type Service interface {
	Recognize(ctx context.Context, a audio.Audio) iter.Seq2[transcription.Result, error]
}

// Collect drains a sequence into a slice
func Collect(seq iter.Seq2[transcription.Result, error]) ([]transcription.Result, error) {
	var results []transcription.Result
	for result, err := range seq {
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}
