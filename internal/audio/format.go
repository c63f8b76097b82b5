package audio

import (
	"errors"
	"fmt"
	"strings"
)

// Format identifies the container/codec of an Audio value
type Format string

const (
	FormatOGG Format = "ogg"
	FormatMP3 Format = "mp3"
	FormatWAV Format = "wav"
	FormatMP4 Format = "mp4"
)

// CanonicalFormat is the uncompressed format used for segmentation and transcription
const CanonicalFormat = FormatWAV

var (
	// ErrUnsupportedFormat is returned for formats outside the closed set
	ErrUnsupportedFormat = errors.New("unsupported audio format")

	// ErrConversion is returned when audio cannot be decoded or re-encoded
	ErrConversion = errors.New("audio conversion failed")

	// ErrEmptyAudio is returned when zero-length audio is passed where content is required
	ErrEmptyAudio = errors.New("audio is empty")
)

var mimeFormats = map[string]Format{
	"audio/ogg":   FormatOGG,
	"audio/opus":  FormatOGG,
	"audio/mpeg":  FormatMP3,
	"audio/mp3":   FormatMP3,
	"audio/x-wav": FormatWAV,
	"audio/wav":   FormatWAV,
	"audio/wave":  FormatWAV,
	"video/mp4":   FormatMP4,
	"audio/mp4":   FormatMP4,
}

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
	return f, nil
}

// FormatFromMIME maps a MIME type reported by the chat platform to a Format
func FormatFromMIME(mimeType string) (Format, error) {
	if mimeType == "" {
		return "", fmt.Errorf("%w: empty mime type", ErrUnsupportedFormat)
	}

	base := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	f, ok := mimeFormats[base]
	if !ok {
		return "", fmt.Errorf("%w: mime type %q", ErrUnsupportedFormat, mimeType)
	}
	return f, nil
}

// Valid reports whether f is one of the supported formats
func (f Format) Valid() bool {
	switch f {
	case FormatOGG, FormatMP3, FormatWAV, FormatMP4:
		return true
	}
	return false
}

func (f Format) String() string {
	return string(f)
}

// Audio is an immutable audio blob with its duration and format.
//
// DurationSeconds is informational: it is supplied at creation or recomputed
// by the Converter and is never verified against Data.
type Audio struct {
	Data            []byte  `json:"data"`
	DurationSeconds float64 `json:"duration_seconds"`
	Format          Format  `json:"format"`
}

// New creates an Audio value, rejecting unknown formats
func New(data []byte, durationSeconds float64, format Format) (Audio, error) {
	if !format.Valid() {
		return Audio{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return Audio{Data: data, DurationSeconds: durationSeconds, Format: format}, nil
}

// IsEmpty reports whether the audio carries no bytes
func (a Audio) IsEmpty() bool {
	return len(a.Data) == 0
}
