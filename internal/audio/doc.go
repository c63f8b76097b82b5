// Package audio defines the Audio value exchanged by every stage of the service,
// the canonical WAV codec, format conversion through ffmpeg, and silence-based
// segmentation of long recordings into speech segments.
package audio
