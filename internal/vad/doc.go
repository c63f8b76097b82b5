// Package vad provides loudness-based voice activity analysis.
// It measures per-frame dBFS relative to the overall loudness of a clip and
// reports the silence runs that are long enough to cut the clip at.
package vad
