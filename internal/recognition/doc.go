// Package recognition produces the ordered transcription of a clip.
//
// Two implementations share the Service interface. Pipeline splits and
// transcribes in this process with a bounded look-ahead. Durable submits the
// clip to the workflow engine and yields the captured result once the run
// has finished, surviving restarts of the worker in between.
package recognition
