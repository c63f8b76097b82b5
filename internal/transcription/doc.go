// Package transcription defines the Engine contract that maps one canonical
// WAV segment to recognized text, and provides two engines: an HTTP client
// for multipart transcription APIs and a Whisper engine built on the OpenAI
// API. An engine reports "no speech" as the Unrecognized sentinel text in a
// successful Result; only backend failures are errors.
package transcription
