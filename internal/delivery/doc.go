// Package delivery turns an ordered sequence of transcription results into
// chat messages.
//
// Every result becomes one line "MM:SS - MM:SS: text" stamped with the
// elapsed time range of its segment. Lines are appended to the last message
// until it would exceed MaxMessageLength, then a new message is started.
// A Chunker owns the state of one delivery, so concurrent deliveries never
// interleave.
package delivery
