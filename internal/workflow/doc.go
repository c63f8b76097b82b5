// Package workflow implements the durable recognition saga used by the
// asynchronous execution mode.
//
// A run is keyed by the object store id of its original audio and moves
// through submitted, splitting, recognizing, result_captured, notifying and
// cleaning_up to done, or ends failed. Every transition and every step output
// is written to a RunStore before the run advances, so a process restart
// resumes a run where it stopped and never repeats a recorded step.
//
// Each unit of work (the split, one recognition per segment, the
// notification, one delete per object) is retried independently under a
// RetryPolicy and bounded by its own timeout. Recognition fans out one
// goroutine per segment and requires all of them to succeed. Cleanup always
// runs, after notification or after a failure, and deletes every object the
// run ever created.
package workflow
