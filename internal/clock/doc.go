// Package clock drives a simulation forward one tick at a time.
//
// A Clock owns the only goroutine that ticks the host. Everything else that
// wants to change the simulation submits a Command to the Queue; the clock
// drains the queue before each tick and applies the commands in submission
// order, so a tick never observes a half-applied batch.
//
// The clock exposes pause, resume, stop and fast-forward (SetTime). Finished
// ticks and applied commands are handed to an optional Sink for recording.
package clock
