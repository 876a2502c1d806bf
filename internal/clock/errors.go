package clock

import "errors"

// Domain-specific errors for the simulation clock.
var (
	// ErrUnknownCommand is returned for a command kind the clock cannot apply.
	ErrUnknownCommand = errors.New("clock: unknown command")

	// ErrInvalidCommand is returned when a command payload cannot be decoded.
	ErrInvalidCommand = errors.New("clock: invalid command")

	// ErrInvalidTarget is returned by SetTime for a target not after now.
	ErrInvalidTarget = errors.New("clock: fast-forward target must be after the current time")

	// ErrStopped is returned to fast-forward waiters when the clock stops.
	ErrStopped = errors.New("clock: stopped")

	// ErrAborted is returned by Run when the abort policy stops the run.
	ErrAborted = errors.New("clock: run aborted after entity failure")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("clock: already running")
)
