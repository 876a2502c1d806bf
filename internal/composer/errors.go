package composer

import "errors"

// Domain-specific errors for the composer lifecycle.
var (
	// ErrDuplicateEntity is returned when a declared name is already taken.
	ErrDuplicateEntity = errors.New("composer: duplicate entity name")

	// ErrMissingHost is returned by Load and Start without a host declaration.
	ErrMissingHost = errors.New("composer: no host declared")

	// ErrMissingParameters is returned by Load and Start before Configure.
	ErrMissingParameters = errors.New("composer: simulation parameters not set")

	// ErrAlreadyActive is returned for changes that are illegal while running.
	ErrAlreadyActive = errors.New("composer: simulation already active")

	// ErrAlreadyConfigured is returned when parameters are set a second time
	// or after load.
	ErrAlreadyConfigured = errors.New("composer: simulation parameters already set")

	// ErrNotInactive is returned by Load outside the INACTIVE state.
	ErrNotInactive = errors.New("composer: composition already loaded")

	// ErrNotLoaded is returned for operations that need a live entity graph.
	ErrNotLoaded = errors.New("composer: composition not loaded")

	// ErrNotActive is returned for simulation control before Start.
	ErrNotActive = errors.New("composer: simulation not active")

	// ErrInvalidScenario is returned when a scenario file cannot be read.
	ErrInvalidScenario = errors.New("composer: invalid scenario")
)
