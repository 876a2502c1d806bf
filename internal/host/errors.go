package host

import "errors"

// Domain-specific errors for host operations.
var (
	// ErrEntityNotFound is returned when no live entity has the given name.
	ErrEntityNotFound = errors.New("host: entity not found")

	// ErrEntityExists is returned when adding an entity whose name is taken.
	ErrEntityExists = errors.New("host: entity already exists")

	// ErrNoFactory is returned by CreateObject before a factory is installed.
	ErrNoFactory = errors.New("host: no entity factory installed")
)
