package device

import "errors"

// Domain-specific errors for simulated devices.
// Use errors.Is() to check for these in calling code.
var (
	// ErrUnknownEntityType is returned when a type tag names no known kind.
	ErrUnknownEntityType = errors.New("device: unknown entity type")

	// ErrFunctionNotFound is returned when an entity exposes no such function.
	ErrFunctionNotFound = errors.New("device: function not found")

	// ErrVarNotFound is returned when an entity exposes no such variable.
	ErrVarNotFound = errors.New("device: variable not found")

	// ErrLinkNotFound is returned when an entity has no such reference slot.
	ErrLinkNotFound = errors.New("device: reference not found")

	// ErrReadOnly is returned when setting a variable that is only observable.
	ErrReadOnly = errors.New("device: variable is read-only")

	// ErrInvalidValue is returned when a value cannot be converted to the
	// variable's type or is out of range.
	ErrInvalidValue = errors.New("device: invalid value")

	// ErrInvalidLink is returned when a reference target has the wrong kind.
	ErrInvalidLink = errors.New("device: invalid reference target")

	// ErrInvalidConfig is returned by constructors for unusable parameters.
	ErrInvalidConfig = errors.New("device: invalid configuration")

	// ErrNoData is returned when a series has no samples.
	ErrNoData = errors.New("device: series has no data")
)
