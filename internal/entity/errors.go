package entity

import (
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-sim/internal/device"
)

// Domain-specific errors for entity declarations.
var (
	// ErrMalformedDeclaration is returned when a declaration lacks its type
	// tag or payload, or the payload does not decode into its kind.
	ErrMalformedDeclaration = errors.New("entity: malformed declaration")

	// ErrUnknownEntityType is returned for a type tag nobody registered.
	ErrUnknownEntityType = device.ErrUnknownEntityType

	// ErrMissingDependency is matched by every *MissingDependencyError.
	ErrMissingDependency = errors.New("entity: missing dependency")

	// ErrInvalidParameters is returned when simulation parameters fail validation.
	ErrInvalidParameters = errors.New("entity: invalid simulation parameters")

	// ErrNotMaterializable is returned for a descriptor that cannot become a
	// live entity on its own, such as the host.
	ErrNotMaterializable = errors.New("entity: descriptor cannot be materialized")
)

// MissingDependencyError reports an entity whose required peer role has no
// match, or whose peers form a cycle.
type MissingDependencyError struct {
	Entity string
	Role   Role
	Cycle  bool
}

func (e *MissingDependencyError) Error() string {
	if e.Cycle {
		return fmt.Sprintf("entity: %s: dependency cycle through %s", e.Entity, e.Role)
	}
	return fmt.Sprintf("entity: %s: no %s declared", e.Entity, e.Role)
}

// Is makes errors.Is(err, ErrMissingDependency) hold.
func (e *MissingDependencyError) Is(target error) bool {
	return target == ErrMissingDependency
}
