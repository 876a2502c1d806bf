package auth

import "errors"

// Role is an authorisation tier of the control surface.
type Role string

const (
	// RoleViewer observes a simulation without changing it.
	RoleViewer Role = "viewer"

	// RoleOperator drives a running simulation: commands, direct writes,
	// pause, resume and fast-forward.
	RoleOperator Role = "operator"

	// RoleAdmin also changes the composition and its lifecycle.
	RoleAdmin Role = "admin"
)

// ValidRoles lists every role, least privileged first.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	return rank(r) >= 0
}

// Sentinel errors.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrUnknownRole  = errors.New("unknown role")
	ErrForbidden    = errors.New("insufficient permissions")
	ErrNoSecret     = errors.New("jwt secret is not configured")
)
