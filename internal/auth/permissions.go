package auth

import "slices"

// Permission names one capability of the control surface.
type Permission string

const (
	PermStateRead       Permission = "state:read"
	PermSimulationDrive Permission = "simulation:drive"
	PermEntityWrite     Permission = "entity:write"
	PermComposerManage  Permission = "composer:manage"
)

// allPermissions in the order they are granted up the role ladder.
var allPermissions = []Permission{PermStateRead, PermSimulationDrive, PermEntityWrite, PermComposerManage}

// minimumRole is the least privileged role holding each permission. Roles
// are strictly tiered, so a role holds every permission of the roles
// below it.
var minimumRole = map[Permission]Role{
	PermStateRead:       RoleViewer,
	PermSimulationDrive: RoleOperator,
	PermEntityWrite:     RoleOperator,
	PermComposerManage:  RoleAdmin,
}

// rank is the position of role on the ladder, -1 when unknown.
func rank(role Role) int {
	return slices.Index(ValidRoles, role)
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	floor, ok := minimumRole[perm]
	r := rank(role)
	return ok && r >= 0 && r >= rank(floor)
}

// PermissionsForRole returns the permissions role grants, or nil for an
// unknown role. The slice is the caller's to modify.
func PermissionsForRole(role Role) []Permission {
	if rank(role) < 0 {
		return nil
	}
	var out []Permission
	for _, p := range allPermissions {
		if HasPermission(role, p) {
			out = append(out, p)
		}
	}
	return out
}
