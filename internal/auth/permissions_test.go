package auth

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role  Role
		perm  Permission
		grant bool
	}{
		{RoleViewer, PermStateRead, true},
		{RoleViewer, PermSimulationDrive, false},
		{RoleViewer, PermEntityWrite, false},
		{RoleViewer, PermComposerManage, false},
		{RoleOperator, PermStateRead, true},
		{RoleOperator, PermSimulationDrive, true},
		{RoleOperator, PermEntityWrite, true},
		{RoleOperator, PermComposerManage, false},
		{RoleAdmin, PermComposerManage, true},
		{Role("owner"), PermStateRead, false},
	}
	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.grant {
			t.Errorf("HasPermission(%s, %s) = %v, want %v", tt.role, tt.perm, got, tt.grant)
		}
	}
}

func TestPermissionsForRole_ReturnsCopy(t *testing.T) {
	perms := PermissionsForRole(RoleAdmin)
	if len(perms) != 4 {
		t.Fatalf("PermissionsForRole(admin) = %v", perms)
	}
	perms[0] = "mutated"
	if !HasPermission(RoleAdmin, PermStateRead) {
		t.Error("mutating the result changed the role mapping")
	}
	if PermissionsForRole(Role("nobody")) != nil {
		t.Error("unknown role should have no permissions")
	}
}
