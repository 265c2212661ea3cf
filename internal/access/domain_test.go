package access_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opsdeck/opsdeck/internal/access"
	_ "github.com/opsdeck/opsdeck/testing"
)

func TestParseRole(t *testing.T) {
	role, err := access.ParseRole("super_admin")
	require.NoError(t, err)
	require.Equal(t, access.RoleSuperAdmin, role)

	_, err = access.ParseRole("root")
	require.Error(t, err)

	_, err = access.ParseRole("")
	require.Error(t, err)
}

func TestRoleOrder(t *testing.T) {
	require.True(t, access.RoleSuperAdmin.AtLeast(access.RoleAdmin))
	require.True(t, access.RoleManager.AtLeast(access.RoleManager))
	require.False(t, access.RoleSupervisor.AtLeast(access.RoleManager))
	require.True(t, access.RoleStaff.AtLeast(access.RoleStaff))
}

func TestEffectiveRole(t *testing.T) {
	assignments := []access.RoleAssignment{
		{ID: "a", Role: access.RoleStaff},
		{ID: "b", Role: access.RoleManager},
	}
	require.Equal(t, access.RoleManager, access.EffectiveRole(assignments))
	require.Equal(t, access.RoleStaff, access.EffectiveRole(nil))
}

func TestCanAccessDepartment(t *testing.T) {
	snap := &access.Snapshot{
		Roles: []access.RoleAssignment{
			{ID: "a", Role: access.RoleSupervisor, DepartmentID: "warehouse"},
		},
		Grants: []access.DepartmentGrant{
			{DepartmentID: "fleet"},
		},
		EffectiveRole: access.RoleSupervisor,
	}
	require.True(t, snap.CanAccessDepartment("warehouse"))
	require.True(t, snap.CanAccessDepartment("fleet"))
	require.False(t, snap.CanAccessDepartment("it"))

	director := &access.Snapshot{EffectiveRole: access.RoleDirector}
	require.True(t, director.CanAccessDepartment("it"))

	super := &access.Snapshot{EffectiveRole: access.RoleSuperAdmin}
	require.True(t, super.CanAccessDepartment("anything"))
}

func TestAccessibleDepartments(t *testing.T) {
	snap := &access.Snapshot{
		Roles: []access.RoleAssignment{
			{ID: "a", Role: access.RoleStaff, DepartmentID: "office"},
			{ID: "b", Role: access.RoleManager, DepartmentID: "warehouse"},
		},
		Grants: []access.DepartmentGrant{
			{DepartmentID: "fleet"},
			{DepartmentID: "warehouse"},
		},
	}
	deps := snap.AccessibleDepartments()
	// Primary department comes from the highest-priority assignment.
	require.Equal(t, []string{"warehouse", "fleet"}, deps)
}
