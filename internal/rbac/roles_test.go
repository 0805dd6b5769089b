package rbac

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedRole struct{ name string }

func (n namedRole) GetName() string { return n.name }

type panickyRole struct{}

func (panickyRole) GetName() string { panic("boom") }

func TestNormalizeRoleNameShapes(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want RoleName
	}{
		{"string", "  Admin ", "admin"},
		{"role name", RoleName("Super Admin"), "super admin"},
		{"string ref", StringRef("Instructor"), "instructor"},
		{"object ref", ObjectRef("Admin"), "admin"},
		{"object ref pointer", func() *RoleRef { r := ObjectRef("Student"); return &r }(), "student"},
		{"nil pointer", (*RoleRef)(nil), ""},
		{"named", namedRole{name: "ADMIN"}, "admin"},
		{"panicking name", panickyRole{}, ""},
		{"map", map[string]any{"name": "Student"}, "student"},
		{"map without name", map[string]any{"id": 3}, ""},
		{"nil", nil, ""},
		{"number", 42, ""},
		{"blank", "   ", ""},
		{"unicode", "ÉLÈVE", "élève"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeRoleName(tc.in))
		})
	}
}

func TestNormalizeRoleNameIdempotent(t *testing.T) {
	inputs := []any{"Super Admin", " admin", ObjectRef("Instructor"), StringRef("STUDENT"), map[string]any{"name": "Crew Chief"}, nil, 7}
	for _, in := range inputs {
		once := NormalizeRoleName(in)
		assert.Equal(t, once, NormalizeRoleName(once), "input %v", in)
	}
}

func TestObjectAndStringNormalizeIdentically(t *testing.T) {
	assert.Equal(t, NormalizeRoleName("admin"), NormalizeRoleName(ObjectRef("Admin")))
}

func TestRoleRefUnmarshalMixedShapes(t *testing.T) {
	var refs []RoleRef
	err := json.Unmarshal([]byte(`["Admin", {"name": "Instructor"}, {"id": 4}, 12, null, {"name": 5}]`), &refs)
	require.NoError(t, err)
	require.Len(t, refs, 6)

	assert.Equal(t, RefString, refs[0].Kind)
	assert.Equal(t, RefObject, refs[1].Kind)
	for _, r := range refs[2:] {
		assert.Equal(t, RefInvalid, r.Kind)
	}
	assert.Equal(t, []RoleName{"admin", "instructor", "", "", "", ""}, NormalizeRoles(refs))
}

func TestRoleRefMarshalKeepsShape(t *testing.T) {
	data, err := json.Marshal([]RoleRef{StringRef("Admin"), ObjectRef("Student"), {}})
	require.NoError(t, err)
	assert.JSONEq(t, `["Admin", {"name": "Student"}, null]`, string(data))
}

func TestHasRole(t *testing.T) {
	roles := []RoleName{"Instructor", "student"}
	assert.True(t, HasRole(roles, "instructor"))
	assert.True(t, HasRole(roles, "Admin", "STUDENT"))
	assert.False(t, HasRole(roles, "admin"))
	assert.False(t, HasRole(nil, "admin"))
	assert.False(t, HasRole(roles))
	assert.False(t, HasRole(roles, ""))
	assert.False(t, HasRole([]RoleName{""}, ""))
}

func TestAdminSuperAdminExclusive(t *testing.T) {
	superOnly := []RoleName{"Super Admin"}
	assert.True(t, IsSuperAdmin(superOnly))
	assert.False(t, IsAdmin(superOnly))

	adminOnly := []RoleName{"Admin"}
	assert.False(t, IsSuperAdmin(adminOnly))
	assert.True(t, IsAdmin(adminOnly))

	both := []RoleName{"Super Admin", "Admin"}
	assert.True(t, IsSuperAdmin(both))
	assert.False(t, IsAdmin(both))

	for _, alias := range []RoleName{"super-admin", "SuperAdmin", " SUPER ADMIN "} {
		assert.True(t, IsSuperAdmin([]RoleName{alias}), "alias %q", alias)
	}
}

func TestSuperAdminAliasesIsACopy(t *testing.T) {
	aliases := SuperAdminAliases()
	require.NotEmpty(t, aliases)
	assert.Contains(t, aliases, RoleSuperAdmin)
	aliases[0] = "student"
	assert.Equal(t, RoleSuperAdmin, SuperAdminAliases()[0])
	for _, alias := range SuperAdminAliases() {
		assert.True(t, IsSuperAdminName(alias), "alias %q", alias)
	}
}

func TestInstructorStudentPredicates(t *testing.T) {
	assert.True(t, IsInstructor([]RoleName{"INSTRUCTOR"}))
	assert.False(t, IsInstructor([]RoleName{"student"}))
	assert.True(t, IsStudent([]RoleName{"Student"}))
}

func TestPrimaryRole(t *testing.T) {
	cases := []struct {
		name   string
		roles  []RoleName
		want   RoleName
		wantOK bool
	}{
		{"empty", nil, "", false},
		{"super admin wins", []RoleName{"Student", "Admin", "super-admin"}, "super-admin", true},
		{"admin over instructor", []RoleName{"Instructor", "Admin"}, "admin", true},
		{"instructor over student", []RoleName{"student", "instructor"}, "instructor", true},
		{"unknown falls back to first", []RoleName{"Dispatcher", "Mechanic"}, "dispatcher", true},
		{"known beats unknown", []RoleName{"Dispatcher", "Student"}, "student", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := PrimaryRole(tc.roles)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTierOrdering(t *testing.T) {
	order := []Tier{TierNone, TierOther, TierStudent, TierInstructor, TierAdmin, TierSuperAdmin}
	for i := 1; i < len(order); i++ {
		assert.Equal(t, 1, order[i].Compare(order[i-1]))
		assert.Equal(t, -1, order[i-1].Compare(order[i]))
	}
	assert.Equal(t, 0, TierAdmin.Compare(TierAdmin))
	assert.Equal(t, TierSuperAdmin, PrimaryTier([]RoleName{"Admin", "SuperAdmin"}))
	assert.Equal(t, TierNone, PrimaryTier(nil))
}

func TestPermissionHelpers(t *testing.T) {
	granted := []string{"Users.View", " roles.edit ", ""}
	assert.True(t, HasAnyPermission(granted, []string{"users.view", "billing.view"}))
	assert.False(t, HasAllPermissions(granted, []string{"users.view", "billing.view"}))
	assert.True(t, HasAllPermissions(granted, []string{"ROLES.EDIT"}))
	assert.True(t, HasAnyPermission(nil, nil))
	assert.Equal(t, []string{"a", "b"}, NormalizePermissions([]string{"A", " b", "a", ""}))

	set := NewPermissionSet(granted)
	assert.True(t, set.Has("users.view"))
	assert.False(t, set.Has(""))
}
