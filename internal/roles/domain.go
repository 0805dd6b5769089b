package roles

import (
	"errors"
	"fmt"

	"github.com/flightdeck/flightdeck/internal/platform/httpx"
	"github.com/flightdeck/flightdeck/internal/rbac"
)

var (
	// ErrNotFound indicates the role does not exist in the catalog.
	ErrNotFound = fmt.Errorf("roles: %w", httpx.ErrNotFound)
	// ErrProtectedRole is returned when changing or deleting the Super Admin role.
	ErrProtectedRole = fmt.Errorf("roles: super admin role is protected: %w", httpx.ErrForbidden)
	// ErrInvalidName rejects an empty role name.
	ErrInvalidName = fmt.Errorf("roles: name is required: %w", httpx.ErrValidation)
	// ErrInvalidPermission rejects an empty permission name.
	ErrInvalidPermission = fmt.Errorf("roles: permission is required: %w", httpx.ErrValidation)
	// ErrNoSession is returned by operations that need a signed-in principal.
	ErrNoSession = errors.New("roles: no authenticated session")
)

// Entry is a role in the backend catalog. A nil AdminIdentifyID marks a
// system role shared by every organization.
type Entry struct {
	ID              int64    `json:"id"`
	Name            string   `json:"name"`
	Permissions     []string `json:"permissions"`
	AdminIdentifyID *int64   `json:"admin_identify_id,omitempty"`
}

// Normalized returns the canonical role name.
func (e Entry) Normalized() rbac.RoleName {
	return rbac.NormalizeRoleName(e.Name)
}

// IsSuperAdmin reports whether the role is a Super Admin alias.
func (e Entry) IsSuperAdmin() bool {
	return rbac.IsSuperAdminName(e.Normalized())
}

// IsSystem reports whether the role belongs to no organization.
func (e Entry) IsSystem() bool {
	return e.AdminIdentifyID == nil
}

// IsSharedSystem reports whether the role is the system instructor or
// student role every organization starts from.
func (e Entry) IsSharedSystem() bool {
	if !e.IsSystem() {
		return false
	}
	n := e.Normalized()
	return n == rbac.RoleInstructor || n == rbac.RoleStudent
}

// Deletable reports whether the role may be removed.
func (e Entry) Deletable() bool {
	return !e.IsSuperAdmin()
}

// OwnedBy reports whether the role is an organization copy owned by orgID.
func (e Entry) OwnedBy(orgID int64) bool {
	return e.AdminIdentifyID != nil && *e.AdminIdentifyID == orgID
}

// HasPermission reports whether the role grants the permission.
func (e Entry) HasPermission(permission string) bool {
	return rbac.NewPermissionSet(e.Permissions).Has(permission)
}

// WithPermission returns the permission list with permission added or
// removed. The receiver is not modified.
func (e Entry) WithPermission(permission string, enabled bool) []string {
	p := rbac.NormalizePermission(permission)
	out := make([]string, 0, len(e.Permissions)+1)
	for _, existing := range e.Permissions {
		if rbac.NormalizePermission(existing) == p {
			continue
		}
		out = append(out, existing)
	}
	if enabled && p != "" {
		out = append(out, p)
	}
	return out
}

func (e Entry) clone() Entry {
	cp := e
	cp.Permissions = append([]string(nil), e.Permissions...)
	if e.AdminIdentifyID != nil {
		id := *e.AdminIdentifyID
		cp.AdminIdentifyID = &id
	}
	return cp
}

func cloneEntries(list []Entry) []Entry {
	out := make([]Entry, len(list))
	for i, e := range list {
		out[i] = e.clone()
	}
	return out
}

// Draft describes a role to create.
type Draft struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// UpdateKind discriminates the outcome of a permission update.
type UpdateKind uint8

const (
	// UpdateApplied means the backend changed the role in place.
	UpdateApplied UpdateKind = iota
	// UpdateForked means the backend created an organization copy of a
	// shared system role instead of changing it.
	UpdateForked
)

func (k UpdateKind) String() string {
	if k == UpdateForked {
		return "forked"
	}
	return "applied"
}

// Update is the result of changing a role's permissions. PreviousID is set
// only for UpdateForked and names the shared role the copy replaces.
type Update struct {
	Kind       UpdateKind
	Role       Entry
	PreviousID int64
}

// Applied builds an in-place update.
func Applied(role Entry) Update {
	return Update{Kind: UpdateApplied, Role: role}
}

// Forked builds an update that replaced previousID with an organization copy.
func Forked(previousID int64, role Entry) Update {
	return Update{Kind: UpdateForked, Role: role, PreviousID: previousID}
}
