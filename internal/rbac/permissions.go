package rbac

import "strings"

// NormalizePermission trims and lowercases a permission name.
func NormalizePermission(p string) string {
	return strings.TrimSpace(strings.ToLower(p))
}

// NormalizePermissions returns the unique, non-empty normalized permissions
// in first-seen order.
func NormalizePermissions(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = NormalizePermission(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}

// PermissionSet is a normalized lookup set of permission names.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a PermissionSet from raw names.
func NewPermissionSet(perms []string) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range NormalizePermissions(perms) {
		set[p] = struct{}{}
	}
	return set
}

// Has reports whether the permission is granted.
func (s PermissionSet) Has(perm string) bool {
	p := NormalizePermission(perm)
	if p == "" {
		return false
	}
	_, ok := s[p]
	return ok
}

// HasAnyPermission reports whether granted contains at least one required
// permission. An empty requirement is always satisfied.
func HasAnyPermission(granted []string, required []string) bool {
	required = NormalizePermissions(required)
	if len(required) == 0 {
		return true
	}
	set := NewPermissionSet(granted)
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether granted contains every required
// permission.
func HasAllPermissions(granted []string, required []string) bool {
	required = NormalizePermissions(required)
	if len(required) == 0 {
		return true
	}
	set := NewPermissionSet(granted)
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}
