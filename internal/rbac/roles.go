package rbac

// HasRole reports whether any of the user's roles matches any of the
// required roles after normalization.
func HasRole(userRoles []RoleName, required ...RoleName) bool {
	if len(userRoles) == 0 || len(required) == 0 {
		return false
	}
	set := roleSet(userRoles)
	return set.hasAny(required...)
}

// IsSuperAdmin reports whether the roles contain a Super Admin alias.
func IsSuperAdmin(userRoles []RoleName) bool {
	return HasRole(userRoles, superAdminAliases...)
}

// IsAdmin reports whether the roles contain admin. A Super Admin is never an
// Admin, even when the roles also list admin.
func IsAdmin(userRoles []RoleName) bool {
	return HasRole(userRoles, RoleAdmin) && !IsSuperAdmin(userRoles)
}

// IsInstructor reports whether the roles contain instructor.
func IsInstructor(userRoles []RoleName) bool {
	return HasRole(userRoles, RoleInstructor)
}

// IsStudent reports whether the roles contain student.
func IsStudent(userRoles []RoleName) bool {
	return HasRole(userRoles, RoleStudent)
}

// IsSuperAdminName reports whether a single name is a Super Admin alias.
func IsSuperAdminName(name RoleName) bool {
	n := name.Normalized()
	for _, alias := range superAdminAliases {
		if n == alias {
			return true
		}
	}
	return false
}

// RoleSet is a normalized lookup set of role names.
type RoleSet map[RoleName]struct{}

// NewRoleSet normalizes roles into a set, skipping empty names.
func NewRoleSet(roles []RoleName) RoleSet {
	return roleSet(roles)
}

func roleSet(roles []RoleName) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		n := r.Normalized()
		if n == "" {
			continue
		}
		set[n] = struct{}{}
	}
	return set
}

// Has reports whether the set contains the normalized role.
func (s RoleSet) Has(role RoleName) bool {
	n := role.Normalized()
	if n == "" {
		return false
	}
	_, ok := s[n]
	return ok
}

func (s RoleSet) hasAny(required ...RoleName) bool {
	for _, r := range required {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// HasAny reports whether the set contains at least one of the roles.
func (s RoleSet) HasAny(required ...RoleName) bool {
	return s.hasAny(required...)
}
