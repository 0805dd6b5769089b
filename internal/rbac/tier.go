package rbac

// Tier ranks roles for picking a principal's primary role.
type Tier uint8

const (
	TierNone Tier = iota
	TierOther
	TierStudent
	TierInstructor
	TierAdmin
	TierSuperAdmin
)

// Compare returns -1, 0 or 1 when t ranks below, equal to or above o.
func (t Tier) Compare(o Tier) int {
	switch {
	case t < o:
		return -1
	case t > o:
		return 1
	default:
		return 0
	}
}

// Label is the display name of the tier.
func (t Tier) Label() string {
	switch t {
	case TierSuperAdmin:
		return "Super Admin"
	case TierAdmin:
		return "Admin"
	case TierInstructor:
		return "Instructor"
	case TierStudent:
		return "Student"
	case TierOther:
		return "Member"
	default:
		return ""
	}
}

// TierOf classifies a single role name.
func TierOf(name RoleName) Tier {
	n := name.Normalized()
	switch {
	case n == "":
		return TierNone
	case IsSuperAdminName(n):
		return TierSuperAdmin
	case n == RoleAdmin:
		return TierAdmin
	case n == RoleInstructor:
		return TierInstructor
	case n == RoleStudent:
		return TierStudent
	default:
		return TierOther
	}
}

// PrimaryRole returns the highest ranked role. When no role is recognised the
// first role is returned; ok is false only for an empty list.
func PrimaryRole(userRoles []RoleName) (RoleName, bool) {
	if len(userRoles) == 0 {
		return "", false
	}
	best := userRoles[0]
	bestTier := TierOf(best)
	for _, r := range userRoles[1:] {
		if t := TierOf(r); t.Compare(bestTier) > 0 {
			best, bestTier = r, t
		}
	}
	if bestTier <= TierOther {
		return userRoles[0].Normalized(), true
	}
	return best.Normalized(), true
}

// PrimaryTier is the tier of PrimaryRole.
func PrimaryTier(userRoles []RoleName) Tier {
	role, ok := PrimaryRole(userRoles)
	if !ok {
		return TierNone
	}
	return TierOf(role)
}
