package navigation

import "github.com/flightdeck/flightdeck/internal/rbac"

// ItemsByRole returns the entries visible to the given roles, in declaration
// order. Duplicates by link are kept; use Dedupe or Menu for rendering.
func ItemsByRole(userRoles []rbac.RoleName) []Entry {
	return filter(entries, userRoles)
}

// Dedupe keeps the first entry for each link.
func Dedupe(list []Entry) []Entry {
	seen := make(map[string]struct{}, len(list))
	out := make([]Entry, 0, len(list))
	for _, e := range list {
		if _, ok := seen[e.Link]; ok {
			continue
		}
		seen[e.Link] = struct{}{}
		out = append(out, e)
	}
	return out
}

// Menu is the filtered, de-duplicated sidebar for the given roles.
func Menu(userRoles []rbac.RoleName) []Entry {
	return Dedupe(ItemsByRole(userRoles))
}

func filter(list []Entry, userRoles []rbac.RoleName) []Entry {
	if len(userRoles) == 0 {
		return []Entry{}
	}
	set := rbac.NewRoleSet(userRoles)
	out := make([]Entry, 0, len(list))
	for _, e := range list {
		if len(e.Roles) == 0 || set.HasAny(e.Roles...) {
			out = append(out, e)
		}
	}
	return out
}
