// Package navigation holds the static sidebar definition and its role filter.
package navigation

import "github.com/flightdeck/flightdeck/internal/rbac"

// BadgeComingSoon marks entries that are listed but not yet navigable.
const BadgeComingSoon = "Coming Soon"

// Entry is one sidebar item. An entry without roles is visible to everyone.
type Entry struct {
	Icon       string          `json:"icon"`
	Label      string          `json:"label"`
	Link       string          `json:"link"`
	Roles      []rbac.RoleName `json:"roles,omitempty"`
	Badge      string          `json:"badge,omitempty"`
	BadgeColor string          `json:"badgeColor,omitempty"`
}

// Disabled reports whether the entry should render as non-navigable.
func (e Entry) Disabled() bool {
	return e.Badge == BadgeComingSoon
}

var (
	superAdmin = rbac.RoleName("Super Admin")
	admin      = rbac.RoleName("Admin")
	instructor = rbac.RoleName("Instructor")
	student    = rbac.RoleName("Student")
)

// entries is declaration ordered. Entries sharing a link are role-specific
// variants; the first visible one wins.
var entries = []Entry{
	{Icon: "layout-dashboard", Label: "Dashboard", Link: "/dashboard"},
	{Icon: "users", Label: "User Management", Link: "/user-management", Roles: []rbac.RoleName{superAdmin}},
	{Icon: "user-cog", Label: "Organization Users", Link: "/user-management", Roles: []rbac.RoleName{admin}},
	{Icon: "shield-check", Label: "Roles & Permissions", Link: "/permissions", Roles: []rbac.RoleName{superAdmin, admin}},
	{Icon: "calendar", Label: "Calendar", Link: "/calendar", Roles: []rbac.RoleName{admin, instructor, student}},
	{Icon: "inbox", Label: "Inbox", Link: "/inbox"},
	{Icon: "book-open", Label: "Lessons", Link: "/lessons", Roles: []rbac.RoleName{admin, instructor, student}},
	{Icon: "notebook-pen", Label: "Logbook", Link: "/logbook", Roles: []rbac.RoleName{instructor, student}},
	{Icon: "plane", Label: "Aircraft Profile", Link: "/aircraft", Roles: []rbac.RoleName{admin, instructor}},
	{Icon: "megaphone", Label: "Announcements", Link: "/announcements", Roles: []rbac.RoleName{superAdmin, admin}},
	{Icon: "credit-card", Label: "Subscriptions", Link: "/subscriptions", Roles: []rbac.RoleName{superAdmin}},
	{Icon: "chart-bar", Label: "Reports", Link: "/reports", Roles: []rbac.RoleName{superAdmin, admin}, Badge: BadgeComingSoon, BadgeColor: "amber"},
	{Icon: "life-buoy", Label: "Support", Link: "/support"},
	{Icon: "settings", Label: "Settings", Link: "/settings"},
}

// Entries returns a copy of the static navigation list.
func Entries() []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Links returns every distinct link in declaration order.
func Links() []string {
	return links(Dedupe(entries))
}

func links(list []Entry) []string {
	out := make([]string, 0, len(list))
	for _, e := range list {
		out = append(out, e.Link)
	}
	return out
}
