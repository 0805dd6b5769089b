package shared

// Dashboard permissions granted to roles by the backend.
const (
	PermUsersView = "users.view"
	PermUsersEdit = "users.edit"

	PermRolesView = "roles.view"
	PermRolesEdit = "roles.edit"

	PermLessonsView    = "lessons.view"
	PermLessonsEdit    = "lessons.edit"
	PermLogbookView    = "logbook.view"
	PermAircraftView   = "aircraft.view"
	PermAnnouncements  = "announcements.manage"
	PermSubscriptions  = "subscriptions.manage"
	PermSupportTickets = "support.tickets"
)

// CoreScopes lists the permissions the permission matrix always shows, even
// when the backend catalog omits them.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersEdit,
		PermRolesView,
		PermRolesEdit,
		PermLessonsView,
		PermLessonsEdit,
		PermLogbookView,
		PermAircraftView,
		PermAnnouncements,
		PermSubscriptions,
		PermSupportTickets,
	}
}
