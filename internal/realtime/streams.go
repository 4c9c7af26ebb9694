package realtime

// Named realtime streams and the events published on them.
const (
	StreamPermissions = "permissions"

	EventPermissionsChanged = "permissions.changed"
	EventSessionLogout      = "session.logout"
)
