package access

// Role is the access level a user holds on a canvas. The main application
// writes it when a canvas is shared; the sync layer only reads it.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// CanSync reports whether the role admits a live editing session. Viewers
// read canvases through the main application's REST surface and never join
// rooms.
func (r Role) CanSync() bool {
	switch r {
	case RoleOwner, RoleEditor:
		return true
	default:
		return false
	}
}

// NormalizeRole maps unknown stored values to the weakest level.
func NormalizeRole(v string) Role {
	switch Role(v) {
	case RoleOwner, RoleEditor, RoleViewer:
		return Role(v)
	default:
		return RoleViewer
	}
}
