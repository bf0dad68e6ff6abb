package domain

// Role is the account role carried by a connection token.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleUser    Role = "USER"
)

// PrivilegedRoles are the roles that join the elevated room.
var PrivilegedRoles = []Role{RoleAdmin, RoleManager}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleUser:
		return true
	default:
		return false
	}
}

func (r Role) IsPrivileged() bool {
	for _, p := range PrivilegedRoles {
		if r == p {
			return true
		}
	}
	return false
}

// Claim is the verified identity attached to a connection. It never changes
// after the handshake.
type Claim struct {
	SubjectID   string `json:"id"`
	Role        Role   `json:"role"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"name,omitempty"`
}

// Rooms returns the rooms a connection with this claim joins.
func (c Claim) Rooms() []Room {
	if c.Role.IsPrivileged() {
		return []Room{RoomElevated, RoomGeneral}
	}
	return []Room{RoomGeneral}
}
