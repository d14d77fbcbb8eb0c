package model

import "time"

// Role is a membership tier inside a Group or Community.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Rank orders roles; higher outranks lower.
func (r Role) Rank() int {
	switch r {
	case RoleOwner:
		return 2
	case RoleAdmin:
		return 1
	case RoleMember:
		return 0
	}
	return -1
}

// Valid reports whether r is one of the three tiers.
func (r Role) Valid() bool { return r.Rank() >= 0 }

// MemberRole binds a user to a role.
type MemberRole struct {
	UserID   string    `json:"user"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinTime"`
}
