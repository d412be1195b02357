// Package actor describes the identity performing an operation. Actors are
// resolved from the external user directory per request and never persisted
// by this service.
package actor

import "strings"

// Role is the closed set of roles the user directory can report.
type Role string

const (
	RoleClient  Role = "CLIENT"
	RoleManager Role = "MANAGER"
	RoleAdmin   Role = "ADMIN"
)

// ParseRole maps a directory role string onto the closed enumeration.
// Unknown or empty strings degrade to CLIENT; the directory must never be
// able to grant rights through a typo.
func ParseRole(raw string) Role {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.TrimPrefix(normalized, "ROLE_")
	switch Role(normalized) {
	case RoleManager:
		return RoleManager
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleClient
	}
}

// Elevated reports whether the role carries manager-or-above rights.
func (r Role) Elevated() bool {
	return r == RoleManager || r == RoleAdmin
}

// Actor is a resolved identity/role pair.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}
