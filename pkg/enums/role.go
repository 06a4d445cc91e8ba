package enums

import "slices"

// Role is the caller role carried in access tokens.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

var roles = []Role{RoleUser, RoleAdmin}

func (r Role) String() string { return string(r) }

func (r Role) IsValid() bool { return slices.Contains(roles, r) }

func ParseRole(value string) (Role, error) {
	return parseOneOf("role", value, roles)
}
