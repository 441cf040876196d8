package auth

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidRole = errors.New("invalid role")

// Role is the closed set of capabilities a principal can hold.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// ParseRole validates a role name at the boundary. Matching is
// case-insensitive and tolerates the legacy "ROLE_" prefix.
func ParseRole(s string) (Role, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "ROLE_")
	switch Role(name) {
	case RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// Satisfies reports whether r grants the capabilities of required.
// ADMIN is a superset of USER.
func (r Role) Satisfies(required Role) bool {
	switch r {
	case RoleAdmin:
		return required == RoleAdmin || required == RoleUser
	case RoleUser:
		return required == RoleUser
	}
	return false
}

func (r Role) String() string { return string(r) }
