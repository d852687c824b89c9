package auth

import (
	"fmt"
	"strings"
)

// Role identifies the kind of principal a token was issued for. The set is
// closed: every protected route names the roles it permits and the middleware
// resolves the matching identity record before the handler runs.
type Role string

const (
	RoleDoctor       Role = "doctor"
	RolePatient      Role = "patient"
	RoleMedicalOwner Role = "medicalOwner"
	RoleSubAdmin     Role = "subAdmin"
)

// ParseRole normalizes a role claim case-insensitively. Unknown values are
// rejected rather than passed through.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "doctor":
		return RoleDoctor, nil
	case "patient":
		return RolePatient, nil
	case "medicalowner", "owner":
		return RoleMedicalOwner, nil
	case "subadmin":
		return RoleSubAdmin, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// ContextKey returns the echo context key under which the resolved identity
// record for this role is stored.
func (r Role) ContextKey() string {
	switch r {
	case RoleDoctor:
		return "doctor"
	case RolePatient:
		return "patient"
	case RoleMedicalOwner:
		return "medicalOwner"
	case RoleSubAdmin:
		return "subAdmin"
	default:
		return string(r)
	}
}

func (r Role) String() string { return string(r) }
