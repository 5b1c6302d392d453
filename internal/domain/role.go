package domain

import "strings"

type Role string

const (
	RoleFieldWorker    Role = "field_worker"
	RoleProjectManager Role = "project_manager"
	RoleHQManagement   Role = "hq_management"
	RoleExecutive      Role = "executive"
	RoleAdmin          Role = "admin"
)

// DefaultRole is applied to unauthenticated callers and unrecognized role names.
const DefaultRole = RoleFieldWorker

var knownRoles = []Role{
	RoleFieldWorker,
	RoleProjectManager,
	RoleHQManagement,
	RoleExecutive,
	RoleAdmin,
}

func KnownRoles() []Role {
	out := make([]Role, len(knownRoles))
	copy(out, knownRoles)
	return out
}

func (r Role) Valid() bool {
	switch r {
	case RoleFieldWorker, RoleProjectManager, RoleHQManagement, RoleExecutive, RoleAdmin:
		return true
	default:
		return false
	}
}

// ParseRole maps a stored role name onto a known role, falling back to DefaultRole.
func ParseRole(raw string) Role {
	r := Role(strings.TrimSpace(strings.ToLower(raw)))
	if r.Valid() {
		return r
	}
	return DefaultRole
}

func (r Role) String() string { return string(r) }
