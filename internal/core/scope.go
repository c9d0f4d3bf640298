package core

import "fmt"

// Scope identifies how broadly a rule applies. The set is closed: rules
// target everyone, a department, a role, or a single user.
type Scope string

const (
	ScopeGlobal     Scope = "global"
	ScopeDepartment Scope = "department"
	ScopeRole       Scope = "role"
	ScopeUser       Scope = "user"
)

// ParseScope converts a stored or submitted scope name into a [Scope].
func ParseScope(value string) (Scope, error) {
	switch scope := Scope(value); scope {
	case ScopeGlobal, ScopeDepartment, ScopeRole, ScopeUser:
		return scope, nil
	default:
		return "", fmt.Errorf("unknown scope %q", value)
	}
}

// Weight orders scopes broad to narrow. Lower weights evaluate first, so a
// matching global rule shadows any narrower rule for the same button. Unknown
// scopes weigh 0 and are rejected before they reach resolution.
func (s Scope) Weight() int {
	switch s {
	case ScopeGlobal:
		return 1
	case ScopeDepartment:
		return 2
	case ScopeRole:
		return 3
	case ScopeUser:
		return 4
	default:
		return 0
	}
}

// Valid reports whether s is one of the four defined scopes.
func (s Scope) Valid() bool {
	return s.Weight() != 0
}

// AppliesTo reports whether a rule with this scope and scopeKey governs the
// actor in ectx. Global rules apply to everyone; the narrower scopes require
// the matching identity field to equal the scope key.
func (s Scope) AppliesTo(scopeKey string, ectx EvaluationContext) bool {
	switch s {
	case ScopeGlobal:
		return true
	case ScopeDepartment:
		return scopeKey != "" && ectx.DepartmentID == scopeKey
	case ScopeRole:
		return scopeKey != "" && ectx.RoleName == scopeKey
	case ScopeUser:
		return scopeKey != "" && ectx.UserID == scopeKey
	default:
		return false
	}
}
