package core

import (
	"encoding/json"
	"time"
)

// ContextFieldUserID and friends are the well-known field names conditions may
// reference to reach the identity portion of an [EvaluationContext].
const (
	ContextFieldUserID       = "userId"
	ContextFieldDepartmentID = "departmentId"
	ContextFieldRoleName     = "roleName"
)

// AvailabilityConfig is the payload a matching rule contributes to the
// decision. It always carries "available"; anything else (tooltip text,
// required form fields, arbitrary hints) passes through to the caller intact.
type AvailabilityConfig map[string]any

// Available returns the payload's decision bit. ok is false when the key is
// missing or not a boolean.
func (c AvailabilityConfig) Available() (value, ok bool) {
	value, ok = c["available"].(bool)
	return value, ok
}

// Rule is one availability rule for a button. At most one rule exists per
// (scope, scope key, button type); upserts replace in place and keep the ID.
type Rule struct {
	ID             string             `json:"id"`
	Scope          Scope              `json:"scope"`
	ScopeKey       string             `json:"scope_key,omitempty"`
	ButtonType     string             `json:"button_type"`
	Priority       int                `json:"priority"`
	Conditions     json.RawMessage    `json:"conditions,omitempty"`
	Availability   AvailabilityConfig `json:"availability_config"`
	EffectiveFrom  *time.Time         `json:"effective_from,omitempty"`
	EffectiveUntil *time.Time         `json:"effective_until,omitempty"`
	Description    string             `json:"description,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// ActiveAt reports whether t falls inside the rule's effective window. The
// window is half open: [from, until). A nil bound is unbounded on that side.
func (r Rule) ActiveAt(t time.Time) bool {
	if r.EffectiveFrom != nil && t.Before(*r.EffectiveFrom) {
		return false
	}
	if r.EffectiveUntil != nil && !t.Before(*r.EffectiveUntil) {
		return false
	}
	return true
}

// EvaluationContext is the caller-supplied picture of the actor and moment a
// decision is made for. Identity fields drive scope applicability; Attributes
// carry everything conditions compare against.
type EvaluationContext struct {
	UserID       string         `json:"user_id,omitempty"`
	DepartmentID string         `json:"department_id,omitempty"`
	RoleName     string         `json:"role_name,omitempty"`
	Now          time.Time      `json:"-"`
	Attributes   map[string]any `json:"context,omitempty"`
}

// Lookup resolves a condition field. Caller attributes win; the identity
// fields are reachable under their well-known names when not shadowed.
func (c EvaluationContext) Lookup(field string) (any, bool) {
	if value, ok := c.Attributes[field]; ok {
		return value, true
	}
	switch field {
	case ContextFieldUserID:
		if c.UserID != "" {
			return c.UserID, true
		}
	case ContextFieldDepartmentID:
		if c.DepartmentID != "" {
			return c.DepartmentID, true
		}
	case ContextFieldRoleName:
		if c.RoleName != "" {
			return c.RoleName, true
		}
	}
	return nil, false
}

// Clock returns the evaluation instant, defaulting to wall-clock time when
// the caller did not pin one.
func (c EvaluationContext) Clock() time.Time {
	if c.Now.IsZero() {
		return time.Now()
	}
	return c.Now
}
