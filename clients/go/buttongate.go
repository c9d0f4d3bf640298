// Package buttongate provides client interfaces and domain types for the
// buttongate button availability service.
//
// Use the sub-package to create a transport-specific client:
//
//	import bghttp "github.com/vmxmy/buttongate/clients/go/http"
//
// Collaborator contract: availability results are point-in-time answers, not
// grants. A front end may cache a result only until the next ChangeEvent
// whose ButtonType matches (or until its own refresh interval elapses),
// then it must re-evaluate. Never treat a cached "available" as permission
// to skip server-side checks.
package buttongate

import (
	"context"
	"encoding/json"
	"time"
)

// Rule is one availability rule as stored by the server.
type Rule struct {
	ID             string          `json:"id"`
	Scope          string          `json:"scope"`
	ScopeKey       string          `json:"scope_key,omitempty"`
	ButtonType     string          `json:"button_type"`
	Priority       int             `json:"priority"`
	Conditions     json.RawMessage `json:"conditions,omitempty"`
	Availability   map[string]any  `json:"availability_config"`
	EffectiveFrom  *time.Time      `json:"effective_from,omitempty"`
	EffectiveUntil *time.Time      `json:"effective_until,omitempty"`
	Description    string          `json:"description,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// UpsertRuleParams creates or replaces the rule for one
// (scope, scope_key, button_type) tuple.
type UpsertRuleParams struct {
	Scope          string          `json:"scope"`
	ScopeKey       string          `json:"scope_key,omitempty"`
	ButtonType     string          `json:"button_type"`
	Priority       int             `json:"priority"`
	Conditions     json.RawMessage `json:"conditions,omitempty"`
	Availability   map[string]any  `json:"availability_config"`
	EffectiveFrom  *time.Time      `json:"effective_from,omitempty"`
	EffectiveUntil *time.Time      `json:"effective_until,omitempty"`
	Description    string          `json:"description,omitempty"`
}

// EvaluationContext identifies the requesting user and carries request-scoped
// attributes referenced by rule conditions.
type EvaluationContext struct {
	UserID       string
	DepartmentID string
	RoleName     string
	Attributes   map[string]any
}

// Result is the server's availability answer for one button type.
//
// Reason is "matched", "default" (no rule matched, fail-open), or
// "evaluation_error" (internal failure, fail-closed with Available false).
type Result struct {
	Available       bool           `json:"available"`
	Reason          string         `json:"reason"`
	MatchedScope    string         `json:"matched_scope,omitempty"`
	MatchedPriority *int           `json:"matched_priority,omitempty"`
	Config          map[string]any `json:"config,omitempty"`
	EvaluatedAt     time.Time      `json:"evaluated_at"`
	Error           string         `json:"error,omitempty"`
}

// ChangeEvent is a real-time notification of a rule change.
type ChangeEvent struct {
	Type    string // "upsert" | "delete" | "error"
	EventID int64
	Rule    *Rule // nil on error
}

// Evaluator answers button availability questions.
type Evaluator interface {
	Evaluate(ctx context.Context, buttonType string, evalCtx EvaluationContext) (Result, error)
	EvaluateBatch(ctx context.Context, buttonTypes []string, evalCtx EvaluationContext) (map[string]Result, error)
}

// RuleManager covers CRUD operations on availability rules.
type RuleManager interface {
	UpsertRule(ctx context.Context, params UpsertRuleParams) (Rule, error)
	GetRule(ctx context.Context, id string) (Rule, error)
	ListRules(ctx context.Context, buttonType string) ([]Rule, error)
	DeleteRule(ctx context.Context, id string) error
}

// Streamer delivers real-time rule change events. The returned channel is
// closed when ctx is cancelled or the connection drops; reconnect with the
// last observed EventID to resume without gaps.
type Streamer interface {
	Stream(ctx context.Context, lastEventID int64, buttonType string) (<-chan ChangeEvent, error)
}
