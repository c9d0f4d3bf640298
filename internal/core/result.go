package core

import "time"

// Reasons an [AvailabilityResult] can carry. Matched means a rule decided,
// default means no applicable rule matched and the engine fell open to
// available, and evaluation error means an internal fault forced the safe
// answer of unavailable.
const (
	ReasonMatched         = "matched"
	ReasonDefault         = "default"
	ReasonEvaluationError = "evaluation_error"
)

// AvailabilityResult is the engine's answer for one button. It is always
// well formed: resolution failures surface here as a fail-closed result, not
// as an error return.
type AvailabilityResult struct {
	Available       bool           `json:"available"`
	Reason          string         `json:"reason"`
	MatchedScope    Scope          `json:"matched_scope,omitempty"`
	MatchedPriority *int           `json:"matched_priority,omitempty"`
	Config          map[string]any `json:"config,omitempty"`
	EvaluatedAt     time.Time      `json:"evaluated_at"`
	Error           string         `json:"error,omitempty"`
}

// MatchedResult builds the result for a rule whose conditions held.
func MatchedResult(rule Rule, at time.Time) AvailabilityResult {
	available, _ := rule.Availability.Available()
	priority := rule.Priority
	return AvailabilityResult{
		Available:       available,
		Reason:          ReasonMatched,
		MatchedScope:    rule.Scope,
		MatchedPriority: &priority,
		Config:          rule.Availability,
		EvaluatedAt:     at,
	}
}

// DefaultResult is the fail-open answer when no applicable rule matches.
func DefaultResult(at time.Time) AvailabilityResult {
	return AvailabilityResult{
		Available:   true,
		Reason:      ReasonDefault,
		EvaluatedAt: at,
	}
}

// ErrorResult is the fail-closed answer for internal resolution faults.
func ErrorResult(err error, at time.Time) AvailabilityResult {
	result := AvailabilityResult{
		Available:   false,
		Reason:      ReasonEvaluationError,
		EvaluatedAt: at,
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}
