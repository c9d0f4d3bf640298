package service

import (
	"fmt"

	"github.com/vmxmy/buttongate/internal/repository"
)

// ErrRuleNotFound reports a lookup or delete for a rule ID that does not
// exist. It aliases the repository sentinel so callers can match with
// errors.Is at either layer.
var ErrRuleNotFound = repository.ErrRuleNotFound

// ValidationError rejects a rule write before anything is persisted. Field
// names the offending input field in its wire spelling.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RebuildError reports a write whose database mutation committed but whose
// snapshot rebuild failed. The previous snapshot keeps serving reads and the
// committed change becomes visible on the next successful rebuild.
type RebuildError struct {
	Err error
}

func (e *RebuildError) Error() string {
	return fmt.Sprintf("snapshot rebuild failed: %v", e.Err)
}

func (e *RebuildError) Unwrap() error {
	return e.Err
}
