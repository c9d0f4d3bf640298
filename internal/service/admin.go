package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vmxmy/buttongate/internal/core"
	"github.com/vmxmy/buttongate/internal/repository"
)

// UpsertRuleParams carries one rule write. The rule's identity is the
// (scope, scope_key, button_type) tuple: writing a tuple that already exists
// replaces that rule in place.
type UpsertRuleParams struct {
	Scope          string                  `json:"scope"`
	ScopeKey       string                  `json:"scope_key"`
	ButtonType     string                  `json:"button_type"`
	Priority       int                     `json:"priority"`
	Conditions     json.RawMessage         `json:"conditions"`
	Availability   core.AvailabilityConfig `json:"availability_config"`
	EffectiveFrom  *time.Time              `json:"effective_from"`
	EffectiveUntil *time.Time              `json:"effective_until"`
	Description    string                  `json:"description"`
}

// UpsertRule validates params, persists the rule, synchronously rebuilds the
// snapshot, and publishes change events. Validation failures reject the write
// before anything is persisted. A write that persisted but could not rebuild
// returns a [RebuildError]; the row is durable and becomes visible on the
// next successful rebuild.
func (s *Service) UpsertRule(ctx context.Context, params UpsertRuleParams) (core.Rule, error) {
	rule, err := s.validateUpsert(ctx, params)
	if err != nil {
		return core.Rule{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	stored, err := s.repo.UpsertRule(ctx, rule)
	if err != nil {
		return core.Rule{}, fmt.Errorf("upsert rule: %w", err)
	}
	if err := s.Rebuild(ctx); err != nil {
		return core.Rule{}, err
	}

	s.publishRuleEventBestEffort(ctx, repository.EventUpserted, stored)
	s.notifier.broadcast(ChangeEvent{
		ButtonType: stored.ButtonType,
		Operation:  repository.EventUpserted,
		RuleID:     stored.ID,
		OccurredAt: s.now(),
	})
	return stored, nil
}

// DeleteRule removes a rule by ID, rebuilds the snapshot, and publishes
// change events. Returns [ErrRuleNotFound] when the ID does not exist.
func (s *Service) DeleteRule(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return &ValidationError{Field: "id", Reason: "required"}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deleted, err := s.repo.DeleteRule(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Rebuild(ctx); err != nil {
		return err
	}

	s.publishRuleEventBestEffort(ctx, repository.EventDeleted, deleted)
	s.notifier.broadcast(ChangeEvent{
		ButtonType: deleted.ButtonType,
		Operation:  repository.EventDeleted,
		RuleID:     deleted.ID,
		OccurredAt: s.now(),
	})
	return nil
}

// GetRule fetches one rule by ID, active or not.
func (s *Service) GetRule(ctx context.Context, id string) (core.Rule, error) {
	if strings.TrimSpace(id) == "" {
		return core.Rule{}, &ValidationError{Field: "id", Reason: "required"}
	}
	return s.repo.GetRule(ctx, id)
}

// ListRules lists every stored rule, including ones outside their effective
// window. Listings read the database, not the snapshot, so admins see what
// is stored rather than what is currently active.
func (s *Service) ListRules(ctx context.Context, buttonType string) ([]core.Rule, error) {
	if buttonType = strings.TrimSpace(buttonType); buttonType != "" {
		return s.repo.ListRulesForButton(ctx, buttonType)
	}
	return s.repo.ListRules(ctx)
}

// ListEventsSince returns the durable change feed after the given event ID,
// optionally filtered to one button type. It backs stream resumption.
func (s *Service) ListEventsSince(ctx context.Context, eventID int64, buttonType string) ([]repository.RuleEvent, error) {
	if buttonType = strings.TrimSpace(buttonType); buttonType != "" {
		return s.repo.ListEventsSinceForButton(ctx, eventID, buttonType)
	}
	return s.repo.ListEventsSince(ctx, eventID)
}

// SubscribeChanges delivers rule change events to an in-process consumer. An
// empty buttonType receives every change. The returned cancel func must be
// called to release the subscription.
func (s *Service) SubscribeChanges(buttonType string) (<-chan ChangeEvent, func()) {
	return s.notifier.subscribe(strings.TrimSpace(buttonType))
}

func (s *Service) validateUpsert(ctx context.Context, params UpsertRuleParams) (core.Rule, error) {
	buttonType := strings.TrimSpace(params.ButtonType)
	if buttonType == "" {
		return core.Rule{}, &ValidationError{Field: "button_type", Reason: "required"}
	}

	scope, err := core.ParseScope(params.Scope)
	if err != nil {
		return core.Rule{}, &ValidationError{Field: "scope", Reason: err.Error()}
	}

	scopeKey := strings.TrimSpace(params.ScopeKey)
	if scope == core.ScopeGlobal {
		if scopeKey != "" {
			return core.Rule{}, &ValidationError{Field: "scope_key", Reason: "must be empty for global rules"}
		}
	} else {
		if scopeKey == "" {
			return core.Rule{}, &ValidationError{Field: "scope_key", Reason: fmt.Sprintf("required for %s rules", scope)}
		}
		exists, err := s.repo.ScopeKeyExists(ctx, scope, scopeKey)
		if err != nil {
			return core.Rule{}, fmt.Errorf("check scope key: %w", err)
		}
		if !exists {
			return core.Rule{}, &ValidationError{Field: "scope_key", Reason: fmt.Sprintf("%s %q does not exist", scope, scopeKey)}
		}
	}

	conditions, err := core.ParseConditions(params.Conditions)
	if err != nil {
		return core.Rule{}, &ValidationError{Field: "conditions", Reason: err.Error()}
	}
	if unknown := core.UnknownOperators(conditions); len(unknown) > 0 {
		s.logger.Warn("rule carries unrecognized comparison operators; those nodes never match",
			"button_type", buttonType, "operators", unknown)
	}

	if _, ok := params.Availability.Available(); !ok {
		return core.Rule{}, &ValidationError{Field: "availability_config", Reason: `must carry a boolean "available"`}
	}

	if params.EffectiveFrom != nil && params.EffectiveUntil != nil && !params.EffectiveUntil.After(*params.EffectiveFrom) {
		return core.Rule{}, &ValidationError{Field: "effective_until", Reason: "must be after effective_from"}
	}

	return core.Rule{
		Scope:          scope,
		ScopeKey:       scopeKey,
		ButtonType:     buttonType,
		Priority:       params.Priority,
		Conditions:     params.Conditions,
		Availability:   params.Availability,
		EffectiveFrom:  params.EffectiveFrom,
		EffectiveUntil: params.EffectiveUntil,
		Description:    strings.TrimSpace(params.Description),
	}, nil
}

func (s *Service) publishRuleEventBestEffort(ctx context.Context, operation string, rule core.Rule) {
	// Mutations have already committed before events are published. A publish
	// failure is logged, never propagated, and never undoes the write.
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bestEffortTimeout)
	defer cancel()

	payload, err := json.Marshal(rule)
	if err != nil {
		s.logger.Error("marshal rule event payload",
			"operation", operation, "rule_id", rule.ID, "error", err)
		return
	}

	if _, err := s.repo.PublishRuleEvent(publishCtx, repository.RuleEvent{
		ButtonType: rule.ButtonType,
		Operation:  operation,
		Payload:    payload,
	}); err != nil {
		s.logger.Error("publish rule event",
			"operation", operation, "rule_id", rule.ID, "error", err)
		return
	}
	s.recordEventPublished(operation)
}
