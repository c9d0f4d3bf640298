package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/vmxmy/buttongate/internal/core"
)

// Evaluate decides availability for one button. Candidates are tried broad to
// narrow (global first), then by ascending priority; the first rule whose
// conditions hold decides. No match falls open to available with reason
// "default".
//
// Evaluate never returns an error. Internal faults fail closed: the result is
// unavailable with reason "evaluation_error" and an error string for the
// caller to surface.
func (s *Service) Evaluate(ctx context.Context, buttonType string, ectx core.EvaluationContext) core.AvailabilityResult {
	snapshot := s.snapshot.Load()
	result := s.evaluateWithSnapshot(ctx, snapshot, buttonType, ectx)
	s.recordEvaluation(result.Reason)
	return result
}

// EvaluateMany decides availability for several buttons against one pinned
// snapshot, so a batch is never split across a concurrent rule write.
func (s *Service) EvaluateMany(ctx context.Context, buttonTypes []string, ectx core.EvaluationContext) map[string]core.AvailabilityResult {
	snapshot := s.snapshot.Load()

	results := make(map[string]core.AvailabilityResult, len(buttonTypes))
	for _, buttonType := range buttonTypes {
		result := s.evaluateWithSnapshot(ctx, snapshot, buttonType, ectx)
		s.recordEvaluation(result.Reason)
		results[buttonType] = result
	}
	return results
}

func (s *Service) evaluateWithSnapshot(ctx context.Context, snapshot *Snapshot, buttonType string, ectx core.EvaluationContext) (result core.AvailabilityResult) {
	if ectx.Now.IsZero() {
		ectx.Now = s.now()
	}
	at := ectx.Now

	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("evaluation panic",
				"button_type", buttonType, "panic", recovered)
			result = core.ErrorResult(fmt.Errorf("internal fault: %v", recovered), at)
		}
	}()

	if err := ctx.Err(); err != nil {
		return core.ErrorResult(err, at)
	}
	if snapshot == nil {
		return core.ErrorResult(errors.New("rule snapshot not initialized"), at)
	}

	for _, cand := range snapshot.candidates(buttonType) {
		if !cand.rule.Scope.AppliesTo(cand.rule.ScopeKey, ectx) {
			continue
		}
		if s.evaluator.Evaluate(cand.conditions, ectx) {
			return core.MatchedResult(cand.rule, at)
		}
	}

	return core.DefaultResult(at)
}
