package server

import (
	"context"

	"github.com/vmxmy/buttongate/internal/core"
	"github.com/vmxmy/buttongate/internal/repository"
	"github.com/vmxmy/buttongate/internal/service"
)

type Service interface {
	UpsertRule(ctx context.Context, params service.UpsertRuleParams) (core.Rule, error)
	GetRule(ctx context.Context, id string) (core.Rule, error)
	ListRules(ctx context.Context, buttonType string) ([]core.Rule, error)
	DeleteRule(ctx context.Context, id string) error
	Evaluate(ctx context.Context, buttonType string, ectx core.EvaluationContext) core.AvailabilityResult
	EvaluateMany(ctx context.Context, buttonTypes []string, ectx core.EvaluationContext) map[string]core.AvailabilityResult
	ListEventsSince(ctx context.Context, eventID int64, buttonType string) ([]repository.RuleEvent, error)
}

var _ Service = (*service.Service)(nil)
