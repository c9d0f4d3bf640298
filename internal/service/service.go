// Package service implements the button availability engine. Reads are served
// from an immutable rule snapshot behind an atomic pointer, so evaluation
// never takes a lock and is never blocked by writers. Writes are serialized:
// each one persists to PostgreSQL, synchronously rebuilds the snapshot, and
// then fans out change events to subscribers.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmxmy/buttongate/internal/core"
	"github.com/vmxmy/buttongate/internal/repository"
)

const (
	bestEffortTimeout     = 2 * time.Second
	defaultResyncInterval = time.Minute
	rebuildTimeout        = 5 * time.Second
)

// Repository is the persistence surface the engine needs. It is implemented
// by [repository.PostgresRepository] and by in-memory fakes in tests.
type Repository interface {
	UpsertRule(ctx context.Context, rule core.Rule) (core.Rule, error)
	GetRule(ctx context.Context, id string) (core.Rule, error)
	ListRules(ctx context.Context) ([]core.Rule, error)
	ListRulesForButton(ctx context.Context, buttonType string) ([]core.Rule, error)
	ListActiveRules(ctx context.Context, at time.Time) ([]core.Rule, error)
	DeleteRule(ctx context.Context, id string) (core.Rule, error)
	ScopeKeyExists(ctx context.Context, scope core.Scope, scopeKey string) (bool, error)
	ListEventsSince(ctx context.Context, eventID int64) ([]repository.RuleEvent, error)
	ListEventsSinceForButton(ctx context.Context, eventID int64, buttonType string) ([]repository.RuleEvent, error)
	PublishRuleEvent(ctx context.Context, event repository.RuleEvent) (repository.RuleEvent, error)
}

type cacheInvalidationSubscriber interface {
	SubscribeRuleInvalidation(ctx context.Context) (<-chan struct{}, error)
}

// MetricsHooks lets the caller observe engine activity without the service
// importing an instrumentation package. Any hook may be nil.
type MetricsHooks struct {
	RecordEvaluation      func(reason string)
	RecordSnapshot        func(version uint64, rules int)
	RecordSnapshotFailure func()
	RecordInvalidation    func()
	RecordEventPublished  func(operation string)
}

// Service is the rule engine: admin writes, snapshot cache, resolution, and
// change notification.
type Service struct {
	repo       Repository
	logger     *slog.Logger
	hooks      MetricsHooks
	now        func() time.Time
	predicates *core.PredicateRegistry
	evaluator  *core.Evaluator
	notifier   *notifier

	resyncInterval time.Duration

	// writeMu serializes the persist, rebuild, publish sequence of admin
	// writes. rebuildMu serializes snapshot swaps from any trigger (writes,
	// resync ticker, NOTIFY) and guards version.
	writeMu   sync.Mutex
	rebuildMu sync.Mutex
	version   uint64
	snapshot  atomic.Pointer[Snapshot]
}

// Option configures a [Service].
type Option func(*Service)

// WithLogger sets the structured logger. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics wires observation hooks.
func WithMetrics(hooks MetricsHooks) Option {
	return func(s *Service) {
		s.hooks = hooks
	}
}

// WithResyncInterval sets how often the background listener rebuilds the
// snapshot regardless of notifications. Rules whose effective windows open or
// close without a write become visible within one interval.
func WithResyncInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.resyncInterval = interval
		}
	}
}

// WithPredicates installs a predicate registry, typically one extended with
// host-specific predicates beyond the built-ins.
func WithPredicates(registry *core.PredicateRegistry) Option {
	return func(s *Service) {
		if registry != nil {
			s.predicates = registry
		}
	}
}

// WithClock overrides the engine's time source in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a service, eagerly loads the first rule snapshot, and, when the
// repository supports LISTEN/NOTIFY, starts the background invalidation
// listener owned by ctx.
func New(ctx context.Context, repo Repository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("repository is nil")
	}

	svc := &Service{
		repo:           repo,
		logger:         slog.Default(),
		now:            time.Now,
		resyncInterval: defaultResyncInterval,
		notifier:       newNotifier(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.predicates == nil {
		svc.predicates = core.NewPredicateRegistry()
	}
	svc.evaluator = core.NewEvaluator(svc.predicates)

	if err := svc.Rebuild(ctx); err != nil {
		return nil, err
	}
	if subscriber, ok := repo.(cacheInvalidationSubscriber); ok {
		if err := svc.startCacheInvalidationListener(ctx, subscriber); err != nil {
			return nil, err
		}
	}

	return svc, nil
}

// Predicates returns the registry conditions dispatch through, so embedding
// hosts can register their own predicates.
func (s *Service) Predicates() *core.PredicateRegistry {
	return s.predicates
}

func (s *Service) startCacheInvalidationListener(ctx context.Context, subscriber cacheInvalidationSubscriber) error {
	invalidations, err := subscriber.SubscribeRuleInvalidation(ctx)
	if err != nil {
		return fmt.Errorf("subscribe cache invalidation: %w", err)
	}

	go func() {
		resyncTicker := time.NewTicker(s.resyncInterval)
		defer resyncTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-resyncTicker.C:
				if invalidations == nil {
					next, err := subscriber.SubscribeRuleInvalidation(ctx)
					if err == nil {
						invalidations = next
					}
				}
				s.rebuildInBackground(ctx)
			case _, ok := <-invalidations:
				if !ok {
					next, err := subscriber.SubscribeRuleInvalidation(ctx)
					if err != nil {
						invalidations = nil
						continue
					}
					invalidations = next
					continue
				}
				s.recordInvalidation()
				s.rebuildInBackground(ctx)
			}
		}
	}()

	return nil
}

func (s *Service) rebuildInBackground(ctx context.Context) {
	rebuildCtx, cancel := context.WithTimeout(ctx, rebuildTimeout)
	defer cancel()
	_ = s.Rebuild(rebuildCtx)
}

func (s *Service) recordEvaluation(reason string) {
	if s.hooks.RecordEvaluation != nil {
		s.hooks.RecordEvaluation(reason)
	}
}

func (s *Service) recordSnapshot(version uint64, rules int) {
	if s.hooks.RecordSnapshot != nil {
		s.hooks.RecordSnapshot(version, rules)
	}
}

func (s *Service) recordSnapshotFailure() {
	if s.hooks.RecordSnapshotFailure != nil {
		s.hooks.RecordSnapshotFailure()
	}
}

func (s *Service) recordInvalidation() {
	if s.hooks.RecordInvalidation != nil {
		s.hooks.RecordInvalidation()
	}
}

func (s *Service) recordEventPublished(operation string) {
	if s.hooks.RecordEventPublished != nil {
		s.hooks.RecordEventPublished(operation)
	}
}
