// Package repository provides PostgreSQL-backed persistence for button
// availability rules, their change events, and the scope reference tables.
// It also handles LISTEN/NOTIFY-based cache invalidation so the service layer
// stays fresh without polling the database into submission.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vmxmy/buttongate/internal/core"
)

const (
	defaultNotifyChannel  = "button_rule_events"
	defaultEventBatchSize = 1000
)

// ErrRuleNotFound reports a lookup or delete against a rule that does not
// exist.
var ErrRuleNotFound = errors.New("rule not found")

// PostgresRepository implements rule, event, and reference persistence backed
// by a pgxpool connection pool. It also supports LISTEN/NOTIFY for real-time
// cache invalidation.
type PostgresRepository struct {
	pool           *pgxpool.Pool
	notifyChannel  string
	eventBatchSize int
}

// NewPostgresRepository creates a [PostgresRepository] using the default
// "button_rule_events" notification channel.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return NewPostgresRepositoryWithChannel(pool, defaultNotifyChannel)
}

// NewPostgresRepositoryWithChannel creates a [PostgresRepository] using the
// specified LISTEN/NOTIFY channel name for rule event notifications.
func NewPostgresRepositoryWithChannel(pool *pgxpool.Pool, notifyChannel string) *PostgresRepository {
	return &PostgresRepository{
		pool:           pool,
		notifyChannel:  normalizeNotifyChannel(notifyChannel),
		eventBatchSize: defaultEventBatchSize,
	}
}

// SetEventBatchSize overrides the maximum number of events returned per
// [PostgresRepository.ListEventsSince] call. Values less than 1 are ignored.
func (r *PostgresRepository) SetEventBatchSize(n int) {
	if n > 0 {
		r.eventBatchSize = n
	}
}

const ruleColumns = `id, scope, scope_key, button_type, priority, conditions, availability_config,
	effective_from, effective_until, description, created_at, updated_at`

// UpsertRule inserts a rule or replaces the existing rule for the same
// (scope, scope_key, button_type). Replacement keeps the original id and
// created_at and bumps updated_at. The stored row is returned.
func (r *PostgresRepository) UpsertRule(ctx context.Context, rule core.Rule) (core.Rule, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO button_rules (id, scope, scope_key, button_type, priority, conditions,
			availability_config, effective_from, effective_until, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (scope, scope_key, button_type) DO UPDATE SET
			priority = EXCLUDED.priority,
			conditions = EXCLUDED.conditions,
			availability_config = EXCLUDED.availability_config,
			effective_from = EXCLUDED.effective_from,
			effective_until = EXCLUDED.effective_until,
			description = EXCLUDED.description,
			updated_at = NOW()
		RETURNING `+ruleColumns,
		rule.ID,
		string(rule.Scope),
		rule.ScopeKey,
		rule.ButtonType,
		rule.Priority,
		ensureJSON(rule.Conditions, "{}"),
		rule.Availability,
		rule.EffectiveFrom,
		rule.EffectiveUntil,
		rule.Description,
	)

	stored, err := scanRule(row)
	if err != nil {
		return core.Rule{}, fmt.Errorf("upsert rule: %w", err)
	}

	return stored, nil
}

// GetRule retrieves a single rule by id. Returns [ErrRuleNotFound] if no such
// rule exists.
func (r *PostgresRepository) GetRule(ctx context.Context, id string) (core.Rule, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+ruleColumns+`
		FROM button_rules
		WHERE id = $1
	`, id)

	rule, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Rule{}, fmt.Errorf("get rule %s: %w", id, ErrRuleNotFound)
	}
	if err != nil {
		return core.Rule{}, fmt.Errorf("get rule: %w", err)
	}

	return rule, nil
}

// ListRules returns every stored rule, ordered for stable listings.
func (r *PostgresRepository) ListRules(ctx context.Context) ([]core.Rule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM button_rules
		ORDER BY button_type, scope, scope_key, priority
	`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

// ListRulesForButton returns every stored rule governing one button type.
func (r *PostgresRepository) ListRulesForButton(ctx context.Context, buttonType string) ([]core.Rule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM button_rules
		WHERE button_type = $1
		ORDER BY scope, scope_key, priority
	`, buttonType)
	if err != nil {
		return nil, fmt.Errorf("list rules for button: %w", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

// ListActiveRules returns the rules whose effective window contains at. The
// snapshot builder calls this on every rebuild.
func (r *PostgresRepository) ListActiveRules(ctx context.Context, at time.Time) ([]core.Rule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM button_rules
		WHERE (effective_from IS NULL OR effective_from <= $1)
		  AND (effective_until IS NULL OR effective_until > $1)
		ORDER BY button_type, priority, created_at, id
	`, at)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

// DeleteRule removes a rule by id and returns the removed row. Returns
// [ErrRuleNotFound] if the rule does not exist.
func (r *PostgresRepository) DeleteRule(ctx context.Context, id string) (core.Rule, error) {
	row := r.pool.QueryRow(ctx, `
		DELETE FROM button_rules
		WHERE id = $1
		RETURNING `+ruleColumns,
		id)

	deleted, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Rule{}, fmt.Errorf("delete rule %s: %w", id, ErrRuleNotFound)
	}
	if err != nil {
		return core.Rule{}, fmt.Errorf("delete rule: %w", err)
	}

	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (core.Rule, error) {
	var rule core.Rule
	var scope string
	if err := row.Scan(
		&rule.ID,
		&scope,
		&rule.ScopeKey,
		&rule.ButtonType,
		&rule.Priority,
		&rule.Conditions,
		&rule.Availability,
		&rule.EffectiveFrom,
		&rule.EffectiveUntil,
		&rule.Description,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return core.Rule{}, err
	}

	rule.Scope = core.Scope(scope)
	return rule, nil
}

func collectRules(rows pgx.Rows) ([]core.Rule, error) {
	rules := make([]core.Rule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rule rows: %w", err)
	}

	return rules, nil
}

func normalizeNotifyChannel(channel string) string {
	if trimmed := strings.TrimSpace(channel); trimmed != "" {
		return trimmed
	}

	return defaultNotifyChannel
}

func ensureJSON(input []byte, fallback string) []byte {
	if len(input) == 0 {
		return []byte(fallback)
	}

	return input
}

func listenStatement(channel string) string {
	return fmt.Sprintf("LISTEN %s", pgx.Identifier{channel}.Sanitize())
}
