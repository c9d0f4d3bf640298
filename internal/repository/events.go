package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Rule event operations. Upserted covers both create and replace; the
// distinction is invisible to consumers, which re-evaluate either way.
const (
	EventUpserted = "upserted"
	EventDeleted  = "deleted"
)

// RuleEvent is one change to the rule set, stored in the rule_events table
// and used to drive SSE streaming and cross-instance cache invalidation.
type RuleEvent struct {
	EventID    int64           `json:"event_id"`
	ButtonType string          `json:"button_type"`
	Operation  string          `json:"operation"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
}

// PublishRuleEvent inserts a rule event and sends a PostgreSQL NOTIFY on the
// configured channel within a single transaction.
func (r *PostgresRepository) PublishRuleEvent(ctx context.Context, event RuleEvent) (RuleEvent, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return RuleEvent{}, fmt.Errorf("begin publish event tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var created RuleEvent
	if err := tx.QueryRow(ctx, `
		INSERT INTO rule_events (button_type, operation, payload)
		VALUES ($1, $2, $3)
		RETURNING event_id, button_type, operation, payload, created_at
	`,
		event.ButtonType,
		event.Operation,
		ensureJSON(event.Payload, "{}"),
	).Scan(
		&created.EventID,
		&created.ButtonType,
		&created.Operation,
		&created.Payload,
		&created.CreatedAt,
	); err != nil {
		return RuleEvent{}, fmt.Errorf("insert rule event: %w", err)
	}

	notifyPayload, err := marshalNotifyPayload(created)
	if err != nil {
		return RuleEvent{}, fmt.Errorf("marshal notify payload: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, r.notifyChannel, notifyPayload); err != nil {
		return RuleEvent{}, fmt.Errorf("notify rule event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return RuleEvent{}, fmt.Errorf("commit publish event tx: %w", err)
	}

	return created, nil
}

// ListEventsSince returns a bounded batch of rule events with IDs greater
// than eventID, ordered by event ID.
func (r *PostgresRepository) ListEventsSince(ctx context.Context, eventID int64) ([]RuleEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT event_id, button_type, operation, payload, created_at
		FROM rule_events
		WHERE event_id > $1
		ORDER BY event_id
		LIMIT $2
	`, eventID, r.eventBatchSize)
	if err != nil {
		return nil, fmt.Errorf("list events since: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ListEventsSinceForButton returns a bounded batch of rule events with
// IDs greater than eventID for one button type.
func (r *PostgresRepository) ListEventsSinceForButton(ctx context.Context, eventID int64, buttonType string) ([]RuleEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT event_id, button_type, operation, payload, created_at
		FROM rule_events
		WHERE event_id > $1 AND button_type = $2
		ORDER BY event_id
		LIMIT $3
	`, eventID, buttonType, r.eventBatchSize)
	if err != nil {
		return nil, fmt.Errorf("list events since for button: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]RuleEvent, error) {
	events := make([]RuleEvent, 0)
	for rows.Next() {
		var event RuleEvent
		if err := rows.Scan(
			&event.EventID,
			&event.ButtonType,
			&event.Operation,
			&event.Payload,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event rows: %w", err)
	}

	return events, nil
}

// SubscribeRuleInvalidation returns a channel that receives a signal whenever
// a rule event notification arrives on the PostgreSQL LISTEN channel. The
// channel is closed if the subscription context ends.
func (r *PostgresRepository) SubscribeRuleInvalidation(ctx context.Context) (<-chan struct{}, error) {
	invalidations := make(chan struct{}, 1)

	go r.runRuleInvalidationListener(ctx, invalidations)

	return invalidations, nil
}

func (r *PostgresRepository) runRuleInvalidationListener(ctx context.Context, invalidations chan<- struct{}) {
	defer close(invalidations)

	for {
		err := r.listenForRuleInvalidation(ctx, invalidations)
		if err == nil || ctx.Err() != nil {
			return
		}

		retryTimer := time.NewTimer(time.Second)
		select {
		case <-ctx.Done():
			retryTimer.Stop()
			return
		case <-retryTimer.C:
		}
	}
}

func (r *PostgresRepository) listenForRuleInvalidation(ctx context.Context, invalidations chan<- struct{}) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, listenStatement(r.notifyChannel)); err != nil {
		return fmt.Errorf("listen on %q: %w", r.notifyChannel, err)
	}

	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			return fmt.Errorf("wait for rule event notification: %w", err)
		}

		select {
		case invalidations <- struct{}{}:
		default:
		}
	}
}

func marshalNotifyPayload(event RuleEvent) (string, error) {
	serialized, err := json.Marshal(struct {
		EventID    int64  `json:"event_id"`
		ButtonType string `json:"button_type"`
		Operation  string `json:"operation"`
	}{
		EventID:    event.EventID,
		ButtonType: event.ButtonType,
		Operation:  event.Operation,
	})
	if err != nil {
		return "", err
	}

	return string(serialized), nil
}
