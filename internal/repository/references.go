package repository

import (
	"context"
	"fmt"

	"github.com/vmxmy/buttongate/internal/core"
)

// ScopeKeyExists reports whether a scope key references a known department,
// role, or user. The reference tables are synced from the surrounding HR
// system; this repository only reads and refreshes them.
func (r *PostgresRepository) ScopeKeyExists(ctx context.Context, scope core.Scope, scopeKey string) (bool, error) {
	var query string
	switch scope {
	case core.ScopeDepartment:
		query = `SELECT EXISTS(SELECT 1 FROM departments WHERE id = $1)`
	case core.ScopeRole:
		query = `SELECT EXISTS(SELECT 1 FROM roles WHERE name = $1)`
	case core.ScopeUser:
		query = `SELECT EXISTS(SELECT 1 FROM app_users WHERE id = $1)`
	default:
		return false, fmt.Errorf("scope %q has no reference table", scope)
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, query, scopeKey).Scan(&exists); err != nil {
		return false, fmt.Errorf("check %s key %q: %w", scope, scopeKey, err)
	}

	return exists, nil
}

// SyncDepartment inserts or refreshes one department reference row.
func (r *PostgresRepository) SyncDepartment(ctx context.Context, id, name string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO departments (id, name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, synced_at = NOW()
	`, id, name)
	if err != nil {
		return fmt.Errorf("sync department %q: %w", id, err)
	}
	return nil
}

// SyncRole inserts or refreshes one role reference row.
func (r *PostgresRepository) SyncRole(ctx context.Context, name, description string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO roles (name, description)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description, synced_at = NOW()
	`, name, description)
	if err != nil {
		return fmt.Errorf("sync role %q: %w", name, err)
	}
	return nil
}

// SyncUser inserts or refreshes one user reference row.
func (r *PostgresRepository) SyncUser(ctx context.Context, id, displayName string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO app_users (id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, synced_at = NOW()
	`, id, displayName)
	if err != nil {
		return fmt.Errorf("sync user %q: %w", id, err)
	}
	return nil
}
