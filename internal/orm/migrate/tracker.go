// Package migrate applies versioned schema migrations and records them in a
// schema_migrations table.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/conduit-lang/entityroutes/internal/orm/query"
)

// Migration represents a single database migration
type Migration struct {
	Version   int64  // ordering key
	Name      string // human-readable name
	Up        string // SQL to apply, statements separated by ";"
	Down      string // SQL to roll back
	Applied   bool
	AppliedAt time.Time
}

// Tracker manages migration history in the database
type Tracker struct {
	db      *sql.DB
	dialect query.Dialect
}

// NewTracker creates a new migration tracker
func NewTracker(db *sql.DB, dialect query.Dialect) *Tracker {
	return &Tracker{db: db, dialect: dialect}
}

// placeholder returns the n-th (1-based) bind placeholder of the dialect
func (t *Tracker) placeholder(n int) string {
	if t.dialect == query.SQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

// Initialize ensures the schema_migrations table exists
func (t *Tracker) Initialize(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version BIGINT PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	applied_at TIMESTAMP NOT NULL,
	up_sql TEXT,
	down_sql TEXT
)`
	if _, err := t.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize migrations table: %w", err)
	}
	return nil
}

// GetApplied returns all applied migrations sorted by version
func (t *Tracker) GetApplied(ctx context.Context) ([]*Migration, error) {
	rows, err := t.db.QueryContext(ctx, `
SELECT version, name, applied_at, up_sql, down_sql
FROM schema_migrations
ORDER BY version ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	var migrations []*Migration
	for rows.Next() {
		m, err := scanMigration(rows)
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migrations: %w", err)
	}
	return migrations, nil
}

// GetLast returns the most recently applied migration, or nil if none exist
func (t *Tracker) GetLast(ctx context.Context) (*Migration, error) {
	row := t.db.QueryRowContext(ctx, `
SELECT version, name, applied_at, up_sql, down_sql
FROM schema_migrations
ORDER BY version DESC
LIMIT 1`)
	m, err := scanMigration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMigration(s scanner) (*Migration, error) {
	m := &Migration{Applied: true}
	var upSQL, downSQL sql.NullString
	if err := s.Scan(&m.Version, &m.Name, &m.AppliedAt, &upSQL, &downSQL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan migration: %w", err)
	}
	m.Up = upSQL.String
	m.Down = downSQL.String
	return m, nil
}

// IsApplied checks if a migration version has been applied
func (t *Tracker) IsApplied(ctx context.Context, version int64) (bool, error) {
	var count int
	err := t.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_migrations WHERE version = "+t.placeholder(1), version).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check migration status: %w", err)
	}
	return count > 0, nil
}

// Record marks a migration as applied in a transaction
func (t *Tracker) Record(ctx context.Context, tx *sql.Tx, m *Migration) error {
	stmt := fmt.Sprintf(
		"INSERT INTO schema_migrations (version, name, applied_at, up_sql, down_sql) VALUES (%s, %s, %s, %s, %s)",
		t.placeholder(1), t.placeholder(2), t.placeholder(3), t.placeholder(4), t.placeholder(5))
	if _, err := tx.ExecContext(ctx, stmt, m.Version, m.Name, time.Now().UTC(), m.Up, m.Down); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return nil
}

// Remove removes a migration record in a transaction
func (t *Tracker) Remove(ctx context.Context, tx *sql.Tx, version int64) error {
	result, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = "+t.placeholder(1), version)
	if err != nil {
		return fmt.Errorf("failed to remove migration: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("migration version %d not found", version)
	}
	return nil
}

// GetPending returns the migrations of all that haven't been applied yet
func (t *Tracker) GetPending(ctx context.Context, all []*Migration) ([]*Migration, error) {
	applied, err := t.GetApplied(ctx)
	if err != nil {
		return nil, err
	}

	appliedSet := make(map[int64]bool, len(applied))
	for _, m := range applied {
		appliedSet[m.Version] = true
	}

	var pending []*Migration
	for _, m := range all {
		if !appliedSet[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// GetCount returns the total number of applied migrations
func (t *Tracker) GetCount(ctx context.Context) (int, error) {
	var count int
	if err := t.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get migration count: %w", err)
	}
	return count, nil
}
