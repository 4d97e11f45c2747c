package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/entityroutes/internal/orm/query"
)

// Runner executes migrations, one transaction per migration
type Runner struct {
	db      *sql.DB
	tracker *Tracker
	logger  *zap.Logger
}

// NewRunner creates a new migration runner
func NewRunner(db *sql.DB, dialect query.Dialect, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		db:      db,
		tracker: NewTracker(db, dialect),
		logger:  logger,
	}
}

// Tracker returns the history tracker of the runner
func (r *Runner) Tracker() *Tracker {
	return r.tracker
}

// Initialize sets up the migration tracking table
func (r *Runner) Initialize(ctx context.Context) error {
	return r.tracker.Initialize(ctx)
}

// MigrateUp applies all pending migrations in version order and returns how many ran
func (r *Runner) MigrateUp(ctx context.Context, migrations []*Migration) (int, error) {
	if err := r.Initialize(ctx); err != nil {
		return 0, err
	}

	pending, err := r.tracker.GetPending(ctx, migrations)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending migrations: %w", err)
	}
	if len(pending) == 0 {
		r.logger.Debug("no pending migrations")
		return 0, nil
	}

	sort.SliceStable(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })
	r.logger.Info("applying migrations", zap.Int("pending", len(pending)))

	for i, m := range pending {
		if err := r.apply(ctx, m); err != nil {
			return i, fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
	}
	return len(pending), nil
}

// MigrateDown rolls back the last applied migration
func (r *Runner) MigrateDown(ctx context.Context) error {
	last, err := r.tracker.GetLast(ctx)
	if err != nil {
		return fmt.Errorf("failed to get last migration: %w", err)
	}
	if last == nil {
		return errors.New("no migrations to rollback")
	}
	if last.Down == "" {
		return fmt.Errorf("migration %s has no down migration", last.Name)
	}
	return r.rollback(ctx, last)
}

func (r *Runner) apply(ctx context.Context, m *Migration) error {
	if strings.TrimSpace(m.Up) == "" {
		return errors.New("migration has no up SQL")
	}
	start := time.Now()

	err := r.inTx(ctx, m.Up, func(tx *sql.Tx) error {
		return r.tracker.Record(ctx, tx, m)
	})
	if err != nil {
		return err
	}

	r.logger.Info("applied migration",
		zap.Int64("version", m.Version),
		zap.String("name", m.Name),
		zap.Duration("took", time.Since(start)))
	return nil
}

func (r *Runner) rollback(ctx context.Context, m *Migration) error {
	start := time.Now()

	err := r.inTx(ctx, m.Down, func(tx *sql.Tx) error {
		return r.tracker.Remove(ctx, tx, m.Version)
	})
	if err != nil {
		return fmt.Errorf("rollback of %s failed: %w", m.Name, err)
	}

	r.logger.Info("rolled back migration",
		zap.Int64("version", m.Version),
		zap.String("name", m.Name),
		zap.Duration("took", time.Since(start)))
	return nil
}

// inTx runs every statement of script then record inside one transaction
func (r *Runner) inTx(ctx context.Context, script string, record func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			r.logger.Warn("failed to rollback migration transaction", zap.Error(err))
		}
	}()

	for _, stmt := range Statements(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute migration SQL: %w", err)
		}
	}
	if err := record(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Statements splits a script on ";" and drops empty statements
func Statements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Status returns the current migration status
func (r *Runner) Status(ctx context.Context, all []*Migration) (*MigrationStatus, error) {
	if err := r.Initialize(ctx); err != nil {
		return nil, err
	}
	applied, err := r.tracker.GetApplied(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}
	pending, err := r.tracker.GetPending(ctx, all)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending migrations: %w", err)
	}

	status := &MigrationStatus{
		Total:   len(all),
		Applied: applied,
		Pending: pending,
	}
	if len(applied) > 0 {
		status.LastApplied = applied[len(applied)-1]
	}
	return status, nil
}

// MigrationStatus represents the current state of migrations
type MigrationStatus struct {
	Total       int
	Applied     []*Migration
	Pending     []*Migration
	LastApplied *Migration
}

// Summary returns a human-readable summary
func (s *MigrationStatus) Summary() string {
	return fmt.Sprintf("Total: %d migrations (%d applied, %d pending)",
		s.Total, len(s.Applied), len(s.Pending))
}
