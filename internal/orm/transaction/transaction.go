// Package transaction scopes the writes of one request to a single database transaction.
package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	// ErrAlreadyCommitted is returned when committing or rolling back a committed transaction
	ErrAlreadyCommitted = errors.New("transaction already committed")
	// ErrAlreadyRolledBack is returned when committing a rolled back transaction
	ErrAlreadyRolledBack = errors.New("transaction already rolled back")
)

// IsolationLevel represents the transaction isolation level
type IsolationLevel int

const (
	// ReadCommitted prevents dirty reads (PostgreSQL default)
	ReadCommitted IsolationLevel = iota
	// RepeatableRead prevents non-repeatable reads
	RepeatableRead
	// Serializable provides full isolation
	Serializable
)

// String returns the string representation of the isolation level
func (l IsolationLevel) String() string {
	switch l {
	case RepeatableRead:
		return "REPEATABLE READ"
	case Serializable:
		return "SERIALIZABLE"
	default:
		return "READ COMMITTED"
	}
}

// ToSQLOptions converts IsolationLevel to sql.TxOptions.
// ReadCommitted maps to the driver default, sqlite rejects explicit levels it does not know.
func (l IsolationLevel) ToSQLOptions() *sql.TxOptions {
	switch l {
	case RepeatableRead:
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead}
	case Serializable:
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	default:
		return nil
	}
}

// Transaction is the transaction of one request
type Transaction struct {
	tx         *sql.Tx
	ctx        context.Context
	committed  atomic.Bool
	rolledBack atomic.Bool
	level      IsolationLevel
}

// Manager begins transactions
type Manager struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewManager creates a new transaction manager
func NewManager(db *sql.DB, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{db: db, logger: logger}
}

// DB returns the underlying database connection
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Begin starts a new transaction with default isolation level
func (m *Manager) Begin(ctx context.Context) (*Transaction, error) {
	return m.BeginWithIsolation(ctx, ReadCommitted)
}

// BeginWithIsolation starts a new transaction with the specified isolation level
func (m *Manager) BeginWithIsolation(ctx context.Context, level IsolationLevel) (*Transaction, error) {
	tx, err := m.db.BeginTx(ctx, level.ToSQLOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Transaction{tx: tx, ctx: ctx, level: level}, nil
}

// WithTransaction executes fn within a transaction carried by the context it receives.
// It commits when fn succeeds and rolls back otherwise, panics included.
func (m *Manager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := m.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				m.logger.Error("rollback after panic failed", zap.Error(rbErr))
			}
			panic(p)
		}
	}()

	if err := fn(tx.Context()); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

// Context returns the transaction's context with the transaction embedded
func (t *Transaction) Context() context.Context {
	return WithContext(t.ctx, t)
}

// Tx returns the underlying sql.Tx
func (t *Transaction) Tx() *sql.Tx {
	return t.tx
}

// IsolationLevel returns the isolation level of the transaction
func (t *Transaction) IsolationLevel() IsolationLevel {
	return t.level
}

// Commit commits the transaction
func (t *Transaction) Commit() error {
	if t.committed.Load() {
		return ErrAlreadyCommitted
	}
	if t.rolledBack.Load() {
		return ErrAlreadyRolledBack
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	t.committed.Store(true)
	return nil
}

// Rollback rolls back the transaction. Rolling back twice is a no-op, so it can be deferred.
func (t *Transaction) Rollback() error {
	if t.committed.Load() {
		return ErrAlreadyCommitted
	}
	if t.rolledBack.Load() {
		return nil
	}
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	t.rolledBack.Store(true)
	return nil
}

// RollbackUnlessCommitted is meant to be deferred right after Begin
func (t *Transaction) RollbackUnlessCommitted() error {
	if t.committed.Load() {
		return nil
	}
	return t.Rollback()
}

// IsCommitted returns true if the transaction has been committed
func (t *Transaction) IsCommitted() bool {
	return t.committed.Load()
}

// IsRolledBack returns true if the transaction has been rolled back
func (t *Transaction) IsRolledBack() bool {
	return t.rolledBack.Load()
}
