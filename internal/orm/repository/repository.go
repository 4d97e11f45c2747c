// Package repository persists record graphs: inserts, updates and deletes rows,
// and keeps foreign keys and join tables in sync with nested relations.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/conduit-lang/entityroutes/internal/orm/query"
	"github.com/conduit-lang/entityroutes/internal/orm/schema"
	"github.com/conduit-lang/entityroutes/internal/orm/transaction"
)

// Manager hands out repositories sharing one database handle
type Manager struct {
	db       *sql.DB
	registry *schema.Registry
	dialect  query.Dialect
	logger   *zap.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithDialect sets the placeholder dialect
func WithDialect(d query.Dialect) Option {
	return func(m *Manager) { m.dialect = d }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a repository manager
func NewManager(db *sql.DB, registry *schema.Registry, opts ...Option) *Manager {
	m := &Manager{db: db, registry: registry, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DB returns the database handle
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Dialect returns the placeholder dialect
func (m *Manager) Dialect() query.Dialect {
	return m.dialect
}

// Get returns the repository of an entity
func (m *Manager) Get(entity string) (*Repository, error) {
	meta, ok := m.registry.Get(entity)
	if !ok {
		return nil, fmt.Errorf("%w: %s", schema.ErrUnknownEntity, entity)
	}
	return m.For(meta), nil
}

// For returns the repository of meta
func (m *Manager) For(meta *schema.EntityMetadata) *Repository {
	return &Repository{manager: m, meta: meta}
}

// Repository reads and writes one entity
type Repository struct {
	manager *Manager
	meta    *schema.EntityMetadata
}

// Metadata returns the entity of the repository
func (r *Repository) Metadata() *schema.EntityMetadata {
	return r.meta
}

// CreateQueryBuilder starts a query on the entity, inside the transaction carried by ctx if any
func (r *Repository) CreateQueryBuilder(ctx context.Context, alias string) *query.SQLBuilder {
	return query.New(r.executor(ctx), r.meta, alias, query.WithDialect(r.manager.dialect))
}

// Create builds an unsaved record of the entity from decoded values
func (r *Repository) Create(values map[string]interface{}) *schema.Record {
	return newRecord(r.meta, values)
}

// Save inserts item when it has no primary key and updates it otherwise, then saves
// its nested relations. It returns item with its primary key set.
func (r *Repository) Save(ctx context.Context, item *schema.Record) (*schema.Record, error) {
	p := &persister{manager: r.manager, exec: r.executor(ctx), logger: r.manager.logger}
	if err := p.save(ctx, r.meta, item, nil); err != nil {
		return nil, err
	}
	return item, nil
}

// Delete removes the row identified by id
func (r *Repository) Delete(ctx context.Context, id interface{}) error {
	pk := r.meta.PrimaryColumn()
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		quote(r.meta.TableName), quote(pk.DatabaseName), placeholder(r.manager.dialect, 1))

	res, err := r.executor(ctx).ExecContext(ctx, stmt, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", r.meta.Name, ConvertDBError(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s %v", ErrNotFound, r.meta.Name, id)
	}
	return nil
}

// Link attaches the existing child identified by childID to the to-many relation prop
// of the parent identified by parentID
func (r *Repository) Link(ctx context.Context, parentID interface{}, prop string, childID interface{}) error {
	rel := r.meta.FindRelation(prop)
	if rel == nil || !rel.IsToMany() {
		return fmt.Errorf("%s has no to-many relation %s", r.meta.Name, prop)
	}
	p := &persister{manager: r.manager, exec: r.executor(ctx), logger: r.manager.logger}
	return p.link(ctx, rel, parentID, childID)
}

// Unlink detaches child from the to-many relation prop of the parent identified by parentID
func (r *Repository) Unlink(ctx context.Context, parentID interface{}, prop string, childID interface{}) error {
	rel := r.meta.FindRelation(prop)
	if rel == nil || !rel.IsToMany() {
		return fmt.Errorf("%s has no to-many relation %s", r.meta.Name, prop)
	}
	p := &persister{manager: r.manager, exec: r.executor(ctx), logger: r.manager.logger}
	return p.unlink(ctx, rel, parentID, childID)
}

func (r *Repository) executor(ctx context.Context) transaction.Executor {
	return transaction.ExecutorFrom(ctx, r.manager.db)
}

func quote(identifier string) string {
	return `"` + identifier + `"`
}

func placeholder(d query.Dialect, n int) string {
	if d == query.SQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}
