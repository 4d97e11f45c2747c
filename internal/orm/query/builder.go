// Package query builds and runs the SELECT statements the reader needs. Columns
// and joins are addressed the way entities see them ("alias.prop", "alias.relation")
// and resolved against the schema when the SQL is generated.
package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/conduit-lang/entityroutes/internal/orm/schema"
)

// Querier is satisfied by *sql.DB, *sql.Tx and *sql.Conn
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Builder is the query builder consumed by the relation manager and the reader
type Builder interface {
	Alias() string
	Metadata() *schema.EntityMetadata

	Select(columns ...string) Builder
	AddSelect(columns ...string) Builder
	Selections() []string

	LeftJoin(property, alias string) Builder
	InnerJoin(property, alias string, conditions ...*Condition) Builder
	HasJoin(alias string) bool
	Joins() []*Join

	Where(column string, op Operator, value interface{}) Builder
	AndWhere(column string, op Operator, value interface{}) Builder
	OrWhere(column string, op Operator, value interface{}) Builder

	Take(n int) Builder
	Skip(n int) Builder
	AddOrderBy(column string, direction string) Builder

	GetOne(ctx context.Context) (*schema.Record, error)
	GetManyAndCount(ctx context.Context) ([]*schema.Record, int, error)
}

// ErrInvalidProperty is returned when a column or join property cannot be resolved
var ErrInvalidProperty = errors.New("invalid property")

// JoinType represents the type of SQL join
type JoinType int

const (
	InnerJoin JoinType = iota
	LeftJoin
)

// String returns the string representation of the join type
func (j JoinType) String() string {
	if j == LeftJoin {
		return "LEFT"
	}
	return "INNER"
}

// Join is a relation joined under an alias
type Join struct {
	Type        JoinType
	Alias       string
	ParentAlias string
	Relation    *schema.RelationMetadata
	Conditions  []*Condition
}

type orderBy struct {
	column    string
	direction string
}

// SQLBuilder implements Builder over database/sql
type SQLBuilder struct {
	db      Querier
	dialect Dialect
	root    *schema.EntityMetadata
	alias   string

	selections []string
	joins      []*Join
	aliases    map[string]*schema.EntityMetadata
	conditions []*Condition
	orderBy    []orderBy
	take       *int
	skip       *int

	errs []error
}

// Option configures a SQLBuilder
type Option func(*SQLBuilder)

// WithDialect sets the placeholder dialect
func WithDialect(d Dialect) Option {
	return func(b *SQLBuilder) { b.dialect = d }
}

// New creates a builder selecting from root under alias
func New(db Querier, root *schema.EntityMetadata, alias string, opts ...Option) *SQLBuilder {
	validateIdentifier(alias)
	b := &SQLBuilder{
		db:      db,
		root:    root,
		alias:   alias,
		aliases: map[string]*schema.EntityMetadata{alias: root},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Alias returns the root alias
func (b *SQLBuilder) Alias() string { return b.alias }

// Metadata returns the root entity
func (b *SQLBuilder) Metadata() *schema.EntityMetadata { return b.root }

// Select replaces the selection. A bare alias selects every column of that alias.
func (b *SQLBuilder) Select(columns ...string) Builder {
	b.selections = nil
	return b.AddSelect(columns...)
}

// AddSelect adds columns to the selection, ignoring duplicates
func (b *SQLBuilder) AddSelect(columns ...string) Builder {
	for _, col := range columns {
		if !strings.Contains(col, ".") {
			meta, ok := b.aliases[col]
			if !ok {
				b.errs = append(b.errs, fmt.Errorf("%w: unknown alias %s", ErrInvalidProperty, col))
				continue
			}
			for _, c := range meta.Columns {
				b.addSelection(col + "." + c.PropertyName)
			}
			continue
		}
		b.addSelection(col)
	}
	return b
}

func (b *SQLBuilder) addSelection(col string) {
	for _, existing := range b.selections {
		if existing == col {
			return
		}
	}
	b.selections = append(b.selections, col)
}

// Selections returns the selected "alias.prop" columns
func (b *SQLBuilder) Selections() []string {
	result := make([]string, len(b.selections))
	copy(result, b.selections)
	return result
}

// LeftJoin joins the relation "parentAlias.relationProp" under alias
func (b *SQLBuilder) LeftJoin(property, alias string) Builder {
	b.join(LeftJoin, property, alias, nil)
	return b
}

// InnerJoin joins the relation "parentAlias.relationProp" under alias, with optional extra conditions
func (b *SQLBuilder) InnerJoin(property, alias string, conditions ...*Condition) Builder {
	b.join(InnerJoin, property, alias, conditions)
	return b
}

func (b *SQLBuilder) join(typ JoinType, property, alias string, conditions []*Condition) {
	validateIdentifier(alias)
	if b.HasJoin(alias) {
		return
	}

	parentAlias, prop, ok := strings.Cut(property, ".")
	if !ok {
		b.errs = append(b.errs, fmt.Errorf("%w: join property %q must be alias.relation", ErrInvalidProperty, property))
		return
	}
	parent, ok := b.aliases[parentAlias]
	if !ok {
		b.errs = append(b.errs, fmt.Errorf("%w: unknown alias %s in %q", ErrInvalidProperty, parentAlias, property))
		return
	}
	rel := parent.FindRelation(prop)
	if rel == nil {
		b.errs = append(b.errs, fmt.Errorf("%w: %s has no relation %s", ErrInvalidProperty, parent.Name, prop))
		return
	}

	b.joins = append(b.joins, &Join{
		Type:        typ,
		Alias:       alias,
		ParentAlias: parentAlias,
		Relation:    rel,
		Conditions:  conditions,
	})
	b.aliases[alias] = rel.InverseEntity
}

// HasJoin reports whether alias is already used
func (b *SQLBuilder) HasJoin(alias string) bool {
	for _, j := range b.joins {
		if j.Alias == alias {
			return true
		}
	}
	return false
}

// Joins returns the joins in declaration order
func (b *SQLBuilder) Joins() []*Join {
	result := make([]*Join, len(b.joins))
	copy(result, b.joins)
	return result
}

// Where adds an AND condition
func (b *SQLBuilder) Where(column string, op Operator, value interface{}) Builder {
	b.conditions = append(b.conditions, &Condition{Column: column, Operator: op, Value: value})
	return b
}

// AndWhere is an alias of Where
func (b *SQLBuilder) AndWhere(column string, op Operator, value interface{}) Builder {
	return b.Where(column, op, value)
}

// OrWhere adds an OR condition
func (b *SQLBuilder) OrWhere(column string, op Operator, value interface{}) Builder {
	b.conditions = append(b.conditions, &Condition{Column: column, Operator: op, Value: value, Or: true})
	return b
}

// Take limits the number of root entities returned
func (b *SQLBuilder) Take(n int) Builder {
	b.take = &n
	return b
}

// Skip skips root entities
func (b *SQLBuilder) Skip(n int) Builder {
	b.skip = &n
	return b
}

// AddOrderBy orders by an "alias.prop" column
func (b *SQLBuilder) AddOrderBy(column string, direction string) Builder {
	dir := strings.ToUpper(direction)
	if dir != "ASC" && dir != "DESC" {
		dir = "ASC"
	}
	b.orderBy = append(b.orderBy, orderBy{column: column, direction: dir})
	return b
}

// Err returns the errors collected while building
func (b *SQLBuilder) Err() error {
	return errors.Join(b.errs...)
}

// ToSQL generates the SELECT statement and its bind arguments
func (b *SQLBuilder) ToSQL() (string, []interface{}, error) {
	p := &params{dialect: b.dialect}
	query, err := b.buildSelect(p, nil, true)
	if err != nil {
		return "", nil, err
	}
	return query, p.args, nil
}

// CountSQL generates the statement counting distinct root entities
func (b *SQLBuilder) CountSQL() (string, []interface{}, error) {
	if err := b.Err(); err != nil {
		return "", nil, err
	}
	p := &params{dialect: b.dialect}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT COUNT(DISTINCT %s) FROM %s", b.rootPK(), b.from())
	if err := b.writeJoinsAndWhere(&sb, p, nil); err != nil {
		return "", nil, err
	}
	return sb.String(), p.args, nil
}

// PageSQL generates the statement returning one page of distinct root ids.
// Rows are grouped by root so LIMIT counts roots; a column of a joined alias
// orders each root by its MIN (ASC) or MAX (DESC) value.
func (b *SQLBuilder) PageSQL() (string, []interface{}, error) {
	if err := b.Err(); err != nil {
		return "", nil, err
	}
	p := &params{dialect: b.dialect}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s AS %s FROM %s", b.rootPK(), quote(b.rootLabel()), b.from())
	if err := b.writeJoinsAndWhere(&sb, p, nil); err != nil {
		return "", nil, err
	}
	fmt.Fprintf(&sb, " GROUP BY %s", b.rootPK())

	if len(b.orderBy) > 0 {
		parts := make([]string, len(b.orderBy))
		for i, o := range b.orderBy {
			col, err := b.resolveColumn(o.column)
			if err != nil {
				return "", nil, err
			}
			if alias, _, ok := strings.Cut(o.column, "."); ok && alias != b.alias {
				agg := "MIN"
				if o.direction == "DESC" {
					agg = "MAX"
				}
				col = fmt.Sprintf("%s(%s)", agg, col)
			}
			parts[i] = col + " " + o.direction
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(parts, ", "))
	}

	if b.take != nil {
		fmt.Fprintf(&sb, " LIMIT %s", p.add(*b.take))
	}
	if b.skip != nil {
		fmt.Fprintf(&sb, " OFFSET %s", p.add(*b.skip))
	}
	return sb.String(), p.args, nil
}

func (b *SQLBuilder) buildSelect(p *params, ids []interface{}, paginate bool) (string, error) {
	if err := b.Err(); err != nil {
		return "", err
	}

	columns, err := b.selectColumns()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", strings.Join(columns, ", "), b.from())
	if err := b.writeJoinsAndWhere(&sb, p, ids); err != nil {
		return "", err
	}
	if err := b.writeOrderBy(&sb); err != nil {
		return "", err
	}
	if paginate {
		if b.take != nil {
			fmt.Fprintf(&sb, " LIMIT %s", p.add(*b.take))
		}
		if b.skip != nil {
			fmt.Fprintf(&sb, " OFFSET %s", p.add(*b.skip))
		}
	}
	return sb.String(), nil
}

// selectColumns returns the explicit selections followed by the primary key of every hydrated alias
func (b *SQLBuilder) selectColumns() ([]string, error) {
	labels := b.selectedLabels()
	columns := make([]string, 0, len(labels))
	for _, label := range labels {
		col, err := b.resolveColumn(label)
		if err != nil {
			return nil, err
		}
		columns = append(columns, fmt.Sprintf("%s AS %s", col, quote(label)))
	}
	return columns, nil
}

func (b *SQLBuilder) selectedLabels() []string {
	labels := make([]string, len(b.selections))
	copy(labels, b.selections)

	hydrated := b.hydratedAliases()
	for _, alias := range append([]string{b.alias}, b.joinAliases()...) {
		if !hydrated[alias] {
			continue
		}
		labels = appendUnique(labels, alias+"."+b.aliases[alias].PrimaryName())
	}
	return labels
}

// hydratedAliases marks every alias holding a selection, and its ancestors
func (b *SQLBuilder) hydratedAliases() map[string]bool {
	parents := make(map[string]string, len(b.joins))
	for _, j := range b.joins {
		parents[j.Alias] = j.ParentAlias
	}

	result := map[string]bool{b.alias: true}
	for _, sel := range b.selections {
		alias, _, _ := strings.Cut(sel, ".")
		for alias != "" && !result[alias] {
			result[alias] = true
			alias = parents[alias]
		}
	}
	return result
}

func (b *SQLBuilder) joinAliases() []string {
	aliases := make([]string, len(b.joins))
	for i, j := range b.joins {
		aliases[i] = j.Alias
	}
	return aliases
}

func (b *SQLBuilder) from() string {
	return fmt.Sprintf("%s %s", quote(b.root.TableName), quote(b.alias))
}

func (b *SQLBuilder) rootLabel() string {
	return b.alias + "." + b.root.PrimaryName()
}

func (b *SQLBuilder) rootPK() string {
	return qualify(b.alias, b.root.PrimaryColumn().DatabaseName)
}

func (b *SQLBuilder) writeJoinsAndWhere(sb *strings.Builder, p *params, ids []interface{}) error {
	for _, j := range b.joins {
		clause, err := b.joinSQL(j, p)
		if err != nil {
			return err
		}
		sb.WriteString(clause)
	}

	parts := make([]string, 0, len(b.conditions))
	for i, cond := range b.conditions {
		col, err := b.resolveColumn(cond.Column)
		if err != nil {
			return err
		}
		condSQL, err := conditionToSQL(col, cond, p)
		if err != nil {
			return fmt.Errorf("failed to build condition: %w", err)
		}
		if i > 0 {
			if cond.Or {
				parts = append(parts, "OR")
			} else {
				parts = append(parts, "AND")
			}
		}
		parts = append(parts, condSQL)
	}

	where := strings.Join(parts, " ")
	if ids != nil {
		idCond, err := conditionToSQL(b.rootPK(), &Condition{Operator: OpIn, Value: ids}, p)
		if err != nil {
			return err
		}
		if where != "" {
			where = fmt.Sprintf("(%s) AND %s", where, idCond)
		} else {
			where = idCond
		}
	}
	if where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}
	return nil
}

func (b *SQLBuilder) writeOrderBy(sb *strings.Builder) error {
	if len(b.orderBy) == 0 {
		return nil
	}
	parts := make([]string, len(b.orderBy))
	for i, o := range b.orderBy {
		col, err := b.resolveColumn(o.column)
		if err != nil {
			return err
		}
		parts[i] = col + " " + o.direction
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(strings.Join(parts, ", "))
	return nil
}

// joinSQL renders the JOIN clause(s) of a relation according to its cardinality
func (b *SQLBuilder) joinSQL(j *Join, p *params) (string, error) {
	rel := j.Relation
	owner := rel.Entity
	target := rel.InverseEntity
	ownerPK := qualify(j.ParentAlias, owner.PrimaryColumn().DatabaseName)
	targetPK := qualify(j.Alias, target.PrimaryColumn().DatabaseName)

	var clause string
	switch {
	case rel.Cardinality == schema.ManyToMany:
		table, ownerCol, targetCol := rel.JoinTable, rel.JoinTableColumn, rel.JoinTableInverseColumn
		if !rel.IsOwning() {
			inv := rel.InverseRelation
			table, ownerCol, targetCol = inv.JoinTable, inv.JoinTableInverseColumn, inv.JoinTableColumn
		}
		jt := j.Alias + "_jt"
		clause = fmt.Sprintf(" %s JOIN %s %s ON %s = %s %s JOIN %s %s ON %s = %s",
			j.Type, quote(table), quote(jt), qualify(jt, ownerCol), ownerPK,
			j.Type, quote(target.TableName), quote(j.Alias), targetPK, qualify(jt, targetCol))

	case rel.IsOwning():
		clause = fmt.Sprintf(" %s JOIN %s %s ON %s = %s",
			j.Type, quote(target.TableName), quote(j.Alias), targetPK, qualify(j.ParentAlias, rel.JoinColumn))

	default:
		inv := rel.InverseRelation
		if inv == nil || inv.JoinColumn == "" {
			return "", fmt.Errorf("%w: %s has no join column on its inverse side", ErrInvalidProperty, rel)
		}
		clause = fmt.Sprintf(" %s JOIN %s %s ON %s = %s",
			j.Type, quote(target.TableName), quote(j.Alias), qualify(j.Alias, inv.JoinColumn), ownerPK)
	}

	for _, cond := range j.Conditions {
		col, err := b.resolveColumn(cond.Column)
		if err != nil {
			return "", err
		}
		condSQL, err := conditionToSQL(col, cond, p)
		if err != nil {
			return "", fmt.Errorf("failed to build join condition: %w", err)
		}
		clause += " AND " + condSQL
	}
	return clause, nil
}

// resolveColumn turns "alias.prop" into a quoted, qualified database column.
// A prop naming an owning to-one relation resolves to its join column.
func (b *SQLBuilder) resolveColumn(column string) (string, error) {
	alias, prop, ok := strings.Cut(column, ".")
	if !ok {
		alias, prop = b.alias, column
	}
	meta, ok := b.aliases[alias]
	if !ok {
		return "", fmt.Errorf("%w: unknown alias %s in %q", ErrInvalidProperty, alias, column)
	}
	if col := meta.FindColumn(prop); col != nil {
		return qualify(alias, col.DatabaseName), nil
	}
	if rel := meta.FindRelation(prop); rel != nil && rel.JoinColumn != "" {
		return qualify(alias, rel.JoinColumn), nil
	}
	return "", fmt.Errorf("%w: %s has no column %s", ErrInvalidProperty, meta.Name, prop)
}

// GetOne runs the query and returns the first root entity, or nil
func (b *SQLBuilder) GetOne(ctx context.Context) (*schema.Record, error) {
	p := &params{dialect: b.dialect}
	query, err := b.buildSelect(p, nil, false)
	if err != nil {
		return nil, err
	}

	rows, err := b.fetch(ctx, query, p.args)
	if err != nil {
		return nil, err
	}
	records := b.hydrate(rows)
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// GetManyAndCount runs the count, page and select queries.
// Pagination applies to distinct root entities, not to joined rows.
func (b *SQLBuilder) GetManyAndCount(ctx context.Context) ([]*schema.Record, int, error) {
	countSQL, countArgs, err := b.CountSQL()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := b.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to execute count query: %w", err)
	}
	if total == 0 {
		return []*schema.Record{}, 0, nil
	}

	var ids []interface{}
	if b.take != nil || b.skip != nil {
		pageSQL, pageArgs, err := b.PageSQL()
		if err != nil {
			return nil, 0, err
		}
		pageRows, err := b.fetch(ctx, pageSQL, pageArgs)
		if err != nil {
			return nil, 0, err
		}
		ids = distinctValues(pageRows, b.rootLabel())
		if len(ids) == 0 {
			return []*schema.Record{}, total, nil
		}
	}

	p := &params{dialect: b.dialect}
	query, err := b.buildSelect(p, ids, false)
	if err != nil {
		return nil, 0, err
	}
	rows, err := b.fetch(ctx, query, p.args)
	if err != nil {
		return nil, 0, err
	}
	return b.hydrate(rows), total, nil
}

func (b *SQLBuilder) fetch(ctx context.Context, query string, args []interface{}) ([]map[string]interface{}, error) {
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	results, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan rows: %w", err)
	}
	return results, nil
}

// scanRows scans SQL rows into a slice of maps
func scanRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		record := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			record[col] = values[i]
		}
		results = append(results, record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func distinctValues(rows []map[string]interface{}, column string) []interface{} {
	seen := make(map[string]bool, len(rows))
	values := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		v := normalizeScalar(row[column])
		key := fmt.Sprint(v)
		if v == nil || seen[key] {
			continue
		}
		seen[key] = true
		values = append(values, v)
	}
	return values
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func quote(identifier string) string {
	return `"` + identifier + `"`
}

func qualify(alias, column string) string {
	return quote(alias) + "." + quote(column)
}

// validateIdentifier validates that an identifier only contains safe characters.
// Panics if invalid characters are found.
func validateIdentifier(identifier string) {
	if identifier == "" {
		panic("invalid identifier: empty")
	}
	for _, char := range identifier {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '_') {
			panic(fmt.Sprintf("invalid identifier: %s (contains invalid character: %c)", identifier, char))
		}
	}
}
