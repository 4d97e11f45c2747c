package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conduit-lang/entityroutes/internal/orm/query"
	"github.com/conduit-lang/entityroutes/internal/orm/schema"
	"github.com/conduit-lang/entityroutes/internal/orm/transaction"
)

// persister saves one record graph through one executor
type persister struct {
	manager *Manager
	exec    transaction.Executor
	logger  *zap.Logger
}

// stmtArgs accumulates bind arguments in the order they appear in the statement
type stmtArgs struct {
	dialect query.Dialect
	args    []interface{}
}

func (s *stmtArgs) add(v interface{}) string {
	s.args = append(s.args, v)
	return placeholder(s.dialect, len(s.args))
}

type assignment struct {
	column string
	value  interface{}
}

// save writes rec and its nested relations. fks force foreign key columns, they are
// set when rec is saved as the child of an inverse relation.
func (p *persister) save(ctx context.Context, meta *schema.EntityMetadata, rec *schema.Record, fks map[string]interface{}) error {
	if rec == nil {
		return nil
	}
	pk := meta.PrimaryColumn()

	// owning to-one relations first, their ids are our foreign keys
	var assignments []assignment
	for _, rel := range meta.Relations {
		if rel.IsToMany() || !rel.IsOwning() {
			continue
		}
		if forced, ok := fks[rel.JoinColumn]; ok {
			assignments = append(assignments, assignment{column: rel.JoinColumn, value: forced})
			continue
		}
		value, ok := rec.Values[rel.PropertyName]
		if !ok {
			continue
		}
		child, _ := value.(*schema.Record)
		if child == nil {
			assignments = append(assignments, assignment{column: rel.JoinColumn, value: nil})
			continue
		}
		if err := p.saveChild(ctx, rel.InverseEntity, child, nil); err != nil {
			return err
		}
		assignments = append(assignments, assignment{column: rel.JoinColumn, value: child.Values[rel.InverseEntity.PrimaryName()]})
	}

	id, exists := rec.Values[pk.PropertyName]
	isNew := !exists || id == nil

	columns := p.columnAssignments(meta, rec, isNew)
	assignments = append(columns, assignments...)

	if isNew {
		inserted, err := p.insert(ctx, meta, assignments)
		if err != nil {
			return err
		}
		rec.Values[pk.PropertyName] = inserted
		id = inserted
	} else if err := p.update(ctx, meta, id, assignments); err != nil {
		return err
	}

	for _, rel := range meta.Relations {
		value, ok := rec.Values[rel.PropertyName]
		if !ok {
			continue
		}
		var err error
		switch {
		case rel.Cardinality == schema.ManyToMany:
			err = p.syncJoinTable(ctx, rel, id, value)
		case rel.Cardinality == schema.OneToMany || (rel.Cardinality == schema.OneToOne && !rel.IsOwning()):
			err = p.saveInverseChildren(ctx, rel, id, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// saveChild saves a nested record unless it only references an existing row
func (p *persister) saveChild(ctx context.Context, meta *schema.EntityMetadata, child *schema.Record, fks map[string]interface{}) error {
	if isReference(meta, child) && len(fks) == 0 {
		return nil
	}
	return p.save(ctx, meta, child, fks)
}

// saveInverseChildren points the children's foreign key at the parent
func (p *persister) saveInverseChildren(ctx context.Context, rel *schema.RelationMetadata, parentID interface{}, value interface{}) error {
	inverse := rel.InverseRelation
	if inverse == nil || inverse.JoinColumn == "" {
		return fmt.Errorf("%s: cannot save without an owning inverse side", rel)
	}

	var children []*schema.Record
	switch v := value.(type) {
	case []*schema.Record:
		children = v
	case *schema.Record:
		children = []*schema.Record{v}
	}

	target := rel.InverseEntity
	fks := map[string]interface{}{inverse.JoinColumn: parentID}
	for _, child := range children {
		if child == nil {
			continue
		}
		if isReference(target, child) {
			if err := p.setForeignKey(ctx, target, child.Values[target.PrimaryName()], inverse.JoinColumn, parentID); err != nil {
				return err
			}
			continue
		}
		if err := p.save(ctx, target, child, fks); err != nil {
			return err
		}
	}
	return nil
}

// syncJoinTable replaces the join table rows of a many-to-many relation
func (p *persister) syncJoinTable(ctx context.Context, rel *schema.RelationMetadata, ownerID interface{}, value interface{}) error {
	table, ownerCol, targetCol := joinTableOf(rel)
	if table == "" {
		return fmt.Errorf("%s: many-to-many relation has no join table", rel)
	}

	children, _ := value.([]*schema.Record)
	target := rel.InverseEntity
	for _, child := range children {
		if err := p.saveChild(ctx, target, child, nil); err != nil {
			return err
		}
	}

	args := &stmtArgs{dialect: p.manager.dialect}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", quote(table), quote(ownerCol), args.add(ownerID))
	if _, err := p.exec.ExecContext(ctx, stmt, args.args...); err != nil {
		return fmt.Errorf("failed to clear %s: %w", rel, ConvertDBError(err))
	}

	for _, child := range children {
		if child == nil {
			continue
		}
		args := &stmtArgs{dialect: p.manager.dialect}
		stmt := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (%s, %s)",
			quote(table), quote(ownerCol), quote(targetCol), args.add(ownerID), args.add(child.Values[target.PrimaryName()]))
		if _, err := p.exec.ExecContext(ctx, stmt, args.args...); err != nil {
			return fmt.Errorf("failed to link %s: %w", rel, ConvertDBError(err))
		}
	}
	return nil
}

func (p *persister) link(ctx context.Context, rel *schema.RelationMetadata, parentID, childID interface{}) error {
	if rel.Cardinality != schema.ManyToMany {
		inverse := rel.InverseRelation
		if inverse == nil || inverse.JoinColumn == "" {
			return fmt.Errorf("%s: cannot link without an owning inverse side", rel)
		}
		return p.setForeignKey(ctx, rel.InverseEntity, childID, inverse.JoinColumn, parentID)
	}

	table, ownerCol, targetCol := joinTableOf(rel)
	args := &stmtArgs{dialect: p.manager.dialect}
	stmt := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (%s, %s)",
		quote(table), quote(ownerCol), quote(targetCol), args.add(parentID), args.add(childID))
	if _, err := p.exec.ExecContext(ctx, stmt, args.args...); err != nil {
		return fmt.Errorf("failed to link %s: %w", rel, ConvertDBError(err))
	}
	return nil
}

func (p *persister) unlink(ctx context.Context, rel *schema.RelationMetadata, parentID, childID interface{}) error {
	target := rel.InverseEntity
	args := &stmtArgs{dialect: p.manager.dialect}

	var stmt string
	if rel.Cardinality == schema.ManyToMany {
		table, ownerCol, targetCol := joinTableOf(rel)
		stmt = fmt.Sprintf("DELETE FROM %s WHERE %s = %s AND %s = %s",
			quote(table), quote(ownerCol), args.add(parentID), quote(targetCol), args.add(childID))
	} else {
		inverse := rel.InverseRelation
		stmt = fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s = %s AND %s = %s",
			quote(target.TableName), quote(inverse.JoinColumn),
			quote(target.PrimaryColumn().DatabaseName), args.add(childID),
			quote(inverse.JoinColumn), args.add(parentID))
	}

	res, err := p.exec.ExecContext(ctx, stmt, args.args...)
	if err != nil {
		return fmt.Errorf("failed to unlink %s: %w", rel, ConvertDBError(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s %v is not linked to %v", ErrNotFound, rel, childID, parentID)
	}
	return nil
}

func (p *persister) insert(ctx context.Context, meta *schema.EntityMetadata, assignments []assignment) (interface{}, error) {
	args := &stmtArgs{dialect: p.manager.dialect}
	pk := meta.PrimaryColumn()

	var stmt string
	if len(assignments) == 0 {
		stmt = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", quote(meta.TableName), quote(pk.DatabaseName))
	} else {
		columns := make([]string, len(assignments))
		placeholders := make([]string, len(assignments))
		for i, a := range assignments {
			columns[i] = quote(a.column)
			placeholders[i] = args.add(a.value)
		}
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
			quote(meta.TableName), strings.Join(columns, ", "), strings.Join(placeholders, ", "), quote(pk.DatabaseName))
	}

	var id interface{}
	if err := p.exec.QueryRowContext(ctx, stmt, args.args...).Scan(&id); err != nil {
		return nil, fmt.Errorf("failed to insert %s: %w", meta.Name, ConvertDBError(err))
	}
	if b, ok := id.([]byte); ok {
		id = string(b)
	}
	p.logger.Debug("inserted", zap.String("entity", meta.Name), zap.Any("id", id))
	return id, nil
}

func (p *persister) update(ctx context.Context, meta *schema.EntityMetadata, id interface{}, assignments []assignment) error {
	args := &stmtArgs{dialect: p.manager.dialect}
	pk := meta.PrimaryColumn()

	if len(assignments) == 0 {
		stmt := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = %s", quote(meta.TableName), quote(pk.DatabaseName), args.add(id))
		var one int
		if err := p.exec.QueryRowContext(ctx, stmt, args.args...).Scan(&one); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s %v", ErrNotFound, meta.Name, id)
			}
			return fmt.Errorf("failed to update %s: %w", meta.Name, ConvertDBError(err))
		}
		return nil
	}

	sets := make([]string, len(assignments))
	for i, a := range assignments {
		sets[i] = fmt.Sprintf("%s = %s", quote(a.column), args.add(a.value))
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		quote(meta.TableName), strings.Join(sets, ", "), quote(pk.DatabaseName), args.add(id))

	res, err := p.exec.ExecContext(ctx, stmt, args.args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", meta.Name, ConvertDBError(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s %v", ErrNotFound, meta.Name, id)
	}
	return nil
}

func (p *persister) setForeignKey(ctx context.Context, meta *schema.EntityMetadata, id interface{}, column string, value interface{}) error {
	args := &stmtArgs{dialect: p.manager.dialect}
	stmt := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s = %s",
		quote(meta.TableName), quote(column), args.add(value), quote(meta.PrimaryColumn().DatabaseName), args.add(id))

	res, err := p.exec.ExecContext(ctx, stmt, args.args...)
	if err != nil {
		return fmt.Errorf("failed to link %s %v: %w", meta.Name, id, ConvertDBError(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s %v", ErrNotFound, meta.Name, id)
	}
	return nil
}

// columnAssignments returns the scalar columns to write, with generated values filled in
func (p *persister) columnAssignments(meta *schema.EntityMetadata, rec *schema.Record, isNew bool) []assignment {
	now := time.Now().UTC()
	var assignments []assignment

	for _, col := range meta.Columns {
		value, ok := rec.Values[col.PropertyName]

		if col.Primary {
			// uuid keys are generated here, integer keys by the database
			if isNew && col.Type == schema.TypeUUID && (!ok || value == nil) {
				value = uuid.New().String()
				rec.Values[col.PropertyName] = value
				assignments = append(assignments, assignment{column: col.DatabaseName, value: value})
			}
			continue
		}

		if col.Type == schema.TypeTimestamp {
			switch {
			case col.DatabaseName == "created_at" && isNew && (!ok || value == nil):
				value, ok = now, true
				rec.Values[col.PropertyName] = now
			case col.DatabaseName == "updated_at":
				value, ok = now, true
				rec.Values[col.PropertyName] = now
			}
		}

		if !ok {
			continue
		}
		assignments = append(assignments, assignment{column: col.DatabaseName, value: encodeValue(col, value)})
	}
	return assignments
}

// encodeValue serializes composite columns to the JSON or CSV text they are stored as
func encodeValue(col *schema.ColumnMetadata, value interface{}) interface{} {
	if value == nil {
		return nil
	}
	switch col.Type {
	case schema.TypeSimpleJSON:
		if s, ok := value.(string); ok {
			return s
		}
		data, err := json.Marshal(value)
		if err != nil {
			return value
		}
		return string(data)
	case schema.TypeSimpleArray:
		switch v := value.(type) {
		case []string:
			return strings.Join(v, ",")
		case []interface{}:
			parts := make([]string, len(v))
			for i, elem := range v {
				parts[i] = fmt.Sprint(elem)
			}
			return strings.Join(parts, ",")
		}
	}
	return value
}

// joinTableOf returns the join table of a many-to-many relation, with the column
// holding the relation owner's id first
func joinTableOf(rel *schema.RelationMetadata) (table, ownerCol, targetCol string) {
	if rel.IsOwning() {
		return rel.JoinTable, rel.JoinTableColumn, rel.JoinTableInverseColumn
	}
	if inv := rel.InverseRelation; inv != nil {
		return inv.JoinTable, inv.JoinTableInverseColumn, inv.JoinTableColumn
	}
	return "", "", ""
}

// isReference reports whether rec only carries the primary key of an existing row
func isReference(meta *schema.EntityMetadata, rec *schema.Record) bool {
	pk := meta.PrimaryName()
	return rec.IsReference(pk) && rec.ID(pk) != nil
}
