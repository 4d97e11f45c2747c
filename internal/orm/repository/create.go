package repository

import (
	"strconv"

	"github.com/goccy/go-json"

	"github.com/conduit-lang/entityroutes/internal/orm/iri"
	"github.com/conduit-lang/entityroutes/internal/orm/schema"
)

// newRecord turns decoded (cleaned) request values into a record graph.
// Relations become nested records, scalars are converted to their column type.
// Unknown keys are dropped.
func newRecord(meta *schema.EntityMetadata, values map[string]interface{}) *schema.Record {
	rec := schema.NewRecord(meta.Name, make(map[string]interface{}, len(values)))
	for key, value := range values {
		if col := meta.FindColumn(key); col != nil {
			if col.Primary {
				value = iri.ParseID(value)
			}
			rec.Values[key] = coerceValue(col, value)
			continue
		}
		rel := meta.FindRelation(key)
		if rel == nil {
			continue
		}
		rec.Values[key] = relationValue(rel, value)
	}
	return rec
}

func relationValue(rel *schema.RelationMetadata, value interface{}) interface{} {
	target := rel.InverseEntity
	if rel.IsToMany() {
		list, ok := value.([]interface{})
		if !ok {
			return []*schema.Record{}
		}
		children := make([]*schema.Record, 0, len(list))
		for _, elem := range list {
			if child := childRecord(target, elem); child != nil {
				children = append(children, child)
			}
		}
		return children
	}
	return childRecord(target, value)
}

// childRecord accepts a nested object or a bare reference
func childRecord(meta *schema.EntityMetadata, value interface{}) *schema.Record {
	switch v := value.(type) {
	case nil:
		return nil
	case *schema.Record:
		return v
	case map[string]interface{}:
		return newRecord(meta, v)
	default:
		return schema.NewRecord(meta.Name, map[string]interface{}{meta.PrimaryName(): iri.ParseID(v)})
	}
}

// coerceValue converts json.Number and composite values for the column
func coerceValue(col *schema.ColumnMetadata, value interface{}) interface{} {
	n, ok := value.(json.Number)
	if !ok {
		return value
	}
	switch col.Type {
	case schema.TypeInt, schema.TypeBigInt:
		if i, err := n.Int64(); err == nil {
			return i
		}
	case schema.TypeString, schema.TypeText:
		return n.String()
	}
	if f, err := strconv.ParseFloat(n.String(), 64); err == nil {
		return f
	}
	return n.String()
}
