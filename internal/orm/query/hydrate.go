package query

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/conduit-lang/entityroutes/internal/orm/schema"
)

// hydrate rebuilds nested records from flat rows labelled "alias.prop".
// Roots keep the order of their first row; to-many children are de-duplicated by primary key.
func (b *SQLBuilder) hydrate(rows []map[string]interface{}) []*schema.Record {
	hydrated := b.hydratedAliases()
	byAlias := b.labelsByAlias()

	var roots []*schema.Record
	cache := make(map[string]*schema.Record)
	keys := make(map[*schema.Record]string)

	for _, row := range rows {
		rootPK := normalizeScalar(row[b.rootLabel()])
		if rootPK == nil {
			continue
		}
		rootKey := fmt.Sprintf("%s:%v", b.alias, rootPK)
		root, ok := cache[rootKey]
		if !ok {
			root = b.newRecord(b.root, byAlias[b.alias], row)
			cache[rootKey] = root
			keys[root] = rootKey
			roots = append(roots, root)
		}

		nodes := map[string]*schema.Record{b.alias: root}
		for _, j := range b.joins {
			if !hydrated[j.Alias] {
				continue
			}
			parent := nodes[j.ParentAlias]
			if parent == nil {
				continue
			}

			rel := j.Relation
			target := rel.InverseEntity
			pk := normalizeScalar(row[j.Alias+"."+target.PrimaryName()])
			if pk == nil {
				if rel.IsToMany() {
					if _, ok := parent.Values[rel.PropertyName]; !ok {
						parent.Values[rel.PropertyName] = []*schema.Record{}
					}
				} else if _, ok := parent.Values[rel.PropertyName]; !ok {
					parent.Values[rel.PropertyName] = nil
				}
				continue
			}

			key := fmt.Sprintf("%s/%s:%v", keys[parent], j.Alias, pk)
			child, ok := cache[key]
			if !ok {
				child = b.newRecord(target, byAlias[j.Alias], row)
				cache[key] = child
				keys[child] = key
				if rel.IsToMany() {
					list, _ := parent.Values[rel.PropertyName].([]*schema.Record)
					parent.Values[rel.PropertyName] = append(list, child)
				} else {
					parent.Values[rel.PropertyName] = child
				}
			}
			nodes[j.Alias] = child
		}
	}

	if roots == nil {
		roots = []*schema.Record{}
	}
	return roots
}

func (b *SQLBuilder) labelsByAlias() map[string][]string {
	result := make(map[string][]string)
	for _, label := range b.selectedLabels() {
		alias, _, _ := strings.Cut(label, ".")
		result[alias] = append(result[alias], label)
	}
	return result
}

func (b *SQLBuilder) newRecord(meta *schema.EntityMetadata, labels []string, row map[string]interface{}) *schema.Record {
	rec := schema.NewRecord(meta.Name, make(map[string]interface{}, len(labels)))
	for _, label := range labels {
		_, prop, _ := strings.Cut(label, ".")
		value := row[label]
		if col := meta.FindColumn(prop); col != nil {
			value = decodeValue(col, value)
		} else if rel := meta.FindRelation(prop); rel != nil {
			// join column selected through its relation name
			if value = normalizeScalar(value); value != nil {
				value = schema.NewRecord(rel.InverseEntity.Name, map[string]interface{}{
					rel.InverseEntity.PrimaryName(): value,
				})
			}
		}
		rec.Values[prop] = value
	}
	return rec
}

// decodeValue converts driver values into the column's Go representation
func decodeValue(col *schema.ColumnMetadata, value interface{}) interface{} {
	value = normalizeScalar(value)
	if value == nil {
		return nil
	}

	switch col.Type {
	case schema.TypeSimpleJSON:
		s, ok := value.(string)
		if !ok {
			return value
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return s
		}
		return decoded
	case schema.TypeSimpleArray:
		s, ok := value.(string)
		if !ok {
			return value
		}
		if s == "" {
			return []string{}
		}
		return strings.Split(s, ",")
	}
	return value
}

func normalizeScalar(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
