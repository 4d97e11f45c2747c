// Package cleaner strips client payloads down to what the mapping of an
// operation exposes, normalizing relation references to {id: ...}.
package cleaner

import (
	"github.com/conduit-lang/entityroutes/internal/orm/iri"
	"github.com/conduit-lang/entityroutes/internal/orm/mapping"
	"github.com/conduit-lang/entityroutes/internal/orm/relation"
	"github.com/conduit-lang/entityroutes/internal/orm/schema"
)

// Cleaner cleans payloads against mappings built by a mapping manager
type Cleaner struct {
	mapping *mapping.Manager
}

// New creates a cleaner
func New(m *mapping.Manager) *Cleaner {
	return &Cleaner{mapping: m}
}

// CleanItem returns the props of values that root exposes on operation
func (c *Cleaner) CleanItem(root *schema.EntityMetadata, values map[string]interface{}, operation string, opts relation.MaxDepthOptions) map[string]interface{} {
	return Clean(c.mapping.Make(root, operation, opts), values)
}

// Clean cleans values against an already built mapping
func Clean(item *mapping.Item, values map[string]interface{}) map[string]interface{} {
	return cleanNode(item, values, false)
}

func cleanNode(item *mapping.Item, values map[string]interface{}, nested bool) map[string]interface{} {
	meta := item.Metadata
	pk := meta.PrimaryName()
	cleaned := make(map[string]interface{}, len(values))

	for key, value := range values {
		// nested items keep their id so that they reference an existing row
		if nested && key == pk {
			cleaned[key] = iri.ParseID(value)
			continue
		}
		if !item.IsExposed(key) {
			continue
		}

		if col := meta.FindColumn(key); col != nil {
			if key == pk {
				value = iri.ParseID(value)
			}
			cleaned[key] = value
			continue
		}

		rel := meta.FindRelation(key)
		if rel == nil {
			continue
		}
		if value == nil {
			cleaned[key] = nil
			continue
		}

		child := item.Mapping[key]
		if rel.IsToMany() {
			list, ok := value.([]interface{})
			if !ok {
				continue
			}
			out := make([]interface{}, 0, len(list))
			for _, elem := range list {
				if v := cleanRelation(child, rel.InverseEntity, elem); v != nil {
					out = append(out, v)
				}
			}
			cleaned[key] = out
			continue
		}

		if v := cleanRelation(child, rel.InverseEntity, value); v != nil {
			cleaned[key] = v
		}
	}

	return cleaned
}

// cleanRelation cleans one related value. child is nil when the relation was cut
// for being circular, which is handled as an id-only relation.
func cleanRelation(child *mapping.Item, target *schema.EntityMetadata, value interface{}) map[string]interface{} {
	pk := target.PrimaryName()

	obj, ok := value.(map[string]interface{})
	if !ok {
		if value == nil {
			return nil
		}
		return map[string]interface{}{pk: iri.ParseID(value)}
	}

	if child == nil || child.IsIDOnly() {
		id, ok := obj[pk]
		if !ok || id == nil {
			return nil
		}
		return map[string]interface{}{pk: iri.ParseID(id)}
	}
	return cleanNode(child, obj, true)
}
