// Package mapping computes, for a root entity and an operation, the tree of
// exposed props every stage of a request shapes its data with.
package mapping

import (
	"strings"

	"github.com/conduit-lang/entityroutes/internal/orm/groups"
	"github.com/conduit-lang/entityroutes/internal/orm/relation"
	"github.com/conduit-lang/entityroutes/internal/orm/schema"
)

// Item is one node of the mapping tree. It is built per request and read-only afterwards.
type Item struct {
	Metadata *schema.EntityMetadata

	SelectProps   []string
	RelationProps []string
	ComputedProps []string

	// ExposedProps are SelectProps and RelationProps, computed props excluded
	ExposedProps []string

	// Mapping holds child nodes keyed by relation prop. A relation cut by the
	// max depth rule is in RelationProps but absent here.
	Mapping map[string]*Item
}

// IsExposed reports whether prop is a select or relation prop of the node
func (i *Item) IsExposed(prop string) bool {
	for _, p := range i.ExposedProps {
		if p == prop {
			return true
		}
	}
	return false
}

// IsIDOnly reports whether the node exposes nothing but (at most) the primary key
func (i *Item) IsIDOnly() bool {
	if len(i.ComputedProps) > 0 {
		return false
	}
	switch len(i.ExposedProps) {
	case 0:
		return true
	case 1:
		return i.ExposedProps[0] == i.Metadata.PrimaryName()
	}
	return false
}

// Manager builds mappings
type Manager struct {
	groups *groups.Registry
}

// NewManager creates a mapping manager reading exposure from g
func NewManager(g *groups.Registry) *Manager {
	return &Manager{groups: g}
}

// Make builds the mapping of root for operation
func (m *Manager) Make(root *schema.EntityMetadata, operation string, opts relation.MaxDepthOptions) *Item {
	return m.make(root, root, operation, []string{root.TableName}, opts)
}

func (m *Manager) make(root, meta *schema.EntityMetadata, operation string, currentPath []string, opts relation.MaxDepthOptions) *Item {
	g := m.groups.For(meta.Name)

	item := &Item{
		Metadata:      meta,
		SelectProps:   g.GetSelectProps(operation, root, meta),
		ComputedProps: g.GetComputedProps(operation, root),
		Mapping:       make(map[string]*Item),
	}

	for _, rel := range g.GetRelationPropsMetas(operation, root, meta) {
		item.RelationProps = append(item.RelationProps, rel.PropertyName)

		nextPath := make([]string, len(currentPath), len(currentPath)+1)
		copy(nextPath, currentPath)
		nextPath = append(nextPath, rel.InverseEntity.TableName)

		if relation.IsRelationPropCircular(nextPath, rel.InverseEntity, rel, opts) != nil {
			continue
		}
		item.Mapping[rel.PropertyName] = m.make(root, rel.InverseEntity, operation, nextPath, opts)
	}

	exposed := g.GetExposedPropsOn(operation, root)
	item.ExposedProps = make([]string, 0, len(item.SelectProps)+len(item.RelationProps))
	for _, prop := range exposed {
		if contains(item.SelectProps, prop) || contains(item.RelationProps, prop) {
			item.ExposedProps = append(item.ExposedProps, prop)
		}
	}

	return item
}

// GetNestedMappingAt follows a dot-path of relation props. It returns nil when a
// segment is not exposed.
func GetNestedMappingAt(path string, item *Item) *Item {
	if path == "" {
		return item
	}
	current := item
	for _, seg := range strings.Split(path, ".") {
		if current == nil {
			return nil
		}
		current = current.Mapping[seg]
	}
	return current
}

func contains(list []string, v string) bool {
	for _, existing := range list {
		if existing == v {
			return true
		}
	}
	return false
}
