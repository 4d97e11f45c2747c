// Package groups stores which properties of an entity are exposed for which
// operation, either globally or only when a given entity is the root of the request.
package groups

import (
	"sort"
	"sync/atomic"

	"github.com/conduit-lang/entityroutes/internal/orm/schema"
)

// Operation shorthands
var (
	Basic = []string{"create", "list", "details", "update"}
	All   = []string{"create", "list", "details", "update", "delete"}
)

// Expand replaces the "basic" and "all" shorthands by the operations they stand for
func Expand(ops ...string) []string {
	result := make([]string, 0, len(ops))
	seen := make(map[string]bool, len(ops))
	add := func(op string) {
		if !seen[op] {
			seen[op] = true
			result = append(result, op)
		}
	}
	for _, op := range ops {
		switch op {
		case "basic":
			for _, o := range Basic {
				add(o)
			}
		case "all":
			for _, o := range All {
				add(o)
			}
		default:
			add(op)
		}
	}
	return result
}

// GroupsMetadata is the exposure table of one entity for one metadata key.
//
// It is written during startup only and read concurrently afterwards, so it
// holds no lock of its own.
type GroupsMetadata struct {
	key    string
	entity string

	globals map[string][]string
	routes  map[string]map[string][]string
	always  []string

	// order remembers the first registration of each prop
	order  map[string]int
	seq    int
	frozen *atomic.Bool
}

func newGroupsMetadata(key, entity string, frozen *atomic.Bool) *GroupsMetadata {
	return &GroupsMetadata{
		key:     key,
		entity:  entity,
		globals: make(map[string][]string),
		routes:  make(map[string]map[string][]string),
		order:   make(map[string]int),
		frozen:  frozen,
	}
}

// Key returns the metadata key
func (g *GroupsMetadata) Key() string { return g.key }

// Entity returns the entity name
func (g *GroupsMetadata) Entity() string { return g.entity }

// AddPropToGlobalGroups exposes prop for ops whatever the root entity is
func (g *GroupsMetadata) AddPropToGlobalGroups(ops []string, prop string) error {
	if g.frozen.Load() {
		return ErrFrozen
	}
	g.remember(prop)
	for _, op := range Expand(ops...) {
		g.globals[op] = appendUnique(g.globals[op], prop)
	}
	return nil
}

// AddPropToRoutesGroups exposes prop for the given operations, per route context (root table name)
func (g *GroupsMetadata) AddPropToRoutesGroups(routes map[string][]string, prop string) error {
	if g.frozen.Load() {
		return ErrFrozen
	}
	g.remember(prop)
	for route, ops := range routes {
		byOp, ok := g.routes[route]
		if !ok {
			byOp = make(map[string][]string)
			g.routes[route] = byOp
		}
		for _, op := range Expand(ops...) {
			byOp[op] = appendUnique(byOp[op], prop)
		}
	}
	return nil
}

// AddPropToAlwaysGroups exposes prop for every operation
func (g *GroupsMetadata) AddPropToAlwaysGroups(prop string) error {
	if g.frozen.Load() {
		return ErrFrozen
	}
	g.remember(prop)
	g.always = appendUnique(g.always, prop)
	return nil
}

// GetExposedPropsOn returns the props exposed on operation when root is the request's root entity,
// in first-registration order
func (g *GroupsMetadata) GetExposedPropsOn(operation string, root *schema.EntityMetadata) []string {
	var props []string
	props = appendUnique(props, g.globals[operation]...)
	if root != nil {
		props = appendUnique(props, g.routes[root.TableName][operation]...)
	}
	props = appendUnique(props, g.always...)

	sort.SliceStable(props, func(i, j int) bool {
		return g.order[props[i]] < g.order[props[j]]
	})
	return props
}

// GetSelectProps returns the exposed props that are plain columns of meta
func (g *GroupsMetadata) GetSelectProps(operation string, root, meta *schema.EntityMetadata) []string {
	exposed := g.GetExposedPropsOn(operation, root)
	props := make([]string, 0, len(exposed))
	for _, prop := range exposed {
		if !IsComputedProp(prop) && meta.FindColumn(prop) != nil {
			props = append(props, prop)
		}
	}
	return props
}

// GetRelationPropsMetas returns the relations of meta that are exposed
func (g *GroupsMetadata) GetRelationPropsMetas(operation string, root, meta *schema.EntityMetadata) []*schema.RelationMetadata {
	exposed := g.GetExposedPropsOn(operation, root)
	rels := make([]*schema.RelationMetadata, 0, len(exposed))
	for _, prop := range exposed {
		if IsComputedProp(prop) {
			continue
		}
		if rel := meta.FindRelation(prop); rel != nil {
			rels = append(rels, rel)
		}
	}
	return rels
}

// GetComputedProps returns the mangled computed entries that are exposed
func (g *GroupsMetadata) GetComputedProps(operation string, root *schema.EntityMetadata) []string {
	exposed := g.GetExposedPropsOn(operation, root)
	props := make([]string, 0)
	for _, prop := range exposed {
		if IsComputedProp(prop) {
			props = append(props, prop)
		}
	}
	return props
}

func (g *GroupsMetadata) remember(prop string) {
	if _, ok := g.order[prop]; ok {
		return
	}
	g.seq++
	g.order[prop] = g.seq
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, existing := range list {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			list = append(list, v)
		}
	}
	return list
}
