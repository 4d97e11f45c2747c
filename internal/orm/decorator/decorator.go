// Package decorator clones record graphs and transforms every node of the clone
// concurrently, then shapes the result into response objects.
package decorator

import (
	"context"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/conduit-lang/entityroutes/internal/orm/schema"
)

// Node is one record of the graph being decorated
type Node struct {
	// Source is the original record. It is shared between callbacks and must not be modified.
	Source *schema.Record
	// Clone is this node's copy. A callback owns the clone of its own node only.
	Clone    *schema.Record
	Metadata *schema.EntityMetadata

	// Path locates the node from the root, e.g. "articles.0.author"
	Path string
	// MappingPath is Path without list indices, e.g. "articles.author"
	MappingPath string
	IsRoot      bool
}

// DecorateFn returns the value replacing a node in its parent, usually node.Clone
type DecorateFn func(ctx context.Context, node *Node) (interface{}, error)

// Compose chains decorate functions on the same node. The chain stops as soon as one
// of them replaces the record with something else (e.g. an IRI).
func Compose(fns ...DecorateFn) DecorateFn {
	return func(ctx context.Context, node *Node) (interface{}, error) {
		var out interface{} = node.Clone
		for _, fn := range fns {
			rec, ok := out.(*schema.Record)
			if !ok {
				break
			}
			step := *node
			step.Clone = rec
			v, err := fn(ctx, &step)
			if err != nil {
				return nil, err
			}
			out = v
		}
		return out, nil
	}
}

// Decorator runs decorate functions over record graphs
type Decorator struct {
	registry *schema.Registry
	logger   *zap.Logger
}

// New creates a decorator resolving records through registry
func New(registry *schema.Registry, logger *zap.Logger) *Decorator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decorator{registry: registry, logger: logger}
}

// slot is where a node's result goes once every callback is done
type slot struct {
	node   *Node
	result interface{}

	parent *slot
	prop   string
	index  int // -1 for to-one relations
}

// DecorateItem clones item and applies fn to every record of the clone, root included.
// Callbacks run concurrently; a failing callback is logged and its node keeps its clone.
// Results are substituted into their parents children first.
// A value that is not a registered record is returned untouched.
func (d *Decorator) DecorateItem(ctx context.Context, item interface{}, fn DecorateFn) interface{} {
	meta, ok := d.registry.MetadataOf(item)
	if !ok {
		return item
	}

	var slots []*slot
	root := &slot{index: -1}
	d.clone(item.(*schema.Record), meta, root, "", "", &slots)

	var g errgroup.Group
	for _, s := range slots {
		s := s
		g.Go(func() error {
			d.run(ctx, s, fn)
			return nil
		})
	}
	_ = g.Wait()

	// slots are in pre-order, walking them backwards handles children first
	for i := len(slots) - 1; i > 0; i-- {
		s := slots[i]
		parent, ok := s.parent.result.(*schema.Record)
		if !ok {
			continue
		}
		current, present := parent.Values[s.prop]
		if !present {
			continue
		}
		if s.index < 0 {
			parent.Values[s.prop] = s.result
			continue
		}
		if list, ok := current.([]interface{}); ok && s.index < len(list) {
			list[s.index] = s.result
		}
	}

	return root.result
}

func (d *Decorator) run(ctx context.Context, s *slot, fn DecorateFn) {
	s.result = s.node.Clone
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("decorate callback panicked", zap.String("entity", s.node.Metadata.Name), zap.String("path", s.node.Path), zap.Any("panic", r))
			s.result = s.node.Clone
		}
	}()

	v, err := fn(ctx, s.node)
	if err != nil {
		d.logger.Warn("decorate callback failed", zap.String("entity", s.node.Metadata.Name), zap.String("path", s.node.Path), zap.Error(err))
		return
	}
	s.result = v
}

func (d *Decorator) clone(src *schema.Record, meta *schema.EntityMetadata, s *slot, path, mappingPath string, slots *[]*slot) {
	cloned := schema.NewRecord(src.Entity, make(map[string]interface{}, len(src.Values)))
	s.node = &Node{
		Source:      src,
		Clone:       cloned,
		Metadata:    meta,
		Path:        path,
		MappingPath: mappingPath,
		IsRoot:      s.parent == nil,
	}
	*slots = append(*slots, s)

	for key, value := range src.Values {
		childPath, childMappingPath := join(path, key), join(mappingPath, key)

		switch v := value.(type) {
		case *schema.Record:
			if childMeta, ok := d.registry.MetadataOf(v); ok {
				cloned.Values[key] = nil
				d.clone(v, childMeta, &slot{parent: s, prop: key, index: -1}, childPath, childMappingPath, slots)
				continue
			}
			cloned.Values[key] = v
		case []*schema.Record:
			list := make([]interface{}, len(v))
			for i, elem := range v {
				list[i] = d.cloneElem(elem, s, key, i, childPath, childMappingPath, slots)
			}
			cloned.Values[key] = list
		case []interface{}:
			list := make([]interface{}, len(v))
			for i, elem := range v {
				list[i] = d.cloneElem(elem, s, key, i, childPath, childMappingPath, slots)
			}
			cloned.Values[key] = list
		default:
			cloned.Values[key] = value
		}
	}
}

func (d *Decorator) cloneElem(elem interface{}, parent *slot, prop string, i int, path, mappingPath string, slots *[]*slot) interface{} {
	childMeta, ok := d.registry.MetadataOf(elem)
	if !ok {
		return elem
	}
	d.clone(elem.(*schema.Record), childMeta, &slot{parent: parent, prop: prop, index: i}, path+"."+strconv.Itoa(i), mappingPath, slots)
	return nil
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
