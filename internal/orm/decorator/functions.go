package decorator

import (
	"context"
	"fmt"

	"github.com/conduit-lang/entityroutes/internal/orm/groups"
	"github.com/conduit-lang/entityroutes/internal/orm/iri"
	"github.com/conduit-lang/entityroutes/internal/orm/mapping"
	"github.com/conduit-lang/entityroutes/internal/orm/schema"
)

// KeepExposedProps drops the values a node's mapping does not expose, such as
// columns only selected for computed props. The primary key is always kept.
func KeepExposedProps(root *mapping.Item) DecorateFn {
	return func(ctx context.Context, node *Node) (interface{}, error) {
		item := mapping.GetNestedMappingAt(node.MappingPath, root)
		pk := node.Metadata.PrimaryName()
		for key := range node.Clone.Values {
			if key == pk {
				continue
			}
			if item == nil || !item.IsExposed(key) {
				delete(node.Clone.Values, key)
			}
		}
		return node.Clone, nil
	}
}

// SetComputedPropsOnItem calls the computed props exposed on the node with the
// original record and stores each result under its output key
func SetComputedPropsOnItem(root *mapping.Item) DecorateFn {
	return func(ctx context.Context, node *Node) (interface{}, error) {
		item := mapping.GetNestedMappingAt(node.MappingPath, root)
		if item == nil {
			return node.Clone, nil
		}
		for _, name := range item.ComputedProps {
			method, _, _ := groups.ParseComputedProp(name)
			computed := node.Metadata.FindComputed(method)
			if computed == nil {
				continue
			}
			v, err := computed.Fn(ctx, node.Source)
			if err != nil {
				return nil, fmt.Errorf("computed prop %s.%s: %w", node.Metadata.Name, method, err)
			}
			node.Clone.Set(groups.ComputedPropKey(name), v)
		}
		return node.Clone, nil
	}
}

// SetSubresourcesIriOnItem fills the subresource props missing from the node with
// the IRI of the nested route, e.g. "/api/user/1/articles"
func SetSubresourcesIriOnItem(prefix string) DecorateFn {
	return func(ctx context.Context, node *Node) (interface{}, error) {
		id := node.Source.Values[node.Metadata.PrimaryName()]
		if id == nil {
			return node.Clone, nil
		}
		for _, sub := range node.Metadata.Subresources {
			if _, ok := node.Clone.Values[sub.PropertyName]; ok {
				continue
			}
			node.Clone.Set(sub.PropertyName, iri.Subresource(prefix, node.Metadata.Route(), id, sub.PropertyName))
		}
		return node.Clone, nil
	}
}

// FlattenOptions control FlattenItem
type FlattenOptions struct {
	// Prefix is prepended to IRIs
	Prefix string
	// UseIRI flattens to "/api/role/1" rather than to the bare id
	UseIRI            bool
	OnlyFlattenNested bool
}

// FlattenItem replaces a node holding nothing but its primary key with its IRI,
// or its bare id when opts.UseIRI is false
func FlattenItem(opts FlattenOptions) DecorateFn {
	return func(ctx context.Context, node *Node) (interface{}, error) {
		if node.IsRoot && opts.OnlyFlattenNested {
			return node.Clone, nil
		}
		if !isReference(node.Clone, node.Metadata) {
			return node.Clone, nil
		}
		id := node.Clone.Values[node.Metadata.PrimaryName()]
		if !opts.UseIRI {
			return id, nil
		}
		return iri.Format(opts.Prefix, node.Metadata.Route(), id), nil
	}
}

// isReference reports whether rec holds nothing but the primary key of meta
func isReference(rec *schema.Record, meta *schema.EntityMetadata) bool {
	return rec.IsReference(meta.PrimaryName())
}
