package decorator

import (
	"context"
	"sort"

	"github.com/conduit-lang/entityroutes/internal/orm/groups"
	"github.com/conduit-lang/entityroutes/internal/orm/mapping"
	"github.com/conduit-lang/entityroutes/internal/orm/schema"
)

// WriterOptions shape the formatted output
type WriterOptions struct {
	APIPrefix string

	ShouldSetSubresourcesIRI bool `mapstructure:"should_set_subresources_iri"`
	// ShouldFlattenIRI flattens id-only relations to their IRI instead of their bare id
	ShouldFlattenIRI        bool `mapstructure:"should_flatten_iri"`
	ShouldOnlyFlattenNested bool `mapstructure:"should_only_flatten_nested"`
	SortKeys                bool `mapstructure:"sort_keys"`

	// Less orders keys when SortKeys is set, alphabetical by default
	Less func(a, b string) bool `mapstructure:"-"`
}

// DefaultWriterOptions returns the options used when none are configured
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{
		APIPrefix:                "/api",
		ShouldSetSubresourcesIRI: true,
		ShouldOnlyFlattenNested:  true,
	}
}

// Writer formats records read for a mapping into response objects
type Writer struct {
	decorator *Decorator
	opts      WriterOptions
}

// NewWriter creates a writer
func NewWriter(d *Decorator, opts WriterOptions) *Writer {
	return &Writer{decorator: d, opts: opts}
}

// FormatItem decorates item and returns it as an *OrderedMap, or as an id or IRI when
// the root itself got flattened
func (w *Writer) FormatItem(ctx context.Context, root *mapping.Item, item *schema.Record) interface{} {
	out := w.decorator.DecorateItem(ctx, item, w.decorateFn(root))
	formatted := w.toOrdered(out, root)
	if w.opts.SortKeys {
		less := w.opts.Less
		if less == nil {
			less = func(a, b string) bool { return a < b }
		}
		sortNested(formatted, less)
	}
	return formatted
}

// FormatItems formats a page of items
func (w *Writer) FormatItems(ctx context.Context, root *mapping.Item, items []*schema.Record) []interface{} {
	out := make([]interface{}, len(items))
	for i, item := range items {
		out[i] = w.FormatItem(ctx, root, item)
	}
	return out
}

func (w *Writer) decorateFn(root *mapping.Item) DecorateFn {
	fns := []DecorateFn{KeepExposedProps(root), SetComputedPropsOnItem(root)}
	if w.opts.ShouldSetSubresourcesIRI {
		fns = append(fns, SetSubresourcesIriOnItem(w.opts.APIPrefix))
	}
	fns = append(fns, FlattenItem(FlattenOptions{
		Prefix:            w.opts.APIPrefix,
		UseIRI:            w.opts.ShouldFlattenIRI,
		OnlyFlattenNested: w.opts.ShouldOnlyFlattenNested,
	}))
	return Compose(fns...)
}

// toOrdered converts decorated records into ordered maps: primary key first, then the
// exposed props and computed props in exposure order, then anything else alphabetically
func (w *Writer) toOrdered(value interface{}, item *mapping.Item) interface{} {
	switch v := value.(type) {
	case *schema.Record:
		return w.recordToOrdered(v, item)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, elem := range v {
			out[i] = w.toOrdered(elem, item)
		}
		return out
	}
	return value
}

func (w *Writer) recordToOrdered(rec *schema.Record, item *mapping.Item) *OrderedMap {
	m := NewOrderedMap()
	add := func(key string) {
		value, ok := rec.Values[key]
		if !ok {
			return
		}
		if _, done := m.Get(key); done {
			return
		}
		var child *mapping.Item
		if item != nil {
			child = item.Mapping[key]
		}
		m.Set(key, w.toOrdered(value, child))
	}

	if meta, ok := w.decorator.registry.MetadataOf(rec); ok {
		add(meta.PrimaryName())
	}
	if item != nil {
		for _, prop := range item.ExposedProps {
			add(prop)
		}
		for _, name := range item.ComputedProps {
			add(groups.ComputedPropKey(name))
		}
	}

	rest := make([]string, 0, len(rec.Values))
	for key := range rec.Values {
		if _, done := m.Get(key); !done {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		add(key)
	}
	return m
}
