// Package reader fetches one item or a page of items with exactly the columns and
// joins their mapping exposes, and formats them for the response.
package reader

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/conduit-lang/entityroutes/internal/orm/decorator"
	"github.com/conduit-lang/entityroutes/internal/orm/hooks"
	"github.com/conduit-lang/entityroutes/internal/orm/mapping"
	"github.com/conduit-lang/entityroutes/internal/orm/query"
	"github.com/conduit-lang/entityroutes/internal/orm/relation"
	"github.com/conduit-lang/entityroutes/internal/orm/schema"
)

// ErrNotFound is returned by GetItem when no row matches
var ErrNotFound = errors.New("item not found")

// Options describe one read
type Options struct {
	Operation string
	MaxDepth  relation.MaxDepthOptions

	// Subresources is the parent chain of a nested route, outermost first:
	// /user/1/articles/2/comments is [{User.articles, 1}, {Article.comments, 2}]
	Subresources []relation.SubresourceRelation

	// Params only apply to collections
	Params Params

	// Event runs the beforeRead and afterRead hooks when set
	Event *hooks.Event
}

// Reader reads entities through a query builder
type Reader struct {
	mappings  *mapping.Manager
	relations *relation.Manager
	writer    *decorator.Writer
	hooks     *hooks.Executor
	logger    *zap.Logger
}

// Option configures a Reader
type Option func(*Reader)

// WithHooks sets the executor running beforeRead and afterRead
func WithHooks(exec *hooks.Executor) Option {
	return func(r *Reader) { r.hooks = exec }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(r *Reader) { r.logger = logger }
}

// New creates a reader
func New(mappings *mapping.Manager, relations *relation.Manager, writer *decorator.Writer, opts ...Option) *Reader {
	r := &Reader{
		mappings:  mappings,
		relations: relations,
		writer:    writer,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetItem reads the entity identified by id and returns it formatted.
// It returns ErrNotFound when no row matches.
func (r *Reader) GetItem(ctx context.Context, qb query.Builder, id interface{}, opts Options) (interface{}, error) {
	meta := qb.Metadata()
	root := r.mappings.Make(meta, opts.Operation, opts.MaxDepth)
	ah := relation.NewAliasHandler()

	if err := r.prepare(qb, meta, ah, opts); err != nil {
		return nil, err
	}
	qb.AndWhere(qb.Alias()+"."+meta.PrimaryName(), query.OpEqual, id)

	result := hooks.NewRef(hooks.ReadResult{})
	if err := r.runHook(hooks.BeforeRead, opts.Event, id, result); err != nil {
		return nil, err
	}
	if !result.IsSet() {
		item, err := qb.GetOne(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", meta.Name, err)
		}
		result.Set(hooks.ReadResult{Item: item})
	}
	if err := r.runHook(hooks.AfterRead, opts.Event, id, result); err != nil {
		return nil, err
	}

	item := result.Get().Item
	if item == nil {
		return nil, fmt.Errorf("%w: %s %v", ErrNotFound, meta.Name, id)
	}
	return r.writer.FormatItem(ctx, root, item), nil
}

// GetCollection reads one page of entities and returns them formatted, with the
// total count of entities matching the filters
func (r *Reader) GetCollection(ctx context.Context, qb query.Builder, opts Options) ([]interface{}, int, error) {
	meta := qb.Metadata()
	root := r.mappings.Make(meta, opts.Operation, opts.MaxDepth)
	ah := relation.NewAliasHandler()

	if err := r.prepare(qb, meta, ah, opts); err != nil {
		return nil, 0, err
	}
	r.applyParams(qb, meta, ah, opts.Params)

	result := hooks.NewRef(hooks.ReadResult{})
	if err := r.runHook(hooks.BeforeRead, opts.Event, nil, result); err != nil {
		return nil, 0, err
	}
	if !result.IsSet() {
		items, total, err := qb.GetManyAndCount(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read %s collection: %w", meta.Name, err)
		}
		result.Set(hooks.ReadResult{Items: items, Total: total})
	}
	if err := r.runHook(hooks.AfterRead, opts.Event, nil, result); err != nil {
		return nil, 0, err
	}

	res := result.Get()
	return r.writer.FormatItems(ctx, root, res.Items), res.Total, nil
}

// prepare restricts qb to the subresource parents, then selects the exposed props and
// the props computed props depend on
func (r *Reader) prepare(qb query.Builder, meta *schema.EntityMetadata, ah *relation.AliasHandler, opts Options) error {
	current, alias := meta, ""
	for i := len(opts.Subresources) - 1; i >= 0; i-- {
		sub := opts.Subresources[i]
		parentAlias, err := r.relations.JoinSubresourceOnInverseSide(qb, current, ah, sub, alias)
		if err != nil {
			return err
		}
		current, alias = sub.Relation.Entity, parentAlias
	}

	qb.Select(qb.Alias() + "." + meta.PrimaryName())
	r.relations.JoinAndSelectExposedProps(meta, opts.Operation, qb, meta, nil, "", opts.MaxDepth, ah)
	r.relations.JoinAndSelectPropsThatComputedPropsDependsOn(meta, opts.Operation, qb, meta, nil, "", opts.MaxDepth, ah)
	return nil
}

// applyParams maps filters, ordering and pagination onto qb. Paths that do not
// resolve are dropped.
func (r *Reader) applyParams(qb query.Builder, meta *schema.EntityMetadata, ah *relation.AliasHandler, p Params) {
	for _, f := range p.Filters {
		joined, ok := r.relations.MakeJoinsFromPropPath(qb, meta, f.Path, ah, "")
		if !ok {
			r.logger.Debug("dropping filter on unknown path", zap.String("entity", meta.Name), zap.String("path", f.Path))
			continue
		}
		qb.AndWhere(joined.EntityAlias+"."+joined.PropName, f.Operator, f.value(joined.Column))
	}

	for _, o := range p.OrderBy {
		joined, ok := r.relations.MakeJoinsFromPropPath(qb, meta, o.Path, ah, "")
		if !ok {
			r.logger.Debug("dropping order on unknown path", zap.String("entity", meta.Name), zap.String("path", o.Path))
			continue
		}
		qb.AddOrderBy(joined.EntityAlias+"."+joined.PropName, o.Direction)
	}

	take := p.Take
	if take <= 0 {
		take = DefaultTake
	}
	qb.Take(take)
	if p.Skip > 0 {
		qb.Skip(p.Skip)
	}
}

func (r *Reader) runHook(name hooks.Name, event *hooks.Event, id interface{}, result *hooks.Ref[hooks.ReadResult]) error {
	if r.hooks == nil || event == nil {
		return nil
	}
	if id != nil {
		event.EntityID = id
	}
	event.Result = result
	return r.hooks.Run(name, event)
}
