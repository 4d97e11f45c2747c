package handler

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/conduit-lang/entityroutes/internal/orm/decorator"
	"github.com/conduit-lang/entityroutes/internal/orm/hooks"
	"github.com/conduit-lang/entityroutes/internal/orm/reader"
	"github.com/conduit-lang/entityroutes/internal/orm/schema"
	"github.com/conduit-lang/entityroutes/internal/orm/validation"
	webcontext "github.com/conduit-lang/entityroutes/internal/web/context"
	"github.com/conduit-lang/entityroutes/internal/web/response"
)

func (h *Handler) list(event *hooks.Event, rc *webcontext.RequestContext, c response.Context) (*decorator.OrderedMap, error) {
	params, err := reader.ParseParams(rc.Query)
	if err != nil {
		return nil, err
	}

	meta := event.Entity
	qb := h.repos.For(meta).CreateQueryBuilder(event, meta.TableName)
	opts := h.readOptions(event, rc, OpList)
	opts.Params = params

	items, total, err := h.reader.GetCollection(event, qb, opts)
	if err != nil {
		return nil, err
	}
	return response.Collection(c, items, total), nil
}

func (h *Handler) details(event *hooks.Event, rc *webcontext.RequestContext, c response.Context) (*decorator.OrderedMap, error) {
	meta := event.Entity
	qb := h.repos.For(meta).CreateQueryBuilder(event, meta.TableName)
	opts := h.readOptions(event, rc, OpDetails)

	// a to-one subresource is addressed through its parent only
	if rc.EntityID == nil {
		opts.Params = reader.Params{Take: 1}
		items, _, err := h.reader.GetCollection(event, qb, opts)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("%w: %s of %s", reader.ErrNotFound, meta.Name, rc.Parents[len(rc.Parents)-1].Relation)
		}
		return response.Item(c, items[0]), nil
	}

	item, err := h.reader.GetItem(event, qb, rc.EntityID, opts)
	if err != nil {
		return nil, err
	}
	return response.Item(c, item), nil
}

// write creates or updates the item inside a transaction, then reads it back
func (h *Handler) write(event *hooks.Event, rc *webcontext.RequestContext, c response.Context) (*decorator.OrderedMap, error) {
	tx, err := h.txs.Begin(event)
	if err != nil {
		return nil, err
	}
	defer tx.RollbackUnlessCommitted()

	txEvent := event.InTransaction(tx.Context(), tx.Tx())
	defer event.Adopt(txEvent)
	event = txEvent

	id, err := h.persist(event, rc)
	if err != nil {
		return nil, err
	}

	meta := event.Entity
	qb := h.repos.For(meta).CreateQueryBuilder(event, meta.TableName)
	opts := h.readOptions(event, rc, OpDetails)
	// the written item is read back from its own route
	opts.Subresources = nil

	item, err := h.reader.GetItem(event, qb, id, opts)
	if err != nil {
		return nil, err
	}
	rc.Refetched = true

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return response.Item(c, item), nil
}

// persist runs the clean, validate and persist steps and returns the id of the saved item
func (h *Handler) persist(event *hooks.Event, rc *webcontext.RequestContext) (interface{}, error) {
	meta := event.Entity
	pk := meta.PrimaryName()

	event.Values = hooks.NewRef(rc.Values)
	if err := h.hooks.Run(hooks.BeforeClean, event); err != nil {
		return nil, err
	}
	event.Values.Set(h.cleaner.CleanItem(meta, event.Values.Get(), rc.Operation, h.maxDepth))
	if err := h.hooks.Run(hooks.AfterClean, event); err != nil {
		return nil, err
	}

	values := event.Values.Get()
	if values == nil {
		values = make(map[string]interface{})
	}
	if rc.Operation == OpUpdate {
		values[pk] = rc.EntityID
	} else {
		delete(values, pk)
	}

	repo := h.repos.For(meta)
	event.Item = hooks.NewRef(repo.Create(values))
	if err := h.hooks.Run(hooks.BeforeValidate, event); err != nil {
		return nil, err
	}

	errs := h.validator.ValidateItem(event, meta, event.Item.Get(), validation.Options{
		Operation:             rc.Operation,
		SkipMissingProperties: rc.Operation == OpUpdate,
	})
	event.Errors = hooks.NewRef[error](nil)
	if errs.HasErrors() {
		event.Errors.Set(errs)
	}
	if err := h.hooks.Run(hooks.AfterValidate, event); err != nil {
		return nil, err
	}
	if err := event.Errors.Get(); err != nil {
		return nil, err
	}

	if err := h.hooks.Run(hooks.BeforePersist, event); err != nil {
		return nil, err
	}
	saved, err := repo.Save(event, event.Item.Get())
	if err != nil {
		return nil, err
	}
	event.Item.Set(saved)
	id := saved.Values[pk]
	event.EntityID = id
	rc.EntityID = id

	if parent, ok := rc.Parent(); ok && rc.Operation == OpCreate {
		owner := h.repos.For(parent.Relation.Entity)
		if err := owner.Link(event, parent.ID, parent.Relation.PropertyName, id); err != nil {
			return nil, err
		}
	}

	if err := h.hooks.Run(hooks.AfterPersist, event); err != nil {
		return nil, err
	}
	h.logger.Debug("item persisted",
		zap.String("entity", meta.Name),
		zap.String("operation", rc.Operation),
		zap.Any("id", id))
	return id, nil
}

// remove deletes the item, or detaches it from its parent on unlink routes
func (h *Handler) remove(event *hooks.Event, ep Endpoint, rc *webcontext.RequestContext, c response.Context) (*decorator.OrderedMap, error) {
	tx, err := h.txs.Begin(event)
	if err != nil {
		return nil, err
	}
	defer tx.RollbackUnlessCommitted()

	txEvent := event.InTransaction(tx.Context(), tx.Tx())
	defer event.Adopt(txEvent)
	event = txEvent

	meta := event.Entity
	event.Item = hooks.NewRef(schema.NewRecord(meta.Name, map[string]interface{}{meta.PrimaryName(): rc.EntityID}))
	if err := h.hooks.Run(hooks.BeforeRemove, event); err != nil {
		return nil, err
	}

	parent, nested := rc.Parent()
	if ep.Unlink && nested {
		owner := h.repos.For(parent.Relation.Entity)
		err = owner.Unlink(event, parent.ID, parent.Relation.PropertyName, rc.EntityID)
	} else {
		err = h.repos.For(meta).Delete(event, rc.EntityID)
	}
	if err != nil {
		return nil, err
	}

	if err := h.hooks.Run(hooks.AfterRemove, event); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return response.Deleted(c, rc.EntityID), nil
}
