// Package handler serves entity routes. Each request runs through the hook pipeline
// of its operation:
//
//	create, update  beforeHandle, beforeClean, afterClean, beforeValidate, afterValidate,
//	                beforePersist, afterPersist, beforeRead, afterRead, beforeRespond,
//	                afterRespond, afterHandle
//	list, details   beforeHandle, beforeRead, afterRead, beforeRespond, afterRespond, afterHandle
//	delete          beforeHandle, beforeRemove, afterRemove, beforeRespond, afterRespond, afterHandle
package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/conduit-lang/entityroutes/internal/orm/cleaner"
	"github.com/conduit-lang/entityroutes/internal/orm/decorator"
	"github.com/conduit-lang/entityroutes/internal/orm/hooks"
	"github.com/conduit-lang/entityroutes/internal/orm/iri"
	"github.com/conduit-lang/entityroutes/internal/orm/reader"
	"github.com/conduit-lang/entityroutes/internal/orm/relation"
	"github.com/conduit-lang/entityroutes/internal/orm/repository"
	"github.com/conduit-lang/entityroutes/internal/orm/schema"
	"github.com/conduit-lang/entityroutes/internal/orm/transaction"
	"github.com/conduit-lang/entityroutes/internal/orm/validation"
	webcontext "github.com/conduit-lang/entityroutes/internal/web/context"
	"github.com/conduit-lang/entityroutes/internal/web/response"
)

// Operations
const (
	OpList    = "list"
	OpCreate  = "create"
	OpDetails = "details"
	OpUpdate  = "update"
	OpDelete  = "delete"
)

// Endpoint is one route served by the handler
type Endpoint struct {
	Entity    *schema.EntityMetadata
	Operation string

	// Parents is the subresource chain above Entity, outermost first.
	// ParentParams holds the URL param carrying each parent id.
	Parents      []*schema.RelationMetadata
	ParentParams []string

	// IDParam is the URL param carrying the item id, empty on collections
	IDParam string

	// Unlink makes a delete detach the item from its innermost parent instead of
	// removing it
	Unlink bool
}

// Config holds the collaborators of a Handler
type Config struct {
	Repositories *repository.Manager
	Transactions *transaction.Manager
	Cleaner      *cleaner.Cleaner
	Validator    *validation.Engine
	Reader       *reader.Reader
	Hooks        *hooks.Executor
	Renderer     *response.Renderer
	MaxDepth     relation.MaxDepthOptions
	Logger       *zap.Logger
}

// Handler turns endpoints into http handlers
type Handler struct {
	repos     *repository.Manager
	txs       *transaction.Manager
	cleaner   *cleaner.Cleaner
	validator *validation.Engine
	reader    *reader.Reader
	hooks     *hooks.Executor
	renderer  *response.Renderer
	maxDepth  relation.MaxDepthOptions
	logger    *zap.Logger
}

// New creates a handler
func New(cfg Config) *Handler {
	h := &Handler{
		repos:     cfg.Repositories,
		txs:       cfg.Transactions,
		cleaner:   cfg.Cleaner,
		validator: cfg.Validator,
		reader:    cfg.Reader,
		hooks:     cfg.Hooks,
		renderer:  cfg.Renderer,
		maxDepth:  cfg.MaxDepth,
		logger:    cfg.Logger,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.hooks == nil {
		h.hooks = hooks.NewExecutor(nil, nil, h.logger)
	}
	if h.renderer == nil {
		h.renderer = response.NewRenderer(false, h.logger)
	}
	if h.txs == nil {
		h.txs = transaction.NewManager(h.repos.DB(), h.logger)
	}
	return h
}

// Serve returns the http handler of ep
func (h *Handler) Serve(ep Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := response.Context{Operation: ep.Operation, Entity: ep.Entity.Name}

		rc, err := newRequestContext(r, ep)
		if err != nil {
			h.renderer.Error(w, r, c, err)
			return
		}
		ctx := webcontext.SetRequestContext(r.Context(), rc)

		event := hooks.NewEvent(ctx, ep.Operation, ep.Entity).WithDB(h.repos.DB())
		event.EntityID = rc.EntityID

		env, status, err := h.handle(event, ep, rc, c)
		if err != nil {
			h.renderer.Error(w, r, c, err)
			return
		}

		event.Response = hooks.NewRef(env)
		if err := h.hooks.Run(hooks.BeforeRespond, event); err != nil {
			h.renderer.Error(w, r, c, err)
			return
		}
		h.renderer.JSON(w, status, event.Response.Get())

		// the response is written, failures past this point can only be logged
		for _, name := range []hooks.Name{hooks.AfterRespond, hooks.AfterHandle} {
			if err := h.hooks.Run(name, event); err != nil {
				h.logger.Error("hook failed after response",
					zap.Stringer("hook", name),
					zap.String("entity", ep.Entity.Name),
					zap.String("request_id", webcontext.GetRequestID(ctx)),
					zap.Error(err))
			}
		}
	}
}

func (h *Handler) handle(event *hooks.Event, ep Endpoint, rc *webcontext.RequestContext, c response.Context) (*decorator.OrderedMap, int, error) {
	if err := h.hooks.Run(hooks.BeforeHandle, event); err != nil {
		return nil, 0, err
	}

	switch ep.Operation {
	case OpList:
		env, err := h.list(event, rc, c)
		return env, http.StatusOK, err
	case OpDetails:
		env, err := h.details(event, rc, c)
		return env, http.StatusOK, err
	case OpCreate:
		env, err := h.write(event, rc, c)
		return env, http.StatusCreated, err
	case OpUpdate:
		env, err := h.write(event, rc, c)
		return env, http.StatusOK, err
	case OpDelete:
		env, err := h.remove(event, ep, rc, c)
		return env, http.StatusOK, err
	}
	return nil, 0, fmt.Errorf("unsupported operation %q", ep.Operation)
}

func newRequestContext(r *http.Request, ep Endpoint) (*webcontext.RequestContext, error) {
	rc := &webcontext.RequestContext{
		Operation:        ep.Operation,
		Entity:           ep.Entity,
		Query:            r.URL.Query(),
		IsUpdateOrCreate: ep.Operation == OpCreate || ep.Operation == OpUpdate,
	}

	for i, rel := range ep.Parents {
		raw := chi.URLParam(r, ep.ParentParams[i])
		if raw == "" {
			return nil, response.BadRequest("missing "+rel.Entity.Name+" id", nil)
		}
		rc.Parents = append(rc.Parents, relation.SubresourceRelation{Relation: rel, ID: iri.ParseID(raw)})
	}

	if ep.IDParam != "" {
		raw := chi.URLParam(r, ep.IDParam)
		if raw == "" {
			return nil, response.BadRequest("missing "+ep.Entity.Name+" id", nil)
		}
		rc.EntityID = iri.ParseID(raw)
	}

	if rc.IsUpdateOrCreate {
		values, err := decodeBody(r)
		if err != nil {
			return nil, err
		}
		rc.Values = values
	}
	return rc, nil
}

// readOptions returns the reader options of the request
func (h *Handler) readOptions(event *hooks.Event, rc *webcontext.RequestContext, operation string) reader.Options {
	return reader.Options{
		Operation:    operation,
		MaxDepth:     h.maxDepth,
		Subresources: rc.Parents,
		Event:        event,
	}
}

