package router

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/conduit-lang/entityroutes/internal/orm/relation"
	"github.com/conduit-lang/entityroutes/internal/orm/schema"
	"github.com/conduit-lang/entityroutes/internal/web/handler"
)

// ErrUnknownSubresource is returned for a subresource declared on a prop that is not a relation
var ErrUnknownSubresource = errors.New("subresource is not a relation")

// EndpointHandler serves endpoints. *handler.Handler implements it.
type EndpointHandler interface {
	Serve(ep handler.Endpoint) http.HandlerFunc
}

// RegisterEntities registers the routes of every entity of registry that has a route path:
//
//	GET    /<path>              list
//	POST   /<path>              create
//	GET    /<path>/{id}         details
//	PUT    /<path>/{id}         update
//	DELETE /<path>/{id}         delete
//
// followed by the routes of its subresources. A subresource whose relation has no
// inverse side fails the registration.
func (r *Router) RegisterEntities(registry *schema.Registry, h EndpointHandler) error {
	for _, meta := range registry.All() {
		if meta.RoutePath == "" {
			continue
		}
		base := "/" + meta.RoutePath
		item := base + "/{" + paramAt(0) + "}"

		r.endpoint(http.MethodGet, base, h, handler.Endpoint{Entity: meta, Operation: handler.OpList})
		r.endpoint(http.MethodPost, base, h, handler.Endpoint{Entity: meta, Operation: handler.OpCreate})
		r.endpoint(http.MethodGet, item, h, handler.Endpoint{Entity: meta, Operation: handler.OpDetails, IDParam: paramAt(0)})
		r.endpoint(http.MethodPut, item, h, handler.Endpoint{Entity: meta, Operation: handler.OpUpdate, IDParam: paramAt(0)})
		r.endpoint(http.MethodDelete, item, h, handler.Endpoint{Entity: meta, Operation: handler.OpDelete, IDParam: paramAt(0)})

		if err := r.registerSubresources(h, meta, item, nil, -1); err != nil {
			return err
		}
	}
	return nil
}

// registerSubresources registers the nested routes below the item route of meta.
// budget is how many more levels may be chained, negative when unbounded so far.
func (r *Router) registerSubresources(h EndpointHandler, meta *schema.EntityMetadata, itemPattern string, parents []*schema.RelationMetadata, budget int) error {
	for _, sub := range meta.Subresources {
		rel := meta.FindRelation(sub.PropertyName)
		if rel == nil {
			return fmt.Errorf("%w: %s.%s", ErrUnknownSubresource, meta.Name, sub.PropertyName)
		}
		if rel.InverseRelation == nil {
			return fmt.Errorf("%w: %s", relation.ErrMissingInverseSide, rel)
		}

		levels := sub.MaxDepth
		if budget >= 0 && budget < levels {
			levels = budget
		}
		if levels < 1 {
			continue
		}

		chain := append(append([]*schema.RelationMetadata{}, parents...), rel)
		params := make([]string, len(chain))
		for i := range chain {
			params[i] = paramAt(i)
		}
		depth := len(chain)
		collection := itemPattern + "/" + sub.PropertyName
		target := rel.InverseEntity

		ep := func(op, idParam string) handler.Endpoint {
			return handler.Endpoint{
				Entity:       target,
				Operation:    op,
				Parents:      chain,
				ParentParams: params,
				IDParam:      idParam,
				Unlink:       op == handler.OpDelete,
			}
		}

		if !rel.IsToMany() {
			// a to-one subresource only reads the related item
			if hasOperation(sub, handler.OpDetails) {
				r.subresource(http.MethodGet, collection, h, ep(handler.OpDetails, ""), rel)
			}
			continue
		}

		nestedItem := collection + "/{" + paramAt(depth) + "}"
		for _, op := range sub.Operations {
			switch op {
			case handler.OpList:
				r.subresource(http.MethodGet, collection, h, ep(op, ""), rel)
			case handler.OpCreate:
				r.subresource(http.MethodPost, collection, h, ep(op, ""), rel)
			case handler.OpDetails:
				r.subresource(http.MethodGet, nestedItem, h, ep(op, paramAt(depth)), rel)
			case handler.OpDelete:
				r.subresource(http.MethodDelete, nestedItem, h, ep(op, paramAt(depth)), rel)
			}
		}

		if err := r.registerSubresources(h, target, nestedItem, chain, levels-1); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) endpoint(method, pattern string, h EndpointHandler, ep handler.Endpoint) *RouteInfo {
	info := r.Handle(method, pattern, h.Serve(ep))
	info.Entity = ep.Entity.Name
	info.Operation = ep.Operation
	return info
}

func (r *Router) subresource(method, pattern string, h EndpointHandler, ep handler.Endpoint, rel *schema.RelationMetadata) {
	info := r.endpoint(method, pattern, h, ep)
	info.Subresource = rel.String()
	if ep.Unlink {
		info.Operation = "unlink"
	}
}

// paramAt names the id param of the item at a nesting depth: id, subId, subId2...
func paramAt(depth int) string {
	switch depth {
	case 0:
		return "id"
	case 1:
		return "subId"
	}
	return fmt.Sprintf("subId%d", depth)
}

func hasOperation(sub *schema.SubresourceMeta, op string) bool {
	for _, o := range sub.Operations {
		if o == op {
			return true
		}
	}
	return false
}
