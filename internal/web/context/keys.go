package context

import (
	"context"
	"net/url"

	"github.com/conduit-lang/entityroutes/internal/orm/relation"
	"github.com/conduit-lang/entityroutes/internal/orm/schema"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey int

const (
	requestIDKey contextKey = iota
	requestContextKey
)

// RequestContext is the per-request state of an entity route. It is allocated
// for each request and never shared.
type RequestContext struct {
	Operation string
	Entity    *schema.EntityMetadata

	// EntityID is the id from the URL, nil on collection routes
	EntityID interface{}

	// Values is the decoded request body
	Values map[string]interface{}
	Query  url.Values

	// Parents is the subresource chain of a nested route, outermost first
	Parents []relation.SubresourceRelation

	IsUpdateOrCreate bool

	// Refetched is set once a written item was read back for the response
	Refetched bool
}

// IsSubresource reports whether the route is nested below a parent entity
func (rc *RequestContext) IsSubresource() bool {
	return len(rc.Parents) > 0
}

// Parent returns the innermost parent of a nested route
func (rc *RequestContext) Parent() (relation.SubresourceRelation, bool) {
	if len(rc.Parents) == 0 {
		return relation.SubresourceRelation{}, false
	}
	return rc.Parents[len(rc.Parents)-1], true
}

// GetRequestID extracts the request ID from the context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// SetRequestID adds the request ID to the context
func SetRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestContext extracts the request context of an entity route
func GetRequestContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey).(*RequestContext)
	return rc, ok
}

// SetRequestContext adds the request context to the context
func SetRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey, rc)
}
