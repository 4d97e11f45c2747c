package router

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/conduit-lang/entityroutes/internal/web/middleware"
)

// Router manages HTTP routing using chi framework
type Router struct {
	mux    chi.Router
	prefix string

	// Middleware chain
	chain *middleware.Chain

	// For introspection and debugging
	registeredRoutes []*RouteInfo
}

// RouteInfo provides metadata about a route for introspection
type RouteInfo struct {
	Pattern   string `json:"pattern"`
	Method    string `json:"method"`
	Entity    string `json:"entity"`
	Operation string `json:"operation"`

	// Subresource is the relation a nested route goes through, e.g. "User.articles"
	Subresource string   `json:"subresource,omitempty"`
	Parameters  []string `json:"parameters"`
}

// NewRouter creates a router serving entity routes below prefix, e.g. "/api"
func NewRouter(prefix string) *Router {
	return &Router{
		mux:              chi.NewRouter(),
		prefix:           strings.TrimRight(prefix, "/"),
		chain:            middleware.NewChain(),
		registeredRoutes: make([]*RouteInfo, 0),
	}
}

// ServeHTTP implements http.Handler interface
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Use adds middleware to the router's middleware chain. It must be called before
// any route is registered.
func (r *Router) Use(middlewares ...middleware.Middleware) {
	for _, m := range middlewares {
		r.chain.Use(m)
		r.mux.Use(m)
	}
}

// Handle registers a route with the given method, pattern, and handler.
// The pattern is relative to the router prefix.
func (r *Router) Handle(method, pattern string, handler http.HandlerFunc) *RouteInfo {
	full := r.prefix + pattern
	r.mux.Method(method, full, handler)

	info := &RouteInfo{
		Pattern:    full,
		Method:     method,
		Parameters: extractParameters(full),
	}
	r.registeredRoutes = append(r.registeredRoutes, info)
	return info
}

// Routes returns all registered routes for introspection
func (r *Router) Routes() []*RouteInfo {
	return r.registeredRoutes
}

// NotFound sets the handler for 404 Not Found
func (r *Router) NotFound(handler http.HandlerFunc) {
	r.mux.NotFound(handler)
}

// MethodNotAllowed sets the handler for 405 Method Not Allowed
func (r *Router) MethodNotAllowed(handler http.HandlerFunc) {
	r.mux.MethodNotAllowed(handler)
}

// RouteList returns a formatted list of all routes
func (r *Router) RouteList() string {
	var sb strings.Builder
	sb.WriteString("Registered Routes:\n")
	sb.WriteString(strings.Repeat("-", 96) + "\n")
	sb.WriteString(fmt.Sprintf("%-8s %-48s %-14s %-10s\n", "METHOD", "PATTERN", "ENTITY", "OPERATION"))
	sb.WriteString(strings.Repeat("-", 96) + "\n")

	for _, info := range r.registeredRoutes {
		sb.WriteString(fmt.Sprintf("%-8s %-48s %-14s %-10s\n", info.Method, info.Pattern, info.Entity, info.Operation))
	}

	return sb.String()
}

// extractParameters returns the names of the path parameters of a pattern
func extractParameters(pattern string) []string {
	params := make([]string, 0)
	for _, part := range strings.Split(pattern, "/") {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			params = append(params, strings.Trim(part, "{}"))
		}
	}
	return params
}
