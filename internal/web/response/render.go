// Package response writes the JSON envelope of entity routes:
//
//	{"@context": {"operation": ..., "entity": ..., ...}, ...}
//
// Items spread their props next to "@context", collections put them under "items",
// deletions answer with "deleted".
package response

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/conduit-lang/entityroutes/internal/orm/decorator"
	"github.com/conduit-lang/entityroutes/internal/orm/validation"
)

// ContextKey is the envelope member describing the response
const ContextKey = "@context"

// Context is the "@context" member
type Context struct {
	Operation string
	Entity    string
}

func (c Context) ordered() *decorator.OrderedMap {
	m := decorator.NewOrderedMap()
	m.Set("operation", c.Operation)
	m.Set("entity", c.Entity)
	return m
}

// Item returns the envelope of one formatted item
func Item(c Context, item interface{}) *decorator.OrderedMap {
	env := decorator.NewOrderedMap()
	env.Set(ContextKey, c.ordered())
	if props, ok := item.(*decorator.OrderedMap); ok {
		for _, key := range props.Keys() {
			v, _ := props.Get(key)
			env.Set(key, v)
		}
		return env
	}
	// the root item got flattened to its id or IRI
	env.Set("@id", item)
	return env
}

// Collection returns the envelope of a page of items
func Collection(c Context, items []interface{}, total int) *decorator.OrderedMap {
	meta := c.ordered()
	meta.Set("totalItems", total)
	meta.Set("retrievedItems", len(items))

	if items == nil {
		items = []interface{}{}
	}
	env := decorator.NewOrderedMap()
	env.Set(ContextKey, meta)
	env.Set("items", items)
	return env
}

// Deleted returns the envelope of a deletion
func Deleted(c Context, id interface{}) *decorator.OrderedMap {
	env := decorator.NewOrderedMap()
	env.Set(ContextKey, c.ordered())
	env.Set("deleted", id)
	return env
}

// Renderer writes envelopes and errors
type Renderer struct {
	debug  bool
	logger *zap.Logger
}

// NewRenderer creates a renderer. With debug set, error messages of failed requests
// are sent to the client.
func NewRenderer(debug bool, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{debug: debug, logger: logger}
}

// JSON writes v with the given status
func (r *Renderer) JSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		r.logger.Error("failed to encode response", zap.Error(err))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(http.StatusText(http.StatusInternalServerError)))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// ErrorEnvelope returns the envelope answering err and its status.
// Validation errors are listed under "validationErrors"; the error message itself
// is only disclosed in debug mode.
func (r *Renderer) ErrorEnvelope(c Context, err error) (*decorator.OrderedMap, int) {
	status := StatusFor(err)

	meta := c.ordered()
	var validationErr *validation.ValidationErrors
	if errors.As(err, &validationErr) {
		meta.Set("validationErrors", validationErr)
	}

	message := http.StatusText(status)
	var httpErr *HTTPError
	switch {
	case r.debug:
		message = err.Error()
	case errors.As(err, &httpErr) && status < http.StatusInternalServerError:
		message = httpErr.Message
	}
	meta.Set("error", message)

	env := decorator.NewOrderedMap()
	env.Set(ContextKey, meta)
	return env, status
}

// Error writes the envelope answering err
func (r *Renderer) Error(w http.ResponseWriter, req *http.Request, c Context, err error) {
	env, status := r.ErrorEnvelope(c, err)
	if status >= http.StatusInternalServerError {
		r.logger.Error("request failed",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Error(err))
	} else {
		r.logger.Debug("request rejected",
			zap.String("path", req.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	r.JSON(w, status, env)
}
