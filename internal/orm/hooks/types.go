package hooks

import (
	"sync"
)

// Name identifies an extension point of the request pipeline
type Name string

// Hook names, in pipeline order
const (
	BeforeHandle   Name = "beforeHandle"
	BeforeClean    Name = "beforeClean"
	AfterClean     Name = "afterClean"
	BeforeValidate Name = "beforeValidate"
	AfterValidate  Name = "afterValidate"
	BeforePersist  Name = "beforePersist"
	AfterPersist   Name = "afterPersist"
	BeforeRemove   Name = "beforeRemove"
	AfterRemove    Name = "afterRemove"
	BeforeRead     Name = "beforeRead"
	AfterRead      Name = "afterRead"
	BeforeRespond  Name = "beforeRespond"
	AfterRespond   Name = "afterRespond"
	AfterHandle    Name = "afterHandle"
)

// Pipelines, i.e. the order hooks run in for each kind of operation
var (
	WriteOrder = []Name{
		BeforeHandle, BeforeClean, AfterClean, BeforeValidate, AfterValidate,
		BeforePersist, AfterPersist, BeforeRead, AfterRead,
		BeforeRespond, AfterRespond, AfterHandle,
	}
	ReadOrder   = []Name{BeforeHandle, BeforeRead, AfterRead, BeforeRespond, AfterRespond, AfterHandle}
	DeleteOrder = []Name{BeforeHandle, BeforeRemove, AfterRemove, BeforeRespond, AfterRespond, AfterHandle}
)

// OrderFor returns the pipeline of an operation
func OrderFor(operation string) []Name {
	switch operation {
	case "create", "update":
		return WriteOrder
	case "delete":
		return DeleteOrder
	}
	return ReadOrder
}

// String returns the hook name
func (n Name) String() string { return string(n) }

// Ref boxes an in-flight value so that a hook can replace it
type Ref[T any] struct {
	value T
	set   bool
}

// NewRef creates a box holding v
func NewRef[T any](v T) *Ref[T] {
	return &Ref[T]{value: v}
}

// Get returns the boxed value
func (r *Ref[T]) Get() T {
	return r.value
}

// Set replaces the boxed value
func (r *Ref[T]) Set(v T) {
	r.value = v
	r.set = true
}

// IsSet reports whether a hook replaced the value
func (r *Ref[T]) IsSet() bool {
	return r != nil && r.set
}

// HookFunc is a hook implementation
type HookFunc func(e *Event) error

// Hook represents a registered hook
type Hook struct {
	Name Name
	Fn   HookFunc
	// Async hooks run on the async queue after the response, on a copy of the event
	Async bool
}

// Registry holds hooks, globally or per entity.
// It is written during startup and read concurrently afterwards.
type Registry struct {
	mu       sync.RWMutex
	global   map[Name][]*Hook
	byEntity map[string]map[Name][]*Hook
}

// NewRegistry creates a new hook registry
func NewRegistry() *Registry {
	return &Registry{
		global:   make(map[Name][]*Hook),
		byEntity: make(map[string]map[Name][]*Hook),
	}
}

// Register adds a hook run for every entity
func (r *Registry) Register(name Name, hook *Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hook.Name = name
	r.global[name] = append(r.global[name], hook)
}

// RegisterFor adds a hook run for one entity only
func (r *Registry) RegisterFor(entity string, name Name, hook *Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hook.Name = name
	byName, ok := r.byEntity[entity]
	if !ok {
		byName = make(map[Name][]*Hook)
		r.byEntity[entity] = byName
	}
	byName[name] = append(byName[name], hook)
}

// On is a shorthand registering a synchronous hook function
func (r *Registry) On(name Name, fn HookFunc) {
	r.Register(name, &Hook{Fn: fn})
}

// GetHooks returns the global hooks of name followed by those of entity
func (r *Registry) GetHooks(entity string, name Name) []*Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	global := r.global[name]
	scoped := r.byEntity[entity][name]
	if len(scoped) == 0 {
		return global
	}
	hooks := make([]*Hook, 0, len(global)+len(scoped))
	hooks = append(hooks, global...)
	return append(hooks, scoped...)
}

// HasHooks returns true if a hook of name applies to entity
func (r *Registry) HasHooks(entity string, name Name) bool {
	return len(r.GetHooks(entity, name)) > 0
}
