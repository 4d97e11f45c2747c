package groups

import (
	"errors"
	"sync"
	"sync/atomic"
)

// DefaultKey is the metadata key used by routes unless configured otherwise
const DefaultKey = "groups"

// ErrFrozen is returned when exposing props after Freeze
var ErrFrozen = errors.New("groups registry is frozen")

type metadataKey struct {
	key    string
	entity string
}

// Registry caches one GroupsMetadata per (metadata key, entity) for the process lifetime
type Registry struct {
	metas  map[metadataKey]*GroupsMetadata
	frozen atomic.Bool
	mu     sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{metas: make(map[metadataKey]*GroupsMetadata)}
}

// For returns the groups of entity under the default key
func (r *Registry) For(entity string) *GroupsMetadata {
	return r.ForKey(DefaultKey, entity)
}

// ForKey returns the groups of entity under key, creating them lazily
func (r *Registry) ForKey(key, entity string) *GroupsMetadata {
	k := metadataKey{key: key, entity: entity}

	r.mu.RLock()
	meta, ok := r.metas[k]
	r.mu.RUnlock()
	if ok {
		return meta
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if meta, ok := r.metas[k]; ok {
		return meta
	}
	meta = newGroupsMetadata(key, entity, &r.frozen)
	r.metas[k] = meta
	return meta
}

// Expose is a shorthand for AddPropToGlobalGroups on the default key
func (r *Registry) Expose(entity string, ops []string, props ...string) error {
	meta := r.For(entity)
	for _, prop := range props {
		if err := meta.AddPropToGlobalGroups(ops, prop); err != nil {
			return err
		}
	}
	return nil
}

// ExposeOnRoutes is a shorthand for AddPropToRoutesGroups on the default key
func (r *Registry) ExposeOnRoutes(entity string, routes map[string][]string, props ...string) error {
	meta := r.For(entity)
	for _, prop := range props {
		if err := meta.AddPropToRoutesGroups(routes, prop); err != nil {
			return err
		}
	}
	return nil
}

// Freeze makes every GroupsMetadata read-only
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}

// IsFrozen reports whether Freeze was called
func (r *Registry) IsFrozen() bool {
	return r.frozen.Load()
}
