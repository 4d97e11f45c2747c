package cache

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/entityroutes/internal/orm/hooks"
	webcontext "github.com/conduit-lang/entityroutes/internal/web/context"
)

// ItemKey is the cache key of the details of one entity
func ItemKey(entity string, id interface{}) string {
	return fmt.Sprintf("item:%s:%v", entity, id)
}

// ReadThroughHooks caches the records read by details routes. Cache failures are
// logged and never fail the request.
type ReadThroughHooks struct {
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// ReadThrough creates the caching hooks over c
func ReadThrough(c Cache, ttl time.Duration, logger *zap.Logger) *ReadThroughHooks {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReadThroughHooks{cache: c, ttl: ttl, logger: logger}
}

// Register adds the hooks to reg for every entity
func (h *ReadThroughHooks) Register(reg *hooks.Registry) {
	reg.On(hooks.BeforeRead, h.BeforeRead)
	reg.On(hooks.AfterRead, h.AfterRead)
	reg.On(hooks.AfterPersist, h.Invalidate)
	reg.On(hooks.AfterRemove, h.Invalidate)
}

// BeforeRead replaces the read with the cached record, if any
func (h *ReadThroughHooks) BeforeRead(e *hooks.Event) error {
	key, ok := cacheable(e)
	if !ok {
		return nil
	}

	data, err := h.cache.Get(e, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			h.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return nil
	}

	rec, err := decodeRecord(data)
	if err != nil {
		h.logger.Warn("dropping unreadable cache entry", zap.String("key", key), zap.Error(err))
		_ = h.cache.Delete(e, key)
		return nil
	}
	e.Result.Set(hooks.ReadResult{Item: rec})
	return nil
}

// AfterRead stores the record that was read
func (h *ReadThroughHooks) AfterRead(e *hooks.Event) error {
	key, ok := cacheable(e)
	if !ok {
		return nil
	}
	item := e.Result.Get().Item
	if item == nil {
		return nil
	}

	data, err := encodeRecord(item)
	if err != nil {
		h.logger.Warn("cannot cache record", zap.String("key", key), zap.Error(err))
		return nil
	}
	if err := h.cache.Set(e, key, data, h.ttl); err != nil {
		h.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}

// Invalidate drops the cached record of a written or removed entity
func (h *ReadThroughHooks) Invalidate(e *hooks.Event) error {
	if e.Entity == nil || e.EntityID == nil {
		return nil
	}
	key := ItemKey(e.Entity.Name, e.EntityID)
	if err := h.cache.Delete(e, key); err != nil {
		h.logger.Warn("cache invalidation failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}

// cacheable returns the key of reads on top level details routes
func cacheable(e *hooks.Event) (string, bool) {
	if e.Operation != "details" || e.Entity == nil || e.EntityID == nil || e.Result == nil {
		return "", false
	}
	if rc, ok := webcontext.GetRequestContext(e); ok && rc.IsSubresource() {
		return "", false
	}
	return ItemKey(e.Entity.Name, e.EntityID), true
}
