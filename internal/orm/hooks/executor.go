// Package hooks runs the user extension points of the request pipeline.
package hooks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/conduit-lang/entityroutes/internal/orm/schema"
)

// Executor executes hooks
type Executor struct {
	registry   *Registry
	asyncQueue *AsyncQueue
	logger     *zap.Logger
}

// NewExecutor creates a new hook executor. asyncQueue may be nil when no async hook is registered.
func NewExecutor(registry *Registry, asyncQueue *AsyncQueue, logger *zap.Logger) *Executor {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		registry:   registry,
		asyncQueue: asyncQueue,
		logger:     logger,
	}
}

// Run executes the hooks of name for the event's entity, in registration order.
// The first failing synchronous hook stops the run.
func (e *Executor) Run(name Name, event *Event) error {
	entity := ""
	if event.Entity != nil {
		entity = event.Entity.Name
	}

	hooks := e.registry.GetHooks(entity, name)
	if len(hooks) == 0 {
		return nil
	}
	event.Name = name

	for _, hook := range hooks {
		if hook.Async {
			if err := e.enqueueAsyncHook(event, hook); err != nil {
				e.logger.Warn("failed to enqueue async hook", zap.Stringer("hook", name), zap.Error(err))
			}
			continue
		}
		if err := hook.Fn(event); err != nil {
			return fmt.Errorf("hook %s failed: %w", name, err)
		}
	}

	return nil
}

// HasHooks returns true if a hook of name applies to entity
func (e *Executor) HasHooks(entity string, name Name) bool {
	return e.registry.HasHooks(entity, name)
}

// Registry returns the hook registry
func (e *Executor) Registry() *Registry {
	return e.registry
}

func (e *Executor) enqueueAsyncHook(event *Event, hook *Hook) error {
	if e.asyncQueue == nil {
		return fmt.Errorf("async queue not configured")
	}

	// copied now, the request goes on mutating the original
	detached := event.detach(context.Background())

	return e.asyncQueue.Enqueue(AsyncTask{
		Name: fmt.Sprintf("%s_hook", hook.Name),
		Fn: func(ctx context.Context) error {
			detached.Context = ctx
			return hook.Fn(detached)
		},
	})
}

// deepCopyRecord copies a record graph so that async hooks never share it with the request
func deepCopyRecord(r *schema.Record) *schema.Record {
	if r == nil {
		return nil
	}
	return &schema.Record{Entity: r.Entity, Values: deepCopyMap(r.Values)}
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	copied := make(map[string]interface{}, len(m))
	for k, v := range m {
		copied[k] = deepCopyValue(v)
	}
	return copied
}

func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case *schema.Record:
		return deepCopyRecord(val)
	case []*schema.Record:
		records := make([]*schema.Record, len(val))
		for i, r := range val {
			records[i] = deepCopyRecord(r)
		}
		return records
	case map[string]interface{}:
		return deepCopyMap(val)
	case []interface{}:
		copySlice := make([]interface{}, len(val))
		for i, item := range val {
			copySlice[i] = deepCopyValue(item)
		}
		return copySlice
	case []string:
		copySlice := make([]string, len(val))
		copy(copySlice, val)
		return copySlice
	default:
		// scalars, time.Time and the like are copied by value
		return v
	}
}
