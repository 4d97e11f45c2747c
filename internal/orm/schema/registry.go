package schema

import (
	"errors"
	"fmt"
	"sync"
)

// Registry holds every entity of the application.
//
// Entities are registered during startup, then Freeze links relations and
// makes the registry read-only. Lookups only answer once frozen.
type Registry struct {
	entities map[string]*EntityMetadata
	byTable  map[string]*EntityMetadata
	order    []string
	frozen   bool
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[string]*EntityMetadata),
		byTable:  make(map[string]*EntityMetadata),
	}
}

// Register adds the entity built by b
func (r *Registry) Register(b *EntityBuilder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrFrozen
	}
	if len(b.errors) > 0 {
		return fmt.Errorf("invalid entity %s: %w", b.meta.Name, errors.Join(b.errors...))
	}

	meta := b.meta
	if _, exists := r.entities[meta.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateEntity, meta.Name)
	}
	if other, exists := r.byTable[meta.TableName]; exists {
		return fmt.Errorf("%w: table %s is already used by %s", ErrDuplicateEntity, meta.TableName, other.Name)
	}

	meta.index()
	if meta.PrimaryColumn() == nil {
		return fmt.Errorf("%w: %s", ErrMissingPrimary, meta.Name)
	}

	r.entities[meta.Name] = meta
	r.byTable[meta.TableName] = meta
	r.order = append(r.order, meta.Name)
	return nil
}

// MustRegister registers every builder and panics on the first error
func (r *Registry) MustRegister(builders ...*EntityBuilder) {
	for _, b := range builders {
		if err := r.Register(b); err != nil {
			panic(err)
		}
	}
}

// Freeze resolves relation targets and inverse sides, then makes the registry read-only
func (r *Registry) Freeze() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return nil
	}

	var errs []error
	for _, name := range r.order {
		for _, rel := range r.entities[name].Relations {
			target, ok := r.entities[rel.target]
			if !ok {
				errs = append(errs, fmt.Errorf("%w: %s targets %s", ErrUnknownEntity, rel, rel.target))
				continue
			}
			rel.InverseEntity = target
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for _, name := range r.order {
		for _, rel := range r.entities[name].Relations {
			if err := linkInverse(rel); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for _, name := range r.order {
		meta := r.entities[name]
		for _, sub := range meta.Subresources {
			rel := meta.FindRelation(sub.PropertyName)
			if rel == nil {
				errs = append(errs, fmt.Errorf("%s: subresource %s is not a relation", meta.Name, sub.PropertyName))
			}
		}
		for _, c := range meta.Computed {
			for _, path := range c.DependsOn {
				if path == "" {
					errs = append(errs, fmt.Errorf("%s.%s: empty dependency path", meta.Name, c.Method))
				}
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	r.frozen = true
	return nil
}

// linkInverse connects rel to the relation on its target pointing back
func linkInverse(rel *RelationMetadata) error {
	target := rel.InverseEntity

	if rel.InverseSidePropertyPath == "" {
		for _, candidate := range target.Relations {
			if candidate.InverseEntity == rel.Entity && candidate.InverseSidePropertyPath == rel.PropertyName {
				rel.InverseSidePropertyPath = candidate.PropertyName
				break
			}
		}
	}

	if rel.InverseSidePropertyPath != "" {
		inverse := target.FindRelation(rel.InverseSidePropertyPath)
		if inverse == nil {
			return fmt.Errorf("%s: inverse side %s.%s does not exist", rel, target.Name, rel.InverseSidePropertyPath)
		}
		if inverse.InverseEntity != rel.Entity {
			return fmt.Errorf("%s: inverse side %s does not target %s", rel, inverse, rel.Entity.Name)
		}
		rel.InverseRelation = inverse
	}

	switch rel.Cardinality {
	case OneToMany:
		if rel.InverseRelation == nil || rel.InverseRelation.Cardinality != ManyToOne {
			return fmt.Errorf("%s: one-to-many relation requires a many-to-one inverse side", rel)
		}
	case OneToOne:
		if rel.JoinColumn == "" && (rel.InverseRelation == nil || rel.InverseRelation.JoinColumn == "") {
			return fmt.Errorf("%s: one-to-one relation needs a join column on one side", rel)
		}
	case ManyToMany:
		if rel.JoinTable == "" && (rel.InverseRelation == nil || rel.InverseRelation.JoinTable == "") {
			return fmt.Errorf("%s: many-to-many relation needs a join table on one side", rel)
		}
	}
	return nil
}

// IsFrozen reports whether Freeze succeeded
func (r *Registry) IsFrozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Get returns the entity registered under name
func (r *Registry) Get(name string) (*EntityMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.frozen {
		return nil, false
	}
	meta, ok := r.entities[name]
	return meta, ok
}

// GetByTable returns the entity stored in table
func (r *Registry) GetByTable(table string) (*EntityMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.frozen {
		return nil, false
	}
	meta, ok := r.byTable[table]
	return meta, ok
}

// All returns every entity in registration order
func (r *Registry) All() []*EntityMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.frozen {
		return nil
	}
	result := make([]*EntityMetadata, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.entities[name])
	}
	return result
}

// MetadataOf resolves the metadata of an entity value through its type tag.
// Anything that is not a *Record is opaque.
func (r *Registry) MetadataOf(v interface{}) (*EntityMetadata, bool) {
	rec, ok := v.(*Record)
	if !ok || rec == nil {
		return nil, false
	}
	return r.Get(rec.Entity)
}

// Count returns the number of registered entities
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}
