package schema

import (
	"strings"
)

// Record is an entity value carrying an explicit type tag.
// Relation values are *Record (to-one) or []*Record (to-many).
type Record struct {
	Entity string
	Values map[string]interface{}
}

// NewRecord creates a record tagged with the given entity name
func NewRecord(entity string, values map[string]interface{}) *Record {
	if values == nil {
		values = make(map[string]interface{})
	}
	return &Record{Entity: entity, Values: values}
}

// Get returns the value of prop and whether it is set
func (r *Record) Get(prop string) (interface{}, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.Values[prop]
	return v, ok
}

// Set assigns prop
func (r *Record) Set(prop string, value interface{}) {
	r.Values[prop] = value
}

// ID returns the value stored under the primary key property pk
func (r *Record) ID(pk string) interface{} {
	if r == nil {
		return nil
	}
	return r.Values[pk]
}

// IsReference reports whether the record only carries its primary key pk
func (r *Record) IsReference(pk string) bool {
	if r == nil || len(r.Values) != 1 {
		return false
	}
	_, ok := r.Values[pk]
	return ok
}

// Lookup resolves a dot-path such as "role.category.name" through nested records.
// It stops at to-many relations.
func (r *Record) Lookup(path string) (interface{}, bool) {
	current := r
	segments := strings.Split(path, ".")
	for i, seg := range segments {
		v, ok := current.Get(seg)
		if !ok {
			return nil, false
		}
		if i == len(segments)-1 {
			return v, true
		}
		next, ok := v.(*Record)
		if !ok || next == nil {
			return nil, false
		}
		current = next
	}
	return nil, false
}
