// Package schema describes the entities exposed through the API: their columns,
// their relations and the extra metadata (computed props, max depth, subresources)
// every other layer reads. Metadata is registered once at startup, then frozen.
package schema

import (
	"context"
	"fmt"
)

// ColumnType is the declared type of a column
type ColumnType int

const (
	TypeString ColumnType = iota
	TypeText
	TypeInt
	TypeBigInt
	TypeFloat
	TypeDecimal
	TypeBool
	TypeTimestamp
	TypeDate
	TypeUUID
	TypeEnum

	// Composite scalars, stored as opaque JSON / CSV and never recursed into
	TypeSimpleJSON
	TypeSimpleArray
)

// String returns the string representation of the column type
func (t ColumnType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeText:
		return "text"
	case TypeInt:
		return "int"
	case TypeBigInt:
		return "bigint"
	case TypeFloat:
		return "float"
	case TypeDecimal:
		return "decimal"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeDate:
		return "date"
	case TypeUUID:
		return "uuid"
	case TypeEnum:
		return "enum"
	case TypeSimpleJSON:
		return "simple-json"
	case TypeSimpleArray:
		return "simple-array"
	default:
		return "unknown"
	}
}

// DisplayName is the type name used in prettified mappings
func (t ColumnType) DisplayName() string {
	switch t {
	case TypeString, TypeText, TypeUUID:
		return "String"
	case TypeInt, TypeBigInt, TypeFloat, TypeDecimal:
		return "Number"
	case TypeBool:
		return "Boolean"
	case TypeTimestamp, TypeDate:
		return "Date"
	case TypeEnum:
		return "Enum"
	default:
		return t.String()
	}
}

// IsComposite reports whether values of this type are opaque JSON/CSV blobs
func (t ColumnType) IsComposite() bool {
	return t == TypeSimpleJSON || t == TypeSimpleArray
}

// IsNumeric reports whether the type holds numbers
func (t ColumnType) IsNumeric() bool {
	switch t {
	case TypeInt, TypeBigInt, TypeFloat, TypeDecimal:
		return true
	}
	return false
}

// Cardinality of a relation
type Cardinality int

const (
	OneToOne Cardinality = iota
	OneToMany
	ManyToOne
	ManyToMany
)

// String returns the string representation of the cardinality
func (c Cardinality) String() string {
	switch c {
	case OneToOne:
		return "one-to-one"
	case OneToMany:
		return "one-to-many"
	case ManyToOne:
		return "many-to-one"
	case ManyToMany:
		return "many-to-many"
	default:
		return "unknown"
	}
}

// PropertyRule validates a single property value.
// Implementations live in the validation package.
type PropertyRule interface {
	Name() string
	Groups() []string
	Validate(ctx context.Context, value interface{}) error
}

// ClassRule validates a whole record
type ClassRule interface {
	Name() string
	Groups() []string
	Validate(ctx context.Context, item *Record) error
}

// ColumnMetadata describes a scalar property
type ColumnMetadata struct {
	PropertyName string
	DatabaseName string
	Type         ColumnType
	Nullable     bool
	Primary      bool
	Generated    bool
	EnumValues   []string

	// JSONSchema optionally constrains simple-json values
	JSONSchema string

	// Relation is set on join columns, i.e. the foreign key owned by a relation
	Relation *RelationMetadata

	Rules []PropertyRule
}

// RelationMetadata describes a relation property between two entities
type RelationMetadata struct {
	PropertyName  string
	Entity        *EntityMetadata
	InverseEntity *EntityMetadata
	Cardinality   Cardinality

	// InverseSidePropertyPath is the property on InverseEntity pointing back, if any
	InverseSidePropertyPath string
	InverseRelation         *RelationMetadata

	// JoinColumn is the foreign key column on Entity's table (owning to-one side)
	JoinColumn string

	// JoinTable and its two columns are set on the owning side of many-to-many relations
	JoinTable              string
	JoinTableColumn        string
	JoinTableInverseColumn string

	Nullable bool
	Rules    []PropertyRule

	target string
}

// IsToMany reports whether the relation holds a collection
func (r *RelationMetadata) IsToMany() bool {
	return r.Cardinality == OneToMany || r.Cardinality == ManyToMany
}

// IsOwning reports whether the relation's foreign key (or join table) lives on the owner side
func (r *RelationMetadata) IsOwning() bool {
	switch r.Cardinality {
	case ManyToOne:
		return true
	case OneToOne:
		return r.JoinColumn != ""
	case ManyToMany:
		return r.JoinTable != ""
	}
	return false
}

// JoinColumnMetadata returns the foreign key column owned by this relation, if any
func (r *RelationMetadata) JoinColumnMetadata() *ColumnMetadata {
	if r.JoinColumn == "" {
		return nil
	}
	col := &ColumnMetadata{
		PropertyName: r.PropertyName,
		DatabaseName: r.JoinColumn,
		Nullable:     r.Nullable,
		Relation:     r,
	}
	if pk := r.InverseEntity.PrimaryColumn(); pk != nil {
		col.Type = pk.Type
	}
	return col
}

// String returns a human readable identifier, e.g. "User.role"
func (r *RelationMetadata) String() string {
	return fmt.Sprintf("%s.%s", r.Entity.Name, r.PropertyName)
}

// ComputedFunc computes a derived value from the original record
type ComputedFunc func(ctx context.Context, item *Record) (interface{}, error)

// ComputedProp is a method-backed property
type ComputedProp struct {
	Method string
	Fn     ComputedFunc

	// DependsOn lists the dot-paths Fn reads, e.g. "role.category.name"
	DependsOn []string

	// ReturnType is only used for display
	ReturnType string
}

// MaxDepthMeta holds class level and prop level max depth overrides.
// Fields are keyed by the relation's inverse side property path.
type MaxDepthMeta struct {
	Enabled  bool
	DepthLvl int
	Fields   map[string]int
}

// SubresourceMeta declares a nested route /<entity>/{id}/<prop>
type SubresourceMeta struct {
	PropertyName string
	Operations   []string

	// MaxDepth bounds how many subresource levels can be chained below this one
	MaxDepth int
}

// EntityMetadata describes one entity
type EntityMetadata struct {
	Name      string
	TableName string
	RoutePath string

	Columns      []*ColumnMetadata
	Relations    []*RelationMetadata
	Computed     []*ComputedProp
	MaxDepth     *MaxDepthMeta
	Subresources []*SubresourceMeta
	ClassRules   []ClassRule

	columnsByProp   map[string]*ColumnMetadata
	relationsByProp map[string]*RelationMetadata
	computedByName  map[string]*ComputedProp
	primary         *ColumnMetadata
}

// FindColumn returns the scalar column with the given property name
func (e *EntityMetadata) FindColumn(prop string) *ColumnMetadata {
	return e.columnsByProp[prop]
}

// FindRelation returns the relation with the given property name
func (e *EntityMetadata) FindRelation(prop string) *RelationMetadata {
	return e.relationsByProp[prop]
}

// FindComputed returns the computed prop backed by the given method
func (e *EntityMetadata) FindComputed(method string) *ComputedProp {
	return e.computedByName[method]
}

// FindSubresource returns the subresource declared on the given property
func (e *EntityMetadata) FindSubresource(prop string) *SubresourceMeta {
	for _, sub := range e.Subresources {
		if sub.PropertyName == prop {
			return sub
		}
	}
	return nil
}

// PrimaryColumn returns the primary key column
func (e *EntityMetadata) PrimaryColumn() *ColumnMetadata {
	return e.primary
}

// PrimaryName returns the primary key property name, "id" by convention
func (e *EntityMetadata) PrimaryName() string {
	if e.primary == nil {
		return "id"
	}
	return e.primary.PropertyName
}

// Route returns the route path of the entity, its table name when none was set
func (e *EntityMetadata) Route() string {
	if e.RoutePath != "" {
		return e.RoutePath
	}
	return e.TableName
}

// HasProperty reports whether prop is a column or a relation of the entity
func (e *EntityMetadata) HasProperty(prop string) bool {
	return e.FindColumn(prop) != nil || e.FindRelation(prop) != nil
}

func (e *EntityMetadata) index() {
	e.columnsByProp = make(map[string]*ColumnMetadata, len(e.Columns))
	for _, col := range e.Columns {
		e.columnsByProp[col.PropertyName] = col
		if col.Primary {
			e.primary = col
		}
	}
	e.relationsByProp = make(map[string]*RelationMetadata, len(e.Relations))
	for _, rel := range e.Relations {
		e.relationsByProp[rel.PropertyName] = rel
	}
	e.computedByName = make(map[string]*ComputedProp, len(e.Computed))
	for _, c := range e.Computed {
		e.computedByName[c.Method] = c
	}
}

// ToSnakeCase converts PascalCase/camelCase to snake_case
func ToSnakeCase(s string) string {
	var result []rune
	runes := []rune(s)

	for i, r := range runes {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := runes[i-1]
			if (prev >= 'a' && prev <= 'z') || (prev >= '0' && prev <= '9') {
				result = append(result, '_')
			} else if i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z' {
				// acronym end: "HTTPServer" -> "http_server"
				result = append(result, '_')
			}
		}
		if r >= 'A' && r <= 'Z' {
			result = append(result, r+('a'-'A'))
		} else {
			result = append(result, r)
		}
	}

	return string(result)
}
