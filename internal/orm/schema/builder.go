package schema

import (
	"fmt"
	"strings"
)

// EntityBuilder assembles an EntityMetadata with a fluent API.
// Relation targets are referenced by entity name and resolved by Registry.Freeze.
type EntityBuilder struct {
	meta   *EntityMetadata
	errors []error
}

// NewEntity starts a builder for the named entity. The table name defaults to
// the snake_case form of name.
func NewEntity(name string) *EntityBuilder {
	return &EntityBuilder{
		meta: &EntityMetadata{
			Name:      name,
			TableName: ToSnakeCase(name),
		},
	}
}

// ColumnOption customizes a column
type ColumnOption func(*ColumnMetadata)

// Nullable marks the column as nullable
func Nullable() ColumnOption {
	return func(c *ColumnMetadata) { c.Nullable = true }
}

// Enum restricts the column to the given values
func Enum(values ...string) ColumnOption {
	return func(c *ColumnMetadata) {
		c.Type = TypeEnum
		c.EnumValues = values
	}
}

// WithJSONSchema attaches a JSON schema to a simple-json column
func WithJSONSchema(schema string) ColumnOption {
	return func(c *ColumnMetadata) { c.JSONSchema = schema }
}

// DatabaseName overrides the column name in the database
func DatabaseName(name string) ColumnOption {
	return func(c *ColumnMetadata) { c.DatabaseName = name }
}

// Generated marks the column as filled by the database
func Generated() ColumnOption {
	return func(c *ColumnMetadata) { c.Generated = true }
}

// Rules attaches property validation rules
func Rules(rules ...PropertyRule) ColumnOption {
	return func(c *ColumnMetadata) { c.Rules = append(c.Rules, rules...) }
}

// RelationOption customizes a relation
type RelationOption func(*RelationMetadata)

// InverseSide names the property on the target entity pointing back
func InverseSide(prop string) RelationOption {
	return func(r *RelationMetadata) { r.InverseSidePropertyPath = prop }
}

// JoinColumn makes a one-to-one relation the owning side, or renames a many-to-one foreign key
func JoinColumn(name string) RelationOption {
	return func(r *RelationMetadata) { r.JoinColumn = name }
}

// JoinTable makes a many-to-many relation the owning side
func JoinTable(table, column, inverseColumn string) RelationOption {
	return func(r *RelationMetadata) {
		r.JoinTable = table
		r.JoinTableColumn = column
		r.JoinTableInverseColumn = inverseColumn
	}
}

// NullableRelation allows a to-one relation to be empty
func NullableRelation() RelationOption {
	return func(r *RelationMetadata) { r.Nullable = true }
}

// RelationRules attaches validation rules to the relation property
func RelationRules(rules ...PropertyRule) RelationOption {
	return func(r *RelationMetadata) { r.Rules = append(r.Rules, rules...) }
}

// SubresourceOption customizes a subresource
type SubresourceOption func(*SubresourceMeta)

// SubresourceOperations restricts which operations the nested route exposes
func SubresourceOperations(ops ...string) SubresourceOption {
	return func(s *SubresourceMeta) { s.Operations = ops }
}

// SubresourceMaxDepth bounds nested subresource chaining below this one
func SubresourceMaxDepth(depth int) SubresourceOption {
	return func(s *SubresourceMeta) { s.MaxDepth = depth }
}

// Table overrides the table name
func (b *EntityBuilder) Table(name string) *EntityBuilder {
	b.meta.TableName = name
	return b
}

// Route exposes the entity under /<path>
func (b *EntityBuilder) Route(path string) *EntityBuilder {
	b.meta.RoutePath = strings.Trim(path, "/")
	return b
}

// ID declares the generated primary column "id"
func (b *EntityBuilder) ID(typ ColumnType) *EntityBuilder {
	return b.Column("id", typ, func(c *ColumnMetadata) {
		c.Primary = true
		c.Generated = true
	})
}

// Column declares a scalar property
func (b *EntityBuilder) Column(prop string, typ ColumnType, opts ...ColumnOption) *EntityBuilder {
	if b.hasProperty(prop) {
		b.errors = append(b.errors, fmt.Errorf("%s.%s is declared twice", b.meta.Name, prop))
		return b
	}
	col := &ColumnMetadata{
		PropertyName: prop,
		DatabaseName: ToSnakeCase(prop),
		Type:         typ,
	}
	for _, opt := range opts {
		opt(col)
	}
	b.meta.Columns = append(b.meta.Columns, col)
	return b
}

// ManyToOne declares an owning to-one relation with a foreign key on this table
func (b *EntityBuilder) ManyToOne(prop, target string, opts ...RelationOption) *EntityBuilder {
	rel := b.relation(prop, target, ManyToOne, opts)
	if rel != nil && rel.JoinColumn == "" {
		rel.JoinColumn = ToSnakeCase(prop) + "_id"
	}
	return b
}

// OneToMany declares the inverse side of a ManyToOne on target
func (b *EntityBuilder) OneToMany(prop, target, inverseProp string, opts ...RelationOption) *EntityBuilder {
	opts = append([]RelationOption{InverseSide(inverseProp)}, opts...)
	b.relation(prop, target, OneToMany, opts)
	return b
}

// OneToOne declares a one-to-one relation. Pass JoinColumn to make this the owning side.
func (b *EntityBuilder) OneToOne(prop, target string, opts ...RelationOption) *EntityBuilder {
	b.relation(prop, target, OneToOne, opts)
	return b
}

// ManyToMany declares a many-to-many relation. Pass JoinTable to make this the owning side.
func (b *EntityBuilder) ManyToMany(prop, target string, opts ...RelationOption) *EntityBuilder {
	b.relation(prop, target, ManyToMany, opts)
	return b
}

// Computed declares a method-backed property and the dot-paths it reads
func (b *EntityBuilder) Computed(method string, fn ComputedFunc, dependsOn ...string) *EntityBuilder {
	if fn == nil {
		b.errors = append(b.errors, fmt.Errorf("%s.%s: computed prop without function", b.meta.Name, method))
		return b
	}
	b.meta.Computed = append(b.meta.Computed, &ComputedProp{
		Method:    method,
		Fn:        fn,
		DependsOn: dependsOn,
	})
	return b
}

// MaxDepth sets the class level max depth
func (b *EntityBuilder) MaxDepth(depthLvl int, enabled bool) *EntityBuilder {
	md := b.maxDepth()
	md.DepthLvl = depthLvl
	md.Enabled = enabled
	return b
}

// MaxDepthOn overrides the max depth for the relation whose inverse side property path is given
func (b *EntityBuilder) MaxDepthOn(inverseSidePath string, depthLvl int) *EntityBuilder {
	b.maxDepth().Fields[inverseSidePath] = depthLvl
	return b
}

// Subresource declares a nested route on a relation property
func (b *EntityBuilder) Subresource(prop string, opts ...SubresourceOption) *EntityBuilder {
	sub := &SubresourceMeta{
		PropertyName: prop,
		Operations:   []string{"create", "list", "details", "delete"},
		MaxDepth:     2,
	}
	for _, opt := range opts {
		opt(sub)
	}
	b.meta.Subresources = append(b.meta.Subresources, sub)
	return b
}

// Validate attaches class level validation rules
func (b *EntityBuilder) Validate(rules ...ClassRule) *EntityBuilder {
	b.meta.ClassRules = append(b.meta.ClassRules, rules...)
	return b
}

func (b *EntityBuilder) maxDepth() *MaxDepthMeta {
	if b.meta.MaxDepth == nil {
		b.meta.MaxDepth = &MaxDepthMeta{Fields: make(map[string]int)}
	}
	return b.meta.MaxDepth
}

func (b *EntityBuilder) relation(prop, target string, card Cardinality, opts []RelationOption) *RelationMetadata {
	if b.hasProperty(prop) {
		b.errors = append(b.errors, fmt.Errorf("%s.%s is declared twice", b.meta.Name, prop))
		return nil
	}
	rel := &RelationMetadata{
		PropertyName: prop,
		Entity:       b.meta,
		Cardinality:  card,
		target:       target,
	}
	for _, opt := range opts {
		opt(rel)
	}
	b.meta.Relations = append(b.meta.Relations, rel)
	return rel
}

func (b *EntityBuilder) hasProperty(prop string) bool {
	for _, c := range b.meta.Columns {
		if c.PropertyName == prop {
			return true
		}
	}
	for _, r := range b.meta.Relations {
		if r.PropertyName == prop {
			return true
		}
	}
	return false
}
