// Package relation plans the joins and selections a read needs: it allocates
// aliases, follows exposed relations, cuts cyclic paths and joins the data
// computed props depend on.
package relation

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/entityroutes/internal/orm/groups"
	"github.com/conduit-lang/entityroutes/internal/orm/query"
	"github.com/conduit-lang/entityroutes/internal/orm/schema"
)

// ErrMissingInverseSide is returned when a subresource relation has no inverse side
var ErrMissingInverseSide = errors.New("subresource relation has no inverse side")

// JoinedProp is the column a property path resolved to
type JoinedProp struct {
	EntityAlias string
	PropName    string
	Column      *schema.ColumnMetadata
}

// SubresourceRelation is one parent link of a nested route, e.g. /user/{id}/articles
type SubresourceRelation struct {
	Relation *schema.RelationMetadata
	ID       interface{}
}

// Manager emits joins and selections on a query builder
type Manager struct {
	groups      *groups.Registry
	logger      *zap.Logger
	development bool
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithDevelopment enables warnings about unknown property paths
func WithDevelopment(enabled bool) Option {
	return func(m *Manager) { m.development = enabled }
}

// NewManager creates a relation manager reading exposure from g
func NewManager(g *groups.Registry, opts ...Option) *Manager {
	m := &Manager{groups: g, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MakeJoinsFromPropPath resolves a dot-path such as "role.category.name" into the alias and
// column holding its value, left joining every relation on the way.
// It returns false when a segment is neither a column nor a relation.
func (m *Manager) MakeJoinsFromPropPath(qb query.Builder, meta *schema.EntityMetadata, propPath string, ah *AliasHandler, prevAlias string) (JoinedProp, bool) {
	alias := prevAlias
	if alias == "" {
		alias = qb.Alias()
	}
	current := meta
	segments := strings.Split(propPath, ".")

	for i, seg := range segments {
		last := i == len(segments)-1

		if col := current.FindColumn(seg); col != nil && last {
			return JoinedProp{EntityAlias: alias, PropName: seg, Column: col}, true
		}

		rel := current.FindRelation(seg)
		if rel == nil {
			if m.development {
				m.logger.Warn("unknown property path",
					zap.String("entity", meta.Name),
					zap.String("path", propPath),
					zap.String("segment", seg),
				)
			}
			return JoinedProp{}, false
		}

		if last && !rel.IsToMany() && rel.JoinColumn != "" {
			return JoinedProp{EntityAlias: alias, PropName: seg, Column: rel.JoinColumnMetadata()}, true
		}

		res := ah.GetAliasForRelation(qb, rel, alias)
		if !res.IsJoinAlreadyMade {
			qb.LeftJoin(alias+"."+rel.PropertyName, res.Alias)
		}
		alias = res.Alias
		current = rel.InverseEntity

		if last {
			pk := current.PrimaryColumn()
			return JoinedProp{EntityAlias: alias, PropName: pk.PropertyName, Column: pk}, true
		}
	}

	return JoinedProp{}, false
}

// JoinAndSelectExposedProps selects the exposed columns of meta and recursively joins its
// exposed relations. A relation cut for being circular is still joined for its id when
// ShouldMaxDepthReturnRelationPropsID is set.
func (m *Manager) JoinAndSelectExposedProps(root *schema.EntityMetadata, operation string, qb query.Builder, meta *schema.EntityMetadata, currentPath []string, prevAlias string, opts MaxDepthOptions, ah *AliasHandler) {
	alias := prevAlias
	if alias == "" {
		alias = qb.Alias()
	}
	if len(currentPath) == 0 {
		currentPath = []string{meta.TableName}
	}

	g := m.groups.For(meta.Name)
	for _, prop := range g.GetSelectProps(operation, root, meta) {
		qb.AddSelect(alias + "." + prop)
	}

	for _, rel := range g.GetRelationPropsMetas(operation, root, meta) {
		nextPath := appendPath(currentPath, rel.InverseEntity.TableName)
		circular := IsRelationPropCircular(nextPath, rel.InverseEntity, rel, opts)
		if circular != nil && !opts.ShouldMaxDepthReturnRelationPropsID {
			continue
		}

		res := ah.GetAliasForRelation(qb, rel, alias)
		if !res.IsJoinAlreadyMade {
			qb.LeftJoin(alias+"."+rel.PropertyName, res.Alias)
		}
		qb.AddSelect(res.Alias + "." + rel.InverseEntity.PrimaryName())

		if circular == nil {
			m.JoinAndSelectExposedProps(root, operation, qb, rel.InverseEntity, nextPath, res.Alias, opts, ah)
		}
	}
}

// JoinAndSelectPropsThatComputedPropsDependsOn joins and selects the dependency paths of every
// exposed computed prop, for meta and its exposed relations. Selections already present are kept once.
// Dependency paths are followed without max depth checks.
func (m *Manager) JoinAndSelectPropsThatComputedPropsDependsOn(root *schema.EntityMetadata, operation string, qb query.Builder, meta *schema.EntityMetadata, currentPath []string, prevAlias string, opts MaxDepthOptions, ah *AliasHandler) {
	alias := prevAlias
	if alias == "" {
		alias = qb.Alias()
	}
	if len(currentPath) == 0 {
		currentPath = []string{meta.TableName}
	}

	g := m.groups.For(meta.Name)
	for _, name := range g.GetComputedProps(operation, root) {
		method, _, _ := groups.ParseComputedProp(name)
		computed := meta.FindComputed(method)
		if computed == nil {
			continue
		}
		for _, dep := range computed.DependsOn {
			joined, ok := m.MakeJoinsFromPropPath(qb, meta, dep, ah, alias)
			if !ok {
				continue
			}
			col := joined.EntityAlias + "." + joined.PropName
			if !contains(qb.Selections(), col) {
				qb.AddSelect(col)
			}
		}
	}

	for _, rel := range g.GetRelationPropsMetas(operation, root, meta) {
		nextPath := appendPath(currentPath, rel.InverseEntity.TableName)
		if IsRelationPropCircular(nextPath, rel.InverseEntity, rel, opts) != nil {
			continue
		}
		res := ah.GetAliasForRelation(qb, rel, alias)
		if !res.IsJoinAlreadyMade {
			qb.LeftJoin(alias+"."+rel.PropertyName, res.Alias)
		}
		m.JoinAndSelectPropsThatComputedPropsDependsOn(root, operation, qb, rel.InverseEntity, nextPath, res.Alias, opts, ah)
	}
}

// JoinSubresourceOnInverseSide restricts qb (listing meta) to the children of sub's parent entity,
// by inner joining the inverse side of sub.Relation. It returns the parent alias.
func (m *Manager) JoinSubresourceOnInverseSide(qb query.Builder, meta *schema.EntityMetadata, ah *AliasHandler, sub SubresourceRelation, prevAlias string) (string, error) {
	rel := sub.Relation
	if rel == nil || rel.InverseRelation == nil {
		return "", fmt.Errorf("%w: %v", ErrMissingInverseSide, rel)
	}
	if rel.InverseEntity != meta {
		return "", fmt.Errorf("subresource %s does not target %s", rel, meta.Name)
	}

	alias := prevAlias
	if alias == "" {
		alias = qb.Alias()
	}

	res := ah.GetAliasForRelation(qb, rel.InverseRelation, alias)
	if !res.IsJoinAlreadyMade {
		qb.InnerJoin(alias+"."+rel.InverseSidePropertyPath, res.Alias)
	}
	qb.AndWhere(res.Alias+"."+rel.Entity.PrimaryName(), query.OpEqual, sub.ID)
	return res.Alias, nil
}

func appendPath(path []string, table string) []string {
	next := make([]string, len(path), len(path)+1)
	copy(next, path)
	return append(next, table)
}

func contains(list []string, v string) bool {
	for _, existing := range list {
		if existing == v {
			return true
		}
	}
	return false
}
