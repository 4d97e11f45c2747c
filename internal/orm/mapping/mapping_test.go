package mapping

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/entityroutes/internal/orm/groups"
	"github.com/conduit-lang/entityroutes/internal/orm/relation"
	"github.com/conduit-lang/entityroutes/internal/orm/schema"
)

type fixture struct {
	groups  *groups.Registry
	user    *schema.EntityMetadata
	role    *schema.EntityMetadata
	article *schema.EntityMetadata
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()

	r := schema.NewRegistry()
	r.MustRegister(
		schema.NewEntity("User").
			ID(schema.TypeInt).
			Column("name", schema.TypeString).
			Column("age", schema.TypeInt).
			ManyToOne("role", "Role").
			OneToMany("articles", "Article", "author").
			Computed("getDisplayName", func(ctx context.Context, item *schema.Record) (interface{}, error) {
				name, _ := item.Get("name")
				return name, nil
			}, "name"),
		schema.NewEntity("Role").
			ID(schema.TypeInt).
			Column("title", schema.TypeString).
			OneToMany("users", "User", "role"),
		schema.NewEntity("Article").
			ID(schema.TypeInt).
			Column("title", schema.TypeString).
			Column("publishedAt", schema.TypeTimestamp).
			ManyToOne("author", "User"),
	)
	require.NoError(t, r.Freeze())

	f := &fixture{groups: groups.NewRegistry()}
	f.user, _ = r.Get("User")
	f.role, _ = r.Get("Role")
	f.article, _ = r.Get("Article")
	return f
}

func (f *fixture) expose(t *testing.T, entity string, ops []string, props ...string) {
	t.Helper()
	require.NoError(t, f.groups.Expose(entity, ops, props...))
}

func TestManager_Make(t *testing.T) {
	f := setupFixture(t)
	f.expose(t, "User", []string{"details"}, "name", "role", groups.FormatComputedProp("getDisplayName", ""))
	f.expose(t, "Role", []string{"details"}, "id", "title")

	item := NewManager(f.groups).Make(f.user, "details", relation.DefaultMaxDepthOptions())

	assert.Equal(t, f.user, item.Metadata)
	assert.Equal(t, []string{"name"}, item.SelectProps)
	assert.Equal(t, []string{"role"}, item.RelationProps)
	assert.Equal(t, []string{"name", "role"}, item.ExposedProps)
	assert.Equal(t, []string{"_COMPUTED_getDisplayName"}, item.ComputedProps)

	role := item.Mapping["role"]
	require.NotNil(t, role)
	assert.Equal(t, []string{"id", "title"}, role.SelectProps)
	assert.Empty(t, role.Mapping)
	assert.False(t, role.IsIDOnly())

	// nothing exposed on other operations
	list := NewManager(f.groups).Make(f.user, "list", relation.DefaultMaxDepthOptions())
	assert.Empty(t, list.ExposedProps)
	assert.True(t, list.IsIDOnly())
}

func TestManager_Make_RouteContext(t *testing.T) {
	f := setupFixture(t)
	f.expose(t, "Article", []string{"list"}, "title")
	require.NoError(t, f.groups.ExposeOnRoutes("Article", map[string][]string{"user": {"details"}}, "publishedAt"))
	f.expose(t, "User", []string{"details"}, "articles")

	fromUser := NewManager(f.groups).Make(f.user, "details", relation.DefaultMaxDepthOptions())
	assert.Equal(t, []string{"publishedAt"}, fromUser.Mapping["articles"].ExposedProps)

	fromArticle := NewManager(f.groups).Make(f.article, "details", relation.DefaultMaxDepthOptions())
	assert.Empty(t, fromArticle.ExposedProps)
}

func TestManager_Make_StopsOnCircularRelations(t *testing.T) {
	f := setupFixture(t)
	f.expose(t, "User", []string{"details"}, "name", "role")
	f.expose(t, "Role", []string{"details"}, "title", "users")

	item := NewManager(f.groups).Make(f.user, "details", relation.DefaultMaxDepthOptions())

	require.NotNil(t, GetNestedMappingAt("role.users.role", item))
	// users is still a relation prop of the deepest role but has no child node
	deepest := GetNestedMappingAt("role.users.role", item)
	assert.Equal(t, []string{"title", "users"}, deepest.ExposedProps)
	assert.Nil(t, GetNestedMappingAt("role.users.role.users", item))

	// disabled max depth still terminates on the hard limit
	disabled := relation.MaxDepthOptions{DefaultMaxDepthLvl: 2}
	item = NewManager(f.groups).Make(f.user, "details", disabled)
	depth := 0
	for node := item; node != nil; depth++ {
		if next := node.Mapping["role"]; next != nil {
			node = next.Mapping["users"]
			continue
		}
		node = nil
	}
	assert.Equal(t, relation.HardMaxDepthLvl, depth)
}

func TestGetNestedMappingAt(t *testing.T) {
	f := setupFixture(t)
	f.expose(t, "User", []string{"details"}, "articles")
	f.expose(t, "Article", []string{"details"}, "title", "author")

	item := NewManager(f.groups).Make(f.user, "details", relation.DefaultMaxDepthOptions())

	assert.Same(t, item, GetNestedMappingAt("", item))
	assert.Equal(t, f.article, GetNestedMappingAt("articles", item).Metadata)
	assert.Equal(t, f.user, GetNestedMappingAt("articles.author", item).Metadata)
	assert.Nil(t, GetNestedMappingAt("role", item))
	assert.Nil(t, GetNestedMappingAt("role.users", item))
}

func TestPrettify(t *testing.T) {
	f := setupFixture(t)
	f.expose(t, "User", []string{"details"}, "name", "articles")

	item := NewManager(f.groups).Make(f.user, "details", relation.DefaultMaxDepthOptions())
	assert.Equal(t, map[string]interface{}{
		"name":     "String",
		"articles": "@id[]",
	}, Prettify(item))
}

func TestPrettify_Nested(t *testing.T) {
	f := setupFixture(t)
	f.expose(t, "User", []string{"list"}, "name", "age", "role", "articles", groups.FormatComputedProp("getDisplayName", "label"))
	f.expose(t, "Role", []string{"list"}, "id")
	f.expose(t, "Article", []string{"list"}, "title", "publishedAt")

	item := NewManager(f.groups).Make(f.user, "list", relation.DefaultMaxDepthOptions())
	assert.Equal(t, map[string]interface{}{
		"name":  "String",
		"age":   "Number",
		"role":  "@id",
		"label": "Computed",
		"articles": []interface{}{
			map[string]interface{}{"title": "String", "publishedAt": "Date"},
		},
	}, Prettify(item))
}
