package groups

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/entityroutes/internal/orm/schema"
)

func setupTestSchemas(t *testing.T) (*schema.EntityMetadata, *schema.EntityMetadata) {
	t.Helper()

	r := schema.NewRegistry()
	r.MustRegister(
		schema.NewEntity("User").
			ID(schema.TypeInt).
			Column("name", schema.TypeString).
			Column("email", schema.TypeString).
			ManyToOne("role", "Role").
			Computed("getIdentifier", func(ctx context.Context, item *schema.Record) (interface{}, error) {
				return nil, nil
			}),
		schema.NewEntity("Role").
			ID(schema.TypeInt).
			Column("title", schema.TypeString).
			OneToMany("users", "User", "role"),
	)
	require.NoError(t, r.Freeze())

	user, _ := r.Get("User")
	role, _ := r.Get("Role")
	return user, role
}

func TestGroupsMetadata_GetExposedPropsOn(t *testing.T) {
	user, role := setupTestSchemas(t)
	reg := NewRegistry()
	g := reg.For("User")

	require.NoError(t, g.AddPropToGlobalGroups([]string{"details"}, "name"))
	require.NoError(t, g.AddPropToRoutesGroups(map[string][]string{"role": {"details"}}, "email"))
	require.NoError(t, g.AddPropToGlobalGroups([]string{"basic"}, "id"))
	require.NoError(t, g.AddPropToAlwaysGroups("role"))

	// route context scoped props only show up for their root
	assert.Equal(t, []string{"name", "id", "role"}, g.GetExposedPropsOn("details", user))
	assert.Equal(t, []string{"name", "email", "id", "role"}, g.GetExposedPropsOn("details", role))

	// always groups are exposed on any operation
	assert.Equal(t, []string{"role"}, g.GetExposedPropsOn("delete", user))
	assert.Equal(t, []string{"id", "role"}, g.GetExposedPropsOn("list", user))
}

func TestGroupsMetadata_FirstRegistrationOrder(t *testing.T) {
	user, _ := setupTestSchemas(t)
	g := NewRegistry().For("User")

	require.NoError(t, g.AddPropToGlobalGroups([]string{"list"}, "name"))
	require.NoError(t, g.AddPropToGlobalGroups([]string{"details"}, "email"))
	require.NoError(t, g.AddPropToGlobalGroups([]string{"details"}, "name"))
	require.NoError(t, g.AddPropToGlobalGroups([]string{"details"}, "name"))

	assert.Equal(t, []string{"name", "email"}, g.GetExposedPropsOn("details", user))
}

func TestGroupsMetadata_Partition(t *testing.T) {
	user, _ := setupTestSchemas(t)
	g := NewRegistry().For("User")

	computed := FormatComputedProp("getIdentifier", "")
	for _, prop := range []string{"id", "name", "role", computed, "unknown"} {
		require.NoError(t, g.AddPropToGlobalGroups([]string{"details"}, prop))
	}

	assert.Equal(t, []string{"id", "name"}, g.GetSelectProps("details", user, user))

	rels := g.GetRelationPropsMetas("details", user, user)
	require.Len(t, rels, 1)
	assert.Equal(t, "role", rels[0].PropertyName)

	assert.Equal(t, []string{computed}, g.GetComputedProps("details", user))
}

func TestRegistry_Freeze(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Expose("User", []string{"details"}, "name"))
	reg.Freeze()

	assert.ErrorIs(t, reg.Expose("User", []string{"details"}, "email"), ErrFrozen)
	assert.ErrorIs(t, reg.For("Role").AddPropToAlwaysGroups("id"), ErrFrozen)
	assert.True(t, reg.IsFrozen())
}

func TestRegistry_KeysAreIsolated(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.For("User").AddPropToGlobalGroups([]string{"details"}, "name"))

	assert.Same(t, reg.For("User"), reg.ForKey(DefaultKey, "User"))
	assert.Empty(t, reg.ForKey("admin", "User").GetExposedPropsOn("details", nil))
}

func TestExpand(t *testing.T) {
	assert.Equal(t, []string{"create", "list", "details", "update"}, Expand("basic"))
	assert.Equal(t, []string{"details", "create", "list", "update", "delete"}, Expand("details", "all"))
}

func TestComputedProps(t *testing.T) {
	name := FormatComputedProp("getIdentifier", "ident")
	assert.Equal(t, "_COMPUTED_getIdentifier_ALIAS_ident", name)

	method, alias, ok := ParseComputedProp(name)
	assert.True(t, ok)
	assert.Equal(t, "getIdentifier", method)
	assert.Equal(t, "ident", alias)

	assert.Equal(t, "ident", ComputedPropKey(name))
	assert.Equal(t, "identifier", ComputedPropKey(FormatComputedProp("getIdentifier", "")))
	assert.Equal(t, "fullName", ComputedPropKey(FormatComputedProp("FullName", "")))
	assert.Equal(t, "getter", MethodKey("getter"))
	assert.Equal(t, "name", ComputedPropKey("name"))

	_, _, ok = ParseComputedProp("name")
	assert.False(t, ok)
}
