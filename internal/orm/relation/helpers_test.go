package relation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/entityroutes/internal/orm/groups"
	"github.com/conduit-lang/entityroutes/internal/orm/schema"
)

type testSchemas struct {
	registry *schema.Registry
	groups   *groups.Registry
	user     *schema.EntityMetadata
	role     *schema.EntityMetadata
	category *schema.EntityMetadata
	image    *schema.EntityMetadata
	article  *schema.EntityMetadata
}

func setupTestSchemas(t *testing.T) *testSchemas {
	t.Helper()

	identifier := func(ctx context.Context, item *schema.Record) (interface{}, error) {
		return item.ID("id"), nil
	}

	r := schema.NewRegistry()
	r.MustRegister(
		schema.NewEntity("User").
			ID(schema.TypeInt).
			Column("name", schema.TypeString).
			ManyToOne("role", "Role").
			OneToOne("profilePicture", "Image", schema.JoinColumn("profile_picture_id")).
			OneToMany("articles", "Article", "author").
			Computed("getIdentifier", identifier, "role.category.name", "profilePicture.url"),
		schema.NewEntity("Role").
			ID(schema.TypeInt).
			Column("title", schema.TypeString).
			ManyToOne("category", "Category").
			OneToMany("users", "User", "role"),
		schema.NewEntity("Category").
			ID(schema.TypeInt).
			Column("name", schema.TypeString).
			ManyToOne("picture", "Image"),
		schema.NewEntity("Image").
			ID(schema.TypeInt).
			Column("url", schema.TypeString),
		schema.NewEntity("Article").
			ID(schema.TypeInt).
			Column("title", schema.TypeString).
			ManyToOne("author", "User"),
	)
	require.NoError(t, r.Freeze())

	s := &testSchemas{registry: r, groups: groups.NewRegistry()}
	s.user, _ = r.Get("User")
	s.role, _ = r.Get("Role")
	s.category, _ = r.Get("Category")
	s.image, _ = r.Get("Image")
	s.article, _ = r.Get("Article")
	return s
}

func (s *testSchemas) expose(t *testing.T, entity string, ops []string, props ...string) {
	t.Helper()
	require.NoError(t, s.groups.Expose(entity, ops, props...))
}
