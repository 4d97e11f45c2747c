package reader

import (
	"context"
	"database/sql"
	"net/url"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/entityroutes/internal/orm/decorator"
	"github.com/conduit-lang/entityroutes/internal/orm/groups"
	"github.com/conduit-lang/entityroutes/internal/orm/hooks"
	"github.com/conduit-lang/entityroutes/internal/orm/mapping"
	"github.com/conduit-lang/entityroutes/internal/orm/query"
	"github.com/conduit-lang/entityroutes/internal/orm/relation"
	"github.com/conduit-lang/entityroutes/internal/orm/schema"
)

type fixture struct {
	registry *schema.Registry
	groups   *groups.Registry
	user     *schema.EntityMetadata
	role     *schema.EntityMetadata
	article  *schema.EntityMetadata
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
			OneToMany("articles", "Article", "author"),
		schema.NewEntity("Role").
			ID(schema.TypeInt).
			Column("title", schema.TypeString),
		schema.NewEntity("Article").
			ID(schema.TypeInt).
			Column("title", schema.TypeString).
			ManyToOne("author", "User"),
	)
	require.NoError(t, r.Freeze())

	g := groups.NewRegistry()
	require.NoError(t, g.Expose("User", []string{"list", "details"}, "name", "role"))
	require.NoError(t, g.Expose("Role", []string{"list", "details"}, "title"))
	require.NoError(t, g.Expose("Article", []string{"list"}, "title"))

	f := &fixture{registry: r, groups: g}
	f.user, _ = r.Get("User")
	f.role, _ = r.Get("Role")
	f.article, _ = r.Get("Article")
	return f
}

func (f *fixture) reader(opts ...Option) *Reader {
	writer := decorator.NewWriter(decorator.New(f.registry, nil), decorator.DefaultWriterOptions())
	return New(mapping.NewManager(f.groups), relation.NewManager(f.groups), writer, opts...)
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func sqlPattern(fragment string) string {
	return regexp.QuoteMeta(fragment)
}

func TestReader_GetItem(t *testing.T) {
	f := setupFixture(t)
	db, mock := newMock(t)

	mock.ExpectQuery(sqlPattern(`LEFT JOIN "role" "user_role_1" ON "user_role_1"."id" = "user"."role_id" WHERE "user"."id" = $1`)).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"user.id", "user.name", "user_role_1.id", "user_role_1.title"}).
			AddRow(int64(1), "Alex", int64(2), "Admin"))

	qb := query.New(db, f.user, "user")
	out, err := f.reader().GetItem(context.Background(), qb, 1, Options{
		Operation: "details",
		MaxDepth:  relation.DefaultMaxDepthOptions(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	item, ok := out.(*decorator.OrderedMap)
	require.True(t, ok)
	assert.Equal(t, []string{"id", "name", "role"}, item.Keys())
	assert.Equal(t, map[string]interface{}{
		"id":   int64(1),
		"name": "Alex",
		"role": map[string]interface{}{"id": int64(2), "title": "Admin"},
	}, item.ToMap())
}

func TestReader_GetItem_NotFound(t *testing.T) {
	f := setupFixture(t)
	db, mock := newMock(t)

	mock.ExpectQuery(sqlPattern(`WHERE "user"."id" = $1`)).
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"user.id", "user.name"}))

	_, err := f.reader().GetItem(context.Background(), query.New(db, f.user, "user"), 42, Options{
		Operation: "details",
		MaxDepth:  relation.DefaultMaxDepthOptions(),
	})
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_GetItem_BeforeReadReplacesResult(t *testing.T) {
	f := setupFixture(t)
	db, mock := newMock(t)

	registry := hooks.NewRegistry()
	registry.On(hooks.BeforeRead, func(e *hooks.Event) error {
		e.Result.Set(hooks.ReadResult{Item: schema.NewRecord("User", map[string]interface{}{
			"id":   e.EntityID,
			"name": "Cached",
		})})
		return nil
	})
	var afterRead *schema.Record
	registry.On(hooks.AfterRead, func(e *hooks.Event) error {
		afterRead = e.Result.Get().Item
		return nil
	})

	r := f.reader(WithHooks(hooks.NewExecutor(registry, nil, nil)))
	out, err := r.GetItem(context.Background(), query.New(db, f.user, "user"), 7, Options{
		Operation: "details",
		MaxDepth:  relation.DefaultMaxDepthOptions(),
		Event:     hooks.NewEvent(context.Background(), "details", f.user),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.NotNil(t, afterRead)
	assert.Equal(t, map[string]interface{}{"id": 7, "name": "Cached"}, out.(*decorator.OrderedMap).ToMap())
}

func TestReader_GetCollection(t *testing.T) {
	f := setupFixture(t)
	db, mock := newMock(t)

	params, err := ParseParams(url.Values{
		"take":                {"10"},
		"orderBy":             {"name:desc"},
		"filter[role.title]":  {"Admin"},
		"filter[age][gte]":    {"18"},
		"filter[unknown.key]": {"x"},
	})
	require.NoError(t, err)

	where := `WHERE "user"."age" >= $1 AND "user_role_1"."title" = $2`
	mock.ExpectQuery(sqlPattern(`SELECT COUNT(DISTINCT "user"."id") FROM "user" "user"`) + ".*" + sqlPattern(where)).
		WithArgs(int64(18), "Admin").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(sqlPattern(`SELECT "user"."id" AS "user.id" FROM "user" "user"`) + ".*" + sqlPattern(`GROUP BY "user"."id" ORDER BY "user"."name" DESC LIMIT $3`)).
		WithArgs(int64(18), "Admin", 10).
		WillReturnRows(sqlmock.NewRows([]string{"user.id"}).
			AddRow(int64(2)).
			AddRow(int64(1)))
	mock.ExpectQuery(sqlPattern(`"user"."id" IN ($3, $4) ORDER BY "user"."name" DESC`)).
		WithArgs(int64(18), "Admin", int64(2), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"user.id", "user.name", "user_role_1.id", "user_role_1.title"}).
			AddRow(int64(2), "Sam", int64(5), "Admin").
			AddRow(int64(1), "Alex", int64(5), "Admin"))

	items, total, err := f.reader().GetCollection(context.Background(), query.New(db, f.user, "user"), Options{
		Operation: "list",
		MaxDepth:  relation.DefaultMaxDepthOptions(),
		Params:    params,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, 3, total)
	require.Len(t, items, 2)
	assert.Equal(t, "Sam", items[0].(*decorator.OrderedMap).ToMap()["name"])
	assert.Equal(t, "Alex", items[1].(*decorator.OrderedMap).ToMap()["name"])
}

func TestReader_GetCollection_Empty(t *testing.T) {
	f := setupFixture(t)
	db, mock := newMock(t)

	mock.ExpectQuery(sqlPattern(`SELECT COUNT(DISTINCT "user"."id")`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	items, total, err := f.reader().GetCollection(context.Background(), query.New(db, f.user, "user"), Options{
		Operation: "list",
		MaxDepth:  relation.DefaultMaxDepthOptions(),
		Params:    DefaultParams(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 0, total)
	assert.Empty(t, items)
}

func TestReader_GetCollection_Subresource(t *testing.T) {
	f := setupFixture(t)
	db, mock := newMock(t)

	join := ` INNER JOIN "user" "article_author_1" ON "article_author_1"."id" = "article"."author_id" WHERE "article_author_1"."id" = $1`
	mock.ExpectQuery(sqlPattern(`SELECT COUNT(DISTINCT "article"."id") FROM "article" "article"` + join)).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(sqlPattern(`SELECT "article"."id" AS "article.id" FROM "article" "article"`) + ".*" + sqlPattern(`GROUP BY "article"."id"`)).
		WithArgs(1, DefaultTake).
		WillReturnRows(sqlmock.NewRows([]string{"article.id"}).AddRow(int64(3)))
	mock.ExpectQuery(sqlPattern(`SELECT "article"."id" AS "article.id", "article"."title" AS "article.title"`)).
		WithArgs(1, int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"article.id", "article.title"}).AddRow(int64(3), "Hello"))

	items, total, err := f.reader().GetCollection(context.Background(), query.New(db, f.article, "article"), Options{
		Operation:    "list",
		MaxDepth:     relation.DefaultMaxDepthOptions(),
		Params:       DefaultParams(),
		Subresources: []relation.SubresourceRelation{{Relation: f.user.FindRelation("articles"), ID: 1}},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, map[string]interface{}{"id": int64(3), "title": "Hello"}, items[0].(*decorator.OrderedMap).ToMap())
}

func TestReader_SubresourceWithoutInverseSide(t *testing.T) {
	f := setupFixture(t)

	_, _, err := f.reader().GetCollection(context.Background(), query.New(nil, f.role, "role"), Options{
		Operation:    "list",
		Params:       DefaultParams(),
		Subresources: []relation.SubresourceRelation{{Relation: f.user.FindRelation("role"), ID: 1}},
	})
	assert.ErrorIs(t, err, relation.ErrMissingInverseSide)
}

func TestParseParams(t *testing.T) {
	p, err := ParseParams(url.Values{})
	require.NoError(t, err)
	assert.Equal(t, DefaultParams(), p)

	p, err = ParseParams(url.Values{"take": {"500"}, "skip": {"20"}, "orderBy": {"name, role.title:DESC"}})
	require.NoError(t, err)
	assert.Equal(t, MaxTake, p.Take)
	assert.Equal(t, 20, p.Skip)
	assert.Equal(t, []OrderBy{{Path: "name", Direction: "asc"}, {Path: "role.title", Direction: "desc"}}, p.OrderBy)

	p, err = ParseParams(url.Values{"filter[age][in]": {"1,2"}, "filter[name]": {"Alex"}})
	require.NoError(t, err)
	assert.Equal(t, []Filter{
		{Path: "age", Operator: query.OpIn, Value: "1,2"},
		{Path: "name", Operator: query.OpEqual, Value: "Alex"},
	}, p.Filters)

	tests := []url.Values{
		{"take": {"abc"}},
		{"skip": {"-1"}},
		{"orderBy": {"name:sideways"}},
		{"filter[]": {"x"}},
		{"filter[age][between": {"1"}},
		{"filter[age][around]": {"1"}},
	}
	for _, values := range tests {
		_, err := ParseParams(values)
		assert.ErrorIs(t, err, ErrInvalidParams, "%v", values)
	}
}

func TestFilter_Value(t *testing.T) {
	age := &schema.ColumnMetadata{PropertyName: "age", Type: schema.TypeInt}

	assert.Equal(t, int64(18), Filter{Operator: query.OpEqual, Value: "18"}.value(age))
	assert.Equal(t, "x18", Filter{Operator: query.OpEqual, Value: "x18"}.value(age))
	assert.Equal(t, []interface{}{int64(1), int64(2)}, Filter{Operator: query.OpIn, Value: "1, 2"}.value(age))
	assert.Nil(t, Filter{Operator: query.OpIsNull, Value: "whatever"}.value(age))
	assert.Equal(t, "Alex", Filter{Operator: query.OpEqual, Value: "Alex"}.value(nil))
}
