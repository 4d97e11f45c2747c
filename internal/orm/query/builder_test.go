package query

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/entityroutes/internal/orm/schema"
)

func setupTestSchemas(t *testing.T) *schema.Registry {
	t.Helper()

	r := schema.NewRegistry()
	r.MustRegister(
		schema.NewEntity("User").
			ID(schema.TypeInt).
			Column("name", schema.TypeString).
			Column("settings", schema.TypeSimpleJSON).
			ManyToOne("role", "Role").
			OneToMany("articles", "Article", "author"),
		schema.NewEntity("Role").
			ID(schema.TypeInt).
			Column("title", schema.TypeString).
			OneToMany("users", "User", "role"),
		schema.NewEntity("Article").
			ID(schema.TypeInt).
			Column("title", schema.TypeString).
			Column("tags", schema.TypeSimpleArray).
			ManyToOne("author", "User").
			ManyToMany("categories", "Category", schema.JoinTable("article_categories", "article_id", "category_id")),
		schema.NewEntity("Category").
			ID(schema.TypeInt).
			Column("name", schema.TypeString).
			ManyToMany("articles", "Article", schema.InverseSide("categories")),
	)
	require.NoError(t, r.Freeze())
	return r
}

func entity(t *testing.T, r *schema.Registry, name string) *schema.EntityMetadata {
	t.Helper()
	meta, ok := r.Get(name)
	require.True(t, ok)
	return meta
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestSQLBuilder_ToSQL_ManyToOne(t *testing.T) {
	r := setupTestSchemas(t)
	b := New(nil, entity(t, r, "User"), "user")

	b.Select("user.name")
	b.LeftJoin("user.role", "user_role_1")
	b.AddSelect("user_role_1.title")
	b.Where("user_role_1.title", OpEqual, "Admin")
	b.AddOrderBy("user.name", "desc")

	query, args, err := b.ToSQL()
	require.NoError(t, err)
	assert.Equal(t, `SELECT "user"."name" AS "user.name", "user_role_1"."title" AS "user_role_1.title", `+
		`"user"."id" AS "user.id", "user_role_1"."id" AS "user_role_1.id" `+
		`FROM "user" "user" LEFT JOIN "role" "user_role_1" ON "user_role_1"."id" = "user"."role_id" `+
		`WHERE "user_role_1"."title" = $1 ORDER BY "user"."name" DESC`, query)
	assert.Equal(t, []interface{}{"Admin"}, args)
}

func TestSQLBuilder_ToSQL_InverseAndManyToMany(t *testing.T) {
	r := setupTestSchemas(t)
	b := New(nil, entity(t, r, "Category"), "category", WithDialect(SQLite))

	b.Select("category.name")
	b.LeftJoin("category.articles", "category_articles_1")
	b.InnerJoin("category_articles_1.author", "article_author_1", &Condition{Column: "article_author_1.id", Operator: OpEqual, Value: 7})

	query, args, err := b.ToSQL()
	require.NoError(t, err)
	assert.Equal(t, `SELECT "category"."name" AS "category.name", "category"."id" AS "category.id" `+
		`FROM "category" "category" `+
		`LEFT JOIN "article_categories" "category_articles_1_jt" ON "category_articles_1_jt"."category_id" = "category"."id" `+
		`LEFT JOIN "article" "category_articles_1" ON "category_articles_1"."id" = "category_articles_1_jt"."article_id" `+
		`INNER JOIN "user" "article_author_1" ON "article_author_1"."id" = "category_articles_1"."author_id" AND "article_author_1"."id" = ?`, query)
	assert.Equal(t, []interface{}{7}, args)
}

func TestSQLBuilder_ToSQL_OneToMany(t *testing.T) {
	r := setupTestSchemas(t)
	b := New(nil, entity(t, r, "Role"), "role")

	b.Select("role.title")
	b.LeftJoin("role.users", "role_users_1")
	b.AddSelect("role_users_1.name")
	b.Where("role.id", OpIn, []interface{}{1, 2}).OrWhere("role.title", OpIsNull, nil)

	query, args, err := b.ToSQL()
	require.NoError(t, err)
	assert.Equal(t, `SELECT "role"."title" AS "role.title", "role_users_1"."name" AS "role_users_1.name", `+
		`"role"."id" AS "role.id", "role_users_1"."id" AS "role_users_1.id" `+
		`FROM "role" "role" LEFT JOIN "user" "role_users_1" ON "role_users_1"."role_id" = "role"."id" `+
		`WHERE "role"."id" IN ($1, $2) OR "role"."title" IS NULL`, query)
	assert.Equal(t, []interface{}{1, 2}, args)
}

func TestSQLBuilder_InvalidProperties(t *testing.T) {
	r := setupTestSchemas(t)

	b := New(nil, entity(t, r, "User"), "user")
	b.LeftJoin("user.unknown", "user_unknown_1")
	_, _, err := b.ToSQL()
	assert.ErrorIs(t, err, ErrInvalidProperty)

	b = New(nil, entity(t, r, "User"), "user")
	b.Select("user.missing")
	_, _, err = b.ToSQL()
	assert.ErrorIs(t, err, ErrInvalidProperty)

	assert.Panics(t, func() {
		New(nil, entity(t, r, "User"), "user; DROP TABLE user")
	})
}

func TestSQLBuilder_SelectAlias(t *testing.T) {
	r := setupTestSchemas(t)
	b := New(nil, entity(t, r, "Role"), "role")
	b.Select("role")

	assert.Equal(t, []string{"role.id", "role.title"}, b.Selections())
	assert.False(t, b.HasJoin("role_users_1"))
}

func TestSQLBuilder_GetOne(t *testing.T) {
	r := setupTestSchemas(t)
	db, mock := newMock(t)

	b := New(db, entity(t, r, "User"), "user")
	b.Select("user.name", "user.settings")
	b.LeftJoin("user.role", "user_role_1")
	b.AddSelect("user_role_1.title")
	b.Where("user.id", OpEqual, 1)

	query, _, err := b.ToSQL()
	require.NoError(t, err)

	mock.ExpectQuery(query).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"user.name", "user.settings", "user_role_1.title", "user.id", "user_role_1.id"}).
			AddRow("Alex", []byte(`{"theme":"dark"}`), "Admin", int64(1), int64(2)))

	rec, err := b.GetOne(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, "User", rec.Entity)
	assert.Equal(t, "Alex", rec.Values["name"])
	assert.Equal(t, int64(1), rec.Values["id"])
	assert.Equal(t, map[string]interface{}{"theme": "dark"}, rec.Values["settings"])

	role, ok := rec.Values["role"].(*schema.Record)
	require.True(t, ok)
	assert.Equal(t, "Role", role.Entity)
	assert.Equal(t, map[string]interface{}{"title": "Admin", "id": int64(2)}, role.Values)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLBuilder_GetOne_NoRow(t *testing.T) {
	r := setupTestSchemas(t)
	db, mock := newMock(t)

	b := New(db, entity(t, r, "Role"), "role")
	b.Select("role.title")
	b.Where("role.id", OpEqual, 9)

	mock.ExpectQuery(`SELECT "role"."title" AS "role.title", "role"."id" AS "role.id" FROM "role" "role" WHERE "role"."id" = $1`).
		WithArgs(9).
		WillReturnRows(sqlmock.NewRows([]string{"role.title", "role.id"}))

	rec, err := b.GetOne(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLBuilder_PageSQL_OrdersByJoinedColumnPerRoot(t *testing.T) {
	r := setupTestSchemas(t)
	db, _ := newMock(t)

	b := New(db, entity(t, r, "User"), "user")
	b.LeftJoin("user.articles", "user_articles_1")
	b.AddOrderBy("user_articles_1.title", "desc")
	b.AddOrderBy("user.name", "asc")
	b.Take(3)

	query, args, err := b.PageSQL()
	require.NoError(t, err)
	assert.Equal(t, `SELECT "user"."id" AS "user.id" FROM "user" "user" `+
		`LEFT JOIN "article" "user_articles_1" ON "user_articles_1"."author_id" = "user"."id" `+
		`GROUP BY "user"."id" ORDER BY MAX("user_articles_1"."title") DESC, "user"."name" ASC LIMIT $1`, query)
	assert.Equal(t, []interface{}{3}, args)

	b = New(db, entity(t, r, "User"), "user")
	b.LeftJoin("user.articles", "user_articles_1")
	b.AddOrderBy("user_articles_1.title", "ASC")
	b.Take(3)

	query, _, err = b.PageSQL()
	require.NoError(t, err)
	assert.Contains(t, query, `ORDER BY MIN("user_articles_1"."title") ASC LIMIT $1`)
}

func TestSQLBuilder_GetManyAndCount_PaginatesRoots(t *testing.T) {
	r := setupTestSchemas(t)
	db, mock := newMock(t)

	b := New(db, entity(t, r, "User"), "user")
	b.Select("user.name")
	b.LeftJoin("user.articles", "user_articles_1")
	b.AddSelect("user_articles_1.title", "user_articles_1.tags")
	b.AddOrderBy("user.name", "ASC")
	b.Take(2).Skip(0)

	from := `FROM "user" "user" LEFT JOIN "article" "user_articles_1" ON "user_articles_1"."author_id" = "user"."id"`

	mock.ExpectQuery(`SELECT COUNT(DISTINCT "user"."id") ` + from).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectQuery(`SELECT "user"."id" AS "user.id" ` + from + ` GROUP BY "user"."id" ORDER BY "user"."name" ASC LIMIT $1 OFFSET $2`).
		WithArgs(2, 0).
		WillReturnRows(sqlmock.NewRows([]string{"user.id"}).
			AddRow(int64(1)).
			AddRow(int64(2)))
	mock.ExpectQuery(`SELECT "user"."name" AS "user.name", "user_articles_1"."title" AS "user_articles_1.title", `+
		`"user_articles_1"."tags" AS "user_articles_1.tags", "user"."id" AS "user.id", "user_articles_1"."id" AS "user_articles_1.id" `+
		from+` WHERE "user"."id" IN ($1, $2) ORDER BY "user"."name" ASC`).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"user.name", "user_articles_1.title", "user_articles_1.tags", "user.id", "user_articles_1.id"}).
			AddRow("Alex", "First", "go,sql", int64(1), int64(10)).
			AddRow("Alex", "Second", "", int64(1), int64(11)).
			AddRow("Bob", nil, nil, int64(2), nil))

	items, total, err := b.GetManyAndCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, items, 2)

	alex := items[0]
	articles, ok := alex.Values["articles"].([]*schema.Record)
	require.True(t, ok)
	require.Len(t, articles, 2)
	assert.Equal(t, "First", articles[0].Values["title"])
	assert.Equal(t, []string{"go", "sql"}, articles[0].Values["tags"])
	assert.Equal(t, []string{}, articles[1].Values["tags"])

	bob := items[1]
	assert.Equal(t, "Bob", bob.Values["name"])
	assert.Equal(t, []*schema.Record{}, bob.Values["articles"])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLBuilder_GetManyAndCount_Empty(t *testing.T) {
	r := setupTestSchemas(t)
	db, mock := newMock(t)

	b := New(db, entity(t, r, "Role"), "role")
	b.Select("role.title")

	mock.ExpectQuery(`SELECT COUNT(DISTINCT "role"."id") FROM "role" "role"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	items, total, err := b.GetManyAndCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, items)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParseOperator(t *testing.T) {
	op, err := ParseOperator("gte")
	require.NoError(t, err)
	assert.Equal(t, OpGreaterThanOrEqual, op)

	op, err = ParseOperator("")
	require.NoError(t, err)
	assert.Equal(t, OpEqual, op)

	_, err = ParseOperator("approx")
	assert.Error(t, err)
}
