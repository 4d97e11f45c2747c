package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/entityroutes/internal/orm/query"
	"github.com/conduit-lang/entityroutes/internal/orm/schema"
	"github.com/conduit-lang/entityroutes/internal/orm/transaction"
)

const testSchema = `
CREATE TABLE role (id INTEGER PRIMARY KEY AUTOINCREMENT, title TEXT NOT NULL UNIQUE);
CREATE TABLE "user" (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	nicknames TEXT,
	settings TEXT,
	created_at TIMESTAMP,
	role_id INTEGER REFERENCES role(id)
);
CREATE TABLE article (id INTEGER PRIMARY KEY AUTOINCREMENT, title TEXT, author_id INTEGER REFERENCES "user"(id));
CREATE TABLE tag (id INTEGER PRIMARY KEY AUTOINCREMENT, label TEXT);
CREATE TABLE user_tags (user_id INTEGER REFERENCES "user"(id), tag_id INTEGER REFERENCES tag(id));
`

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	return db
}

func setupManager(t *testing.T) (*Manager, *sql.DB) {
	t.Helper()

	r := schema.NewRegistry()
	r.MustRegister(
		schema.NewEntity("User").
			ID(schema.TypeInt).
			Column("name", schema.TypeString).
			Column("nicknames", schema.TypeSimpleArray, schema.Nullable()).
			Column("settings", schema.TypeSimpleJSON, schema.Nullable()).
			Column("createdAt", schema.TypeTimestamp, schema.Nullable()).
			ManyToOne("role", "Role", schema.NullableRelation()).
			OneToMany("articles", "Article", "author").
			ManyToMany("tags", "Tag", schema.JoinTable("user_tags", "user_id", "tag_id")),
		schema.NewEntity("Role").
			ID(schema.TypeInt).
			Column("title", schema.TypeString),
		schema.NewEntity("Article").
			ID(schema.TypeInt).
			Column("title", schema.TypeString).
			ManyToOne("author", "User", schema.NullableRelation()),
		schema.NewEntity("Tag").
			ID(schema.TypeInt).
			Column("label", schema.TypeString),
	)
	require.NoError(t, r.Freeze())

	db := setupTestDB(t)
	return NewManager(db, r, WithDialect(query.SQLite)), db
}

func repo(t *testing.T, m *Manager, entity string) *Repository {
	t.Helper()
	r, err := m.Get(entity)
	require.NoError(t, err)
	return r
}

func scalar(t *testing.T, db *sql.DB, stmt string, args ...interface{}) interface{} {
	t.Helper()
	var v interface{}
	require.NoError(t, db.QueryRow(stmt, args...).Scan(&v))
	return v
}

func TestManager_Get(t *testing.T) {
	m, _ := setupManager(t)

	users, err := m.Get("User")
	require.NoError(t, err)
	assert.Equal(t, "User", users.Metadata().Name)

	_, err = m.Get("Ghost")
	assert.ErrorIs(t, err, schema.ErrUnknownEntity)
}

func TestRepository_Create(t *testing.T) {
	m, _ := setupManager(t)
	users := repo(t, m, "User")

	rec := users.Create(map[string]interface{}{
		"name":     "Alex",
		"role":     "/roles/2",
		"tags":     []interface{}{json.Number("3"), map[string]interface{}{"label": "go"}},
		"articles": "not a list",
		"unknown":  true,
	})

	assert.Equal(t, "User", rec.Entity)
	assert.Equal(t, "Alex", rec.Values["name"])
	assert.NotContains(t, rec.Values, "unknown")

	role, ok := rec.Values["role"].(*schema.Record)
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"id": int64(2)}, role.Values)

	tags, ok := rec.Values["tags"].([]*schema.Record)
	require.True(t, ok)
	require.Len(t, tags, 2)
	assert.Equal(t, int64(3), tags[0].Values["id"])
	assert.Equal(t, "go", tags[1].Values["label"])

	assert.Empty(t, rec.Values["articles"])
}

func TestCoerceValue(t *testing.T) {
	intCol := &schema.ColumnMetadata{Type: schema.TypeInt}
	floatCol := &schema.ColumnMetadata{Type: schema.TypeFloat}
	stringCol := &schema.ColumnMetadata{Type: schema.TypeString}

	assert.Equal(t, int64(42), coerceValue(intCol, json.Number("42")))
	assert.Equal(t, 4.5, coerceValue(floatCol, json.Number("4.5")))
	assert.Equal(t, "007", coerceValue(stringCol, json.Number("007")))
	assert.Equal(t, true, coerceValue(intCol, true))
}

func TestRepository_Save_Insert(t *testing.T) {
	m, db := setupManager(t)
	users := repo(t, m, "User")
	ctx := context.Background()

	rec := users.Create(map[string]interface{}{
		"name":      "Alex",
		"nicknames": []interface{}{"al", "lex"},
		"settings":  map[string]interface{}{"theme": "dark"},
		"role":      map[string]interface{}{"title": "Admin"},
	})

	saved, err := users.Save(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Values["id"])
	assert.NotNil(t, saved.Values["createdAt"])

	role := saved.Values["role"].(*schema.Record)
	assert.Equal(t, int64(1), role.Values["id"])

	assert.Equal(t, "Admin", scalar(t, db, `SELECT title FROM role WHERE id = 1`))
	assert.Equal(t, int64(1), scalar(t, db, `SELECT role_id FROM "user" WHERE id = 1`))
	assert.Equal(t, "al,lex", scalar(t, db, `SELECT nicknames FROM "user" WHERE id = 1`))
	assert.JSONEq(t, `{"theme":"dark"}`, scalar(t, db, `SELECT settings FROM "user" WHERE id = 1`).(string))
}

func TestRepository_Save_ReferenceDoesNotTouchTarget(t *testing.T) {
	m, db := setupManager(t)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO role (title) VALUES ('Editor')`)
	require.NoError(t, err)

	users := repo(t, m, "User")
	rec := users.Create(map[string]interface{}{"name": "Sam", "role": json.Number("1")})
	_, err = users.Save(ctx, rec)
	require.NoError(t, err)

	assert.Equal(t, int64(1), scalar(t, db, `SELECT role_id FROM "user" WHERE name = 'Sam'`))
	assert.Equal(t, "Editor", scalar(t, db, `SELECT title FROM role WHERE id = 1`))
}

func TestRepository_Save_Update(t *testing.T) {
	m, db := setupManager(t)
	users := repo(t, m, "User")
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO "user" (name) VALUES ('Alex')`)
	require.NoError(t, err)

	t.Run("Existing", func(t *testing.T) {
		rec := users.Create(map[string]interface{}{"id": "1", "name": "Alexandra"})
		_, err := users.Save(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, "Alexandra", scalar(t, db, `SELECT name FROM "user" WHERE id = 1`))
	})

	t.Run("ClearRelation", func(t *testing.T) {
		_, err := db.Exec(`INSERT INTO role (title) VALUES ('Admin'); UPDATE "user" SET role_id = 1`)
		require.NoError(t, err)

		rec := users.Create(map[string]interface{}{"id": json.Number("1"), "role": nil})
		_, err = users.Save(ctx, rec)
		require.NoError(t, err)
		assert.Nil(t, scalar(t, db, `SELECT role_id FROM "user" WHERE id = 1`))
	})

	t.Run("Missing", func(t *testing.T) {
		rec := users.Create(map[string]interface{}{"id": json.Number("99"), "name": "Nobody"})
		_, err := users.Save(ctx, rec)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("MissingWithoutColumns", func(t *testing.T) {
		tags := repo(t, m, "Tag")
		_, err := tags.Save(ctx, tags.Create(map[string]interface{}{"id": json.Number("5")}))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRepository_Save_OneToMany(t *testing.T) {
	m, db := setupManager(t)
	users := repo(t, m, "User")
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO article (title) VALUES ('Orphan')`)
	require.NoError(t, err)

	rec := users.Create(map[string]interface{}{
		"name": "Alex",
		"articles": []interface{}{
			map[string]interface{}{"title": "Fresh"},
			"/articles/1",
		},
	})
	saved, err := users.Save(ctx, rec)
	require.NoError(t, err)

	userID := saved.Values["id"]
	assert.Equal(t, userID, scalar(t, db, `SELECT author_id FROM article WHERE title = 'Fresh'`))
	assert.Equal(t, userID, scalar(t, db, `SELECT author_id FROM article WHERE title = 'Orphan'`))

	t.Run("Unlink", func(t *testing.T) {
		require.NoError(t, users.Unlink(ctx, userID, "articles", int64(1)))
		assert.Nil(t, scalar(t, db, `SELECT author_id FROM article WHERE id = 1`))

		err := users.Unlink(ctx, userID, "articles", int64(1))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Link", func(t *testing.T) {
		require.NoError(t, users.Link(ctx, userID, "articles", int64(1)))
		assert.Equal(t, userID, scalar(t, db, `SELECT author_id FROM article WHERE id = 1`))
		require.NoError(t, users.Unlink(ctx, userID, "articles", int64(1)))
	})

	t.Run("UnlinkToOne", func(t *testing.T) {
		err := users.Unlink(ctx, userID, "role", int64(1))
		assert.Error(t, err)
	})
}

func TestRepository_Save_ManyToMany(t *testing.T) {
	m, db := setupManager(t)
	users := repo(t, m, "User")
	ctx := context.Background()

	rec := users.Create(map[string]interface{}{
		"name": "Alex",
		"tags": []interface{}{
			map[string]interface{}{"label": "go"},
			map[string]interface{}{"label": "sql"},
		},
	})
	saved, err := users.Save(ctx, rec)
	require.NoError(t, err)
	userID := saved.Values["id"]

	assert.Equal(t, int64(2), scalar(t, db, `SELECT COUNT(*) FROM user_tags WHERE user_id = ?`, userID))

	// resaving replaces the links
	rec = users.Create(map[string]interface{}{"id": userID, "tags": []interface{}{"/tags/2"}})
	_, err = users.Save(ctx, rec)
	require.NoError(t, err)

	assert.Equal(t, int64(1), scalar(t, db, `SELECT COUNT(*) FROM user_tags WHERE user_id = ?`, userID))
	assert.Equal(t, int64(2), scalar(t, db, `SELECT tag_id FROM user_tags WHERE user_id = ?`, userID))

	require.NoError(t, users.Unlink(ctx, userID, "tags", int64(2)))
	assert.Equal(t, int64(0), scalar(t, db, `SELECT COUNT(*) FROM user_tags`))

	require.NoError(t, users.Link(ctx, userID, "tags", int64(1)))
	assert.Equal(t, int64(1), scalar(t, db, `SELECT tag_id FROM user_tags WHERE user_id = ?`, userID))
}

func TestRepository_Save_ConstraintViolations(t *testing.T) {
	m, db := setupManager(t)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO role (title) VALUES ('Admin')`)
	require.NoError(t, err)

	roles := repo(t, m, "Role")
	_, err = roles.Save(ctx, roles.Create(map[string]interface{}{"title": "Admin"}))
	assert.ErrorIs(t, err, ErrUniqueViolation)
	assert.True(t, IsConstraintViolation(err))

	users := repo(t, m, "User")
	_, err = users.Save(ctx, users.Create(map[string]interface{}{"name": "Sam", "role": json.Number("42")}))
	assert.ErrorIs(t, err, ErrForeignKeyViolation)

	_, err = users.Save(ctx, users.Create(map[string]interface{}{"name": nil}))
	assert.ErrorIs(t, err, ErrNotNullViolation)
}

func TestRepository_Delete(t *testing.T) {
	m, db := setupManager(t)
	tags := repo(t, m, "Tag")
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO tag (label) VALUES ('go')`)
	require.NoError(t, err)

	require.NoError(t, tags.Delete(ctx, int64(1)))
	assert.Equal(t, int64(0), scalar(t, db, `SELECT COUNT(*) FROM tag`))

	err = tags.Delete(ctx, int64(1))
	assert.True(t, IsNotFound(err))
}

func TestRepository_Transaction(t *testing.T) {
	m, db := setupManager(t)
	tags := repo(t, m, "Tag")
	txm := transaction.NewManager(db, nil)

	sentinel := errors.New("abort")
	err := txm.WithTransaction(context.Background(), func(ctx context.Context) error {
		_, err := tags.Save(ctx, tags.Create(map[string]interface{}{"label": "go"}))
		require.NoError(t, err)

		// the query builder reads through the same transaction
		items, total, err := tags.CreateQueryBuilder(ctx, "tag").Select("tag.id").GetManyAndCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Len(t, items, 1)
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, int64(0), scalar(t, db, `SELECT COUNT(*) FROM tag`))
}

func TestConvertDBError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"NoRows", sql.ErrNoRows, ErrNotFound},
		{"PgxUnique", &pgconn.PgError{Code: "23505", Detail: "Key (title)=(Admin) already exists."}, ErrUniqueViolation},
		{"PgxNotNull", &pgconn.PgError{Code: "23502", ColumnName: "name"}, ErrNotNullViolation},
		{"PqForeignKey", &pq.Error{Code: "23503"}, ErrForeignKeyViolation},
		{"PqCheck", &pq.Error{Code: "23514"}, ErrCheckViolation},
		{"SqliteUnique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, ErrUniqueViolation},
		{"SqliteNotNull", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintNotNull}, ErrNotNullViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, ConvertDBError(tt.err), tt.want)
		})
	}

	other := errors.New("connection reset")
	assert.Same(t, other, ConvertDBError(other))
	assert.NoError(t, ConvertDBError(nil))
	assert.Equal(t, &pq.Error{Code: "42601"}, ConvertDBError(&pq.Error{Code: "42601"}))
}
