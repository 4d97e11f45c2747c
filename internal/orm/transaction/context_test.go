package transaction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	db := setupTestDB(t)
	mgr := NewManager(db, nil)
	ctx := context.Background()

	t.Run("NoTransaction", func(t *testing.T) {
		tx, ok := FromContext(ctx)
		assert.False(t, ok)
		assert.Nil(t, tx)
		assert.Same(t, db, ExecutorFrom(ctx, db))
	})

	t.Run("WithTransaction", func(t *testing.T) {
		tx, err := mgr.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback()

		txCtx := WithContext(ctx, tx)
		retrieved, ok := FromContext(txCtx)
		require.True(t, ok)
		assert.Same(t, tx, retrieved)
		assert.Same(t, tx.Tx(), ExecutorFrom(txCtx, db))

		embedded, ok := FromContext(tx.Context())
		require.True(t, ok)
		assert.Same(t, tx, embedded)
	})
}
