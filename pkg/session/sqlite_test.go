package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sessions.db")
	store, err := NewSQLite(path, zerolog.New(os.Stdout).Level(zerolog.Disabled))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()

	t.Run("should round-trip a session with events", func(t *testing.T) {
		store := newSQLiteStore(t)

		sess, err := store.CreateSession(ctx, "app", "user", map[string]interface{}{"x": 1}, "")
		require.NoError(t, err)
		require.NotEmpty(t, sess.ID)

		require.NoError(t, store.AppendEvent(ctx, "app", "user", sess.ID, Event{Author: "user", Content: "first"}))
		require.NoError(t, store.AppendEvent(ctx, "app", "user", sess.ID, Event{Author: "assistant", Content: "second"}))

		got, err := store.GetSession(ctx, "app", "user", sess.ID, nil)
		require.NoError(t, err)
		require.NotNil(t, got)

		// JSON round-trip turns numbers into float64.
		assert.EqualValues(t, 1, got.State["x"])
		require.Len(t, got.Events, 2)
		assert.Equal(t, "first", got.Events[0].Content)
		assert.Equal(t, "second", got.Events[1].Content)
	})

	t.Run("should merge layered state", func(t *testing.T) {
		store := newSQLiteStore(t)

		sess, err := store.CreateSession(ctx, "a", "u", map[string]interface{}{"x": 1}, "")
		require.NoError(t, err)
		require.NoError(t, store.SetAppState(ctx, "a", "y", 2))
		require.NoError(t, store.SetUserState(ctx, "a", "u", "z", 3))
		require.NoError(t, store.SetAppState(ctx, "a", "x", 99))

		got, err := store.GetSession(ctx, "a", "u", sess.ID, nil)
		require.NoError(t, err)
		assert.EqualValues(t, 1, got.State["x"])
		assert.EqualValues(t, 2, got.State["y"])
		assert.EqualValues(t, 3, got.State["z"])
	})

	t.Run("should clear events when listing", func(t *testing.T) {
		store := newSQLiteStore(t)

		sess, err := store.CreateSession(ctx, "a", "u", nil, "")
		require.NoError(t, err)
		require.NoError(t, store.AppendEvent(ctx, "a", "u", sess.ID, Event{Author: "user", Content: "hi"}))

		listed, err := store.ListSessions(ctx, "a", "u")
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Empty(t, listed[0].Events)
	})

	t.Run("should fail append on missing session", func(t *testing.T) {
		store := newSQLiteStore(t)

		err := store.AppendEvent(ctx, "a", "u", "ghost", Event{Author: "user", Content: "hi"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("should apply state deltas on append", func(t *testing.T) {
		store := newSQLiteStore(t)

		sess, err := store.CreateSession(ctx, "a", "u", nil, "")
		require.NoError(t, err)
		require.NoError(t, store.AppendEvent(ctx, "a", "u", sess.ID, Event{
			Author:     "tool",
			Content:    "ok",
			StateDelta: map[string]interface{}{"done": true},
		}))

		got, err := store.GetSession(ctx, "a", "u", sess.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, true, got.State["done"])
	})

	t.Run("should overwrite history on duplicate create", func(t *testing.T) {
		store := newSQLiteStore(t)

		_, err := store.CreateSession(ctx, "a", "u", nil, "dup")
		require.NoError(t, err)
		require.NoError(t, store.AppendEvent(ctx, "a", "u", "dup", Event{Author: "user", Content: "old"}))

		sess, err := store.CreateSession(ctx, "a", "u", nil, "dup")
		require.NoError(t, err)
		assert.Empty(t, sess.Events)
	})

	t.Run("should delete without error when absent", func(t *testing.T) {
		store := newSQLiteStore(t)
		assert.NoError(t, store.DeleteSession(ctx, "a", "u", "ghost"))
	})

	t.Run("should sweep stale sessions", func(t *testing.T) {
		store := newSQLiteStore(t)

		_, err := store.CreateSession(ctx, "a", "u", nil, "old")
		require.NoError(t, err)
		_, err = store.db.Exec(`UPDATE sessions SET last_update_time = ? WHERE session_id = 'old'`,
			time.Now().Add(-48*time.Hour).UnixMilli())
		require.NoError(t, err)
		_, err = store.CreateSession(ctx, "a", "u", nil, "new")
		require.NoError(t, err)

		removed, err := store.Sweep(time.Now().Add(-24 * time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		got, err := store.GetSession(ctx, "a", "u", "new", nil)
		require.NoError(t, err)
		assert.NotNil(t, got)
	})
}
