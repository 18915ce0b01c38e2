package cursor

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE sync_cursors (
		scope TEXT PRIMARY KEY, token TEXT NOT NULL, updated_at INTEGER NOT NULL)`)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	return NewStore(db, logger)
}

func TestStore_GetAbsent(t *testing.T) {
	s := testStore(t)

	token, ok, err := s.Get(context.Background(), "drive_onedrive:deadbeef")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, token)
}

func TestStore_SaveGetRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "scope-a", "token-1"))

	token, ok, err := s.Get(ctx, "scope-a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "token-1", token)

	// Overwrite replaces, not duplicates.
	require.NoError(t, s.Save(ctx, "scope-a", "token-2"))

	token, ok, err = s.Get(ctx, "scope-a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "token-2", token)
}

func TestStore_ScopesAreIndependent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "scope-a", "token-a"))
	require.NoError(t, s.Save(ctx, "scope-b", "token-b"))
	require.NoError(t, s.Clear(ctx, "scope-a"))

	_, ok, err := s.Get(ctx, "scope-a")
	require.NoError(t, err)
	assert.False(t, ok)

	token, ok, err := s.Get(ctx, "scope-b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "token-b", token)
}

func TestStore_FailsOnUnavailableStore(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.db.Close())

	// A broken store must surface an error, never read as "no cursor".
	_, _, err := s.Get(context.Background(), "scope-a")
	assert.Error(t, err)
}

func TestScopeKeys(t *testing.T) {
	// Stable across calls.
	assert.Equal(t, DriveScope("b!abc123"), DriveScope("b!abc123"))
	// Distinct across resources.
	assert.NotEqual(t, DriveScope("b!abc123"), DriveScope("b!abc124"))

	assert.NotEqual(t, MailScope("ews_mail", "f1"), MailScope("ews_arc", "f1"))

	parent := MailScope("ews_mail", "f1")
	child := ChildScope(parent, "f2")
	assert.Contains(t, child, parent+":")
	assert.NotEqual(t, parent, child)
}
