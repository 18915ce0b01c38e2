package drivesync

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sreckojovancevic/deltabridge/internal/blob"
	"github.com/sreckojovancevic/deltabridge/internal/cursor"
	"github.com/sreckojovancevic/deltabridge/internal/graphapi"
	"github.com/sreckojovancevic/deltabridge/internal/ledger"

	_ "modernc.org/sqlite"
)

type fakeBackend struct {
	drive      graphapi.Drive
	resolveErr error

	pages     map[string]*graphapi.DeltaPage
	deltaErrs map[string]error

	content     map[string]string
	downloadErr map[string]error

	resolved   int
	tokensSeen []string
	downloaded []string
}

func (f *fakeBackend) ResolveDefaultDrive(_ context.Context, _ string) (graphapi.Drive, error) {
	f.resolved++
	return f.drive, f.resolveErr
}

func (f *fakeBackend) Delta(_ context.Context, _, token string) (*graphapi.DeltaPage, error) {
	f.tokensSeen = append(f.tokensSeen, token)

	if err, ok := f.deltaErrs[token]; ok {
		return nil, err
	}

	page, ok := f.pages[token]
	if !ok {
		return nil, errors.New("unexpected token: " + token)
	}

	return page, nil
}

func (f *fakeBackend) DownloadContent(_ context.Context, _, itemID string) (io.ReadCloser, error) {
	f.downloaded = append(f.downloaded, itemID)

	if err, ok := f.downloadErr[itemID]; ok {
		return nil, err
	}

	return io.NopCloser(strings.NewReader(f.content[itemID])), nil
}

func testDriver(t *testing.T, backend Backend) (*Driver, *cursor.Store, *ledger.Ledger) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE sync_cursors (scope TEXT PRIMARY KEY, token TEXT NOT NULL, updated_at INTEGER NOT NULL);
		CREATE TABLE item_versions (
			id INTEGER PRIMARY KEY AUTOINCREMENT, item_id TEXT NOT NULL, version_id TEXT NOT NULL,
			change_key TEXT, name TEXT NOT NULL, path TEXT NOT NULL, size INTEGER NOT NULL,
			backed_up_at TEXT NOT NULL, created_at INTEGER NOT NULL)`)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	cursors := cursor.NewStore(db, logger)
	ldg := ledger.New(db, logger)
	writer := blob.NewWriter(t.TempDir(), logger)

	d := New(backend, cursors, ldg, writer, logger)
	d.pace = func(context.Context) error { return nil }

	return d, cursors, ldg
}

func file(id, name string, size int64) graphapi.Item {
	return graphapi.Item{ID: id, Name: name, Kind: graphapi.KindFile, Size: size, ETag: "etag-" + id}
}

func TestRun_FirstAndSecondInvocation(t *testing.T) {
	page := &graphapi.DeltaPage{
		Items: []graphapi.Item{
			file("f1", "a.txt", 1),
			file("f2", "b.txt", 2),
			file("f3", "c.txt", 3),
			{ID: "dir1", Name: "docs", Kind: graphapi.KindFolder},
		},
		DeltaLink: "https://api/delta?token=checkpoint",
	}

	backend := &fakeBackend{
		pages: map[string]*graphapi.DeltaPage{
			"": page,
			// The remote re-reports the same unchanged items on the
			// next checkpoint; the ledger must skip them all.
			"https://api/delta?token=checkpoint": {
				Items:     page.Items,
				DeltaLink: "https://api/delta?token=checkpoint2",
			},
		},
		content: map[string]string{"f1": "one", "f2": "two", "f3": "three"},
	}

	d, cursors, _ := testDriver(t, backend)
	ctx := context.Background()

	stats, err := d.Run(ctx, "user@example.com", "drive-1")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Folders)
	assert.Equal(t, 3, stats.Files)
	assert.Equal(t, 3, stats.Succeeded)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, 1, stats.Pages)

	token, ok, err := cursors.Get(ctx, cursor.DriveScope("drive-1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://api/delta?token=checkpoint", token)

	// Second run: nothing changed upstream, nothing is re-fetched.
	downloadsBefore := len(backend.downloaded)

	stats, err = d.Run(ctx, "user@example.com", "drive-1")
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Files)
	assert.Equal(t, 0, stats.Succeeded)
	assert.Equal(t, 3, stats.Skipped)
	assert.Equal(t, downloadsBefore, len(backend.downloaded), "unchanged content must not be re-downloaded")
}

func TestRun_ResolvesDriveAlias(t *testing.T) {
	backend := &fakeBackend{
		drive: graphapi.Drive{ID: "resolved-drive"},
		pages: map[string]*graphapi.DeltaPage{"": {DeltaLink: "tok"}},
	}

	d, cursors, _ := testDriver(t, backend)

	_, err := d.Run(context.Background(), "user@example.com", DriveAlias)
	require.NoError(t, err)

	assert.Equal(t, 1, backend.resolved)

	_, ok, err := cursors.Get(context.Background(), cursor.DriveScope("resolved-drive"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRun_CountsDeletionsWithoutPropagating(t *testing.T) {
	backend := &fakeBackend{
		pages: map[string]*graphapi.DeltaPage{"": {
			Items: []graphapi.Item{
				{ID: "gone", Name: "old.txt", Kind: graphapi.KindDeleted},
				file("f1", "a.txt", 1),
			},
			DeltaLink: "tok",
		}},
		content: map[string]string{"f1": "one"},
	}

	d, _, _ := testDriver(t, backend)

	stats, err := d.Run(context.Background(), "u", "drive-1")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Deletions)
	assert.Equal(t, 1, stats.Succeeded)
	assert.NotContains(t, backend.downloaded, "gone")
}

func TestRun_CursorResetOnRejection(t *testing.T) {
	backend := &fakeBackend{
		pages: map[string]*graphapi.DeltaPage{"": {
			Items:     []graphapi.Item{file("f1", "a.txt", 1)},
			DeltaLink: "fresh-token",
		}},
		deltaErrs: map[string]error{
			"stale-token": &graphapi.APIError{StatusCode: 410, Err: graphapi.ErrGone},
		},
		content: map[string]string{"f1": "one"},
	}

	d, cursors, _ := testDriver(t, backend)
	ctx := context.Background()

	scope := cursor.DriveScope("drive-1")
	require.NoError(t, cursors.Save(ctx, scope, "stale-token"))

	stats, err := d.Run(ctx, "u", "drive-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)

	// Stale token was tried once, then a full enumeration ran.
	assert.Equal(t, []string{"stale-token", ""}, backend.tokensSeen)

	token, ok, err := cursors.Get(ctx, scope)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fresh-token", token)
}

func TestRun_TransportFailureOnResumeIsFatal(t *testing.T) {
	backend := &fakeBackend{
		deltaErrs: map[string]error{
			"saved": &graphapi.APIError{StatusCode: 503, Err: graphapi.ErrServerError},
		},
	}

	d, cursors, _ := testDriver(t, backend)
	ctx := context.Background()

	scope := cursor.DriveScope("drive-1")
	require.NoError(t, cursors.Save(ctx, scope, "saved"))

	_, err := d.Run(ctx, "u", "drive-1")
	require.Error(t, err)

	// A transport error must not clear the cursor.
	token, ok, getErr := cursors.Get(ctx, scope)
	require.NoError(t, getErr)
	require.True(t, ok)
	assert.Equal(t, "saved", token)
}

func TestRun_PerItemFailureIsNonFatal(t *testing.T) {
	backend := &fakeBackend{
		pages: map[string]*graphapi.DeltaPage{"": {
			Items:     []graphapi.Item{file("bad", "x.txt", 1), file("ok", "y.txt", 2)},
			DeltaLink: "tok",
		}},
		content:     map[string]string{"ok": "fine"},
		downloadErr: map[string]error{"bad": errors.New("connection reset")},
	}

	d, cursors, ldg := testDriver(t, backend)
	ctx := context.Background()

	stats, err := d.Run(ctx, "u", "drive-1")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Succeeded)

	// The failed item has no version record, so the next run retries it.
	update, err := ldg.ShouldUpdate(ctx, "bad", "etag-bad")
	require.NoError(t, err)
	assert.True(t, update)

	// The page still completed, so the cursor advanced.
	_, ok, err := cursors.Get(ctx, cursor.DriveScope("drive-1"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRun_MultiPage(t *testing.T) {
	backend := &fakeBackend{
		pages: map[string]*graphapi.DeltaPage{
			"":       {Items: []graphapi.Item{file("f1", "a.txt", 1)}, NextLink: "next-1"},
			"next-1": {Items: []graphapi.Item{file("f2", "b.txt", 2)}, DeltaLink: "final"},
		},
		content: map[string]string{"f1": "one", "f2": "two"},
	}

	d, cursors, _ := testDriver(t, backend)

	stats, err := d.Run(context.Background(), "u", "drive-1")
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Pages)
	assert.Equal(t, 2, stats.Succeeded)

	token, ok, err := cursors.Get(context.Background(), cursor.DriveScope("drive-1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "final", token)
}

func TestRun_NoLinksEndsWithoutSavingCursor(t *testing.T) {
	backend := &fakeBackend{
		pages:   map[string]*graphapi.DeltaPage{"": {Items: []graphapi.Item{file("f1", "a.txt", 1)}}},
		content: map[string]string{"f1": "one"},
	}

	d, cursors, _ := testDriver(t, backend)

	_, err := d.Run(context.Background(), "u", "drive-1")
	require.NoError(t, err)

	_, ok, err := cursors.Get(context.Background(), cursor.DriveScope("drive-1"))
	require.NoError(t, err)
	assert.False(t, ok, "anomalous feed end must not persist a cursor")
}
