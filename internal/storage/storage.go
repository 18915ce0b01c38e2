// Package storage allocates the durable locations one sync entity uses:
// a per-entity SQLite database (cursors, version ledger) and a files
// root for content-addressed blobs. One entity is one mailbox or one
// drive owner; entities never share state.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Entity is the durable home of one sync target. DB backs the cursor
// store and version ledger; FilesRoot is where content blobs land.
type Entity struct {
	ID        string
	Backend   string
	Name      string
	DB        *sql.DB
	FilesRoot string

	logger *slog.Logger
}

const (
	sqlGetEntity = `SELECT id FROM entity_meta WHERE backend = ? AND name = ?`

	sqlInsertEntity = `INSERT INTO entity_meta (id, backend, name, created_at)
		VALUES (?, ?, ?, ?)`
)

// PrepareEntityStorage locates or creates the storage for one entity under
// root, opens its database, applies migrations, and registers the entity.
// A storage failure here is fatal to the invocation: running without
// durable state would silently re-enumerate everything.
func PrepareEntityStorage(ctx context.Context, root, backend, name string, logger *slog.Logger) (*Entity, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir := EntityDir(root, backend, name)
	filesRoot := filepath.Join(dir, "files")

	if err := os.MkdirAll(filesRoot, 0o750); err != nil {
		return nil, fmt.Errorf("storage: creating entity directories: %w", err)
	}

	db, err := openDatabase(filepath.Join(dir, "state.db"))
	if err != nil {
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	id, err := ensureEntity(ctx, db, backend, name)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("entity storage ready",
		slog.String("backend", backend),
		slog.String("entity", name),
		slog.String("entity_id", id),
	)

	return &Entity{
		ID:        id,
		Backend:   backend,
		Name:      name,
		DB:        db,
		FilesRoot: filesRoot,
		logger:    logger,
	}, nil
}

// Close releases the entity's database handle.
func (e *Entity) Close() error {
	return e.DB.Close()
}

// openDatabase opens the SQLite file with WAL mode and full synchronous
// durability. Cursor writes must survive a crash immediately after
// SaveToken returns, hence synchronous=FULL rather than NORMAL.
func openDatabase(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: opening database %s: %w", path, err)
	}

	// Sole-writer pattern: one invocation owns the entity, so a single
	// connection avoids SQLITE_BUSY churn entirely.
	db.SetMaxOpenConns(1)

	return db, nil
}

// ensureEntity returns the stable entity ID, creating a registry row on
// first contact.
func ensureEntity(ctx context.Context, db *sql.DB, backend, name string) (string, error) {
	var id string

	err := db.QueryRowContext(ctx, sqlGetEntity, backend, name).Scan(&id)
	if err == nil {
		return id, nil
	}

	if err != sql.ErrNoRows {
		return "", fmt.Errorf("storage: looking up entity: %w", err)
	}

	id = uuid.NewString()
	if _, err := db.ExecContext(ctx, sqlInsertEntity, id, backend, name, time.Now().Unix()); err != nil {
		return "", fmt.Errorf("storage: registering entity: %w", err)
	}

	return id, nil
}

// EntityDir returns the directory an entity's state lives in, whether or
// not it exists yet.
func EntityDir(root, backend, name string) string {
	return filepath.Join(root, backend, sanitizeName(name))
}

// sanitizeName maps an entity name (usually an email address) to a
// filesystem-safe directory name. Stable: the same name always maps to
// the same directory.
func sanitizeName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, name)

	return mapped
}
