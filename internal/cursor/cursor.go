// Package cursor persists the opaque resumption tokens that let a sync
// pick up where the previous run left off. One token per sync scope;
// scopes are independent and never share tokens.
package cursor

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

const (
	sqlGetToken = `SELECT token FROM sync_cursors WHERE scope = ?` //nolint:gosec // G101: a sync cursor, not credentials

	sqlSaveToken = `INSERT INTO sync_cursors (scope, token, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(scope) DO UPDATE SET
		 token = excluded.token,
		 updated_at = excluded.updated_at`

	sqlClearToken = `DELETE FROM sync_cursors WHERE scope = ?`
)

// Store reads and writes sync cursors in the entity database. Writes are
// durable when the call returns (the DB runs synchronous=FULL).
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewStore wraps an entity database handle.
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{db: db, logger: logger, nowFunc: time.Now}
}

// Get returns the saved cursor for a scope. The second return is false
// when no cursor exists (first run). A store error is returned as-is so
// the caller fails the invocation instead of silently re-enumerating.
func (s *Store) Get(ctx context.Context, scope string) (string, bool, error) {
	var token string

	err := s.db.QueryRowContext(ctx, sqlGetToken, scope).Scan(&token)
	if err == sql.ErrNoRows {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("cursor: reading token for %s: %w", scope, err)
	}

	return token, true, nil
}

// Save durably stores the cursor for a scope, replacing any previous one.
func (s *Store) Save(ctx context.Context, scope, token string) error {
	if _, err := s.db.ExecContext(ctx, sqlSaveToken, scope, token, s.nowFunc().Unix()); err != nil {
		return fmt.Errorf("cursor: saving token for %s: %w", scope, err)
	}

	s.logger.Debug("cursor saved", slog.String("scope", scope))

	return nil
}

// Clear removes the cursor for a scope, forcing the next run to perform
// a full enumeration. Used when the remote rejects a cursor as expired.
func (s *Store) Clear(ctx context.Context, scope string) error {
	if _, err := s.db.ExecContext(ctx, sqlClearToken, scope); err != nil {
		return fmt.Errorf("cursor: clearing token for %s: %w", scope, err)
	}

	s.logger.Info("cursor cleared", slog.String("scope", scope))

	return nil
}
