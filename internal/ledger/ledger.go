// Package ledger records every content version that has been durably
// archived, and answers the one question that keeps sync cheap: has this
// exact version of this item been seen before? The ledger is append-only;
// the latest record per item is its last-known identity.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

const (
	sqlHasIdentity = `SELECT 1 FROM item_versions
		WHERE item_id = ? AND version_id = ? LIMIT 1`

	sqlLatestChangeKey = `SELECT change_key FROM item_versions
		WHERE item_id = ? ORDER BY id DESC LIMIT 1`

	sqlInsertVersion = `INSERT INTO item_versions
		(item_id, version_id, change_key, name, path, size, backed_up_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
)

// Record is one observed content version. BackedUpAt is the remote's
// last-modified or received time when known, else the time of capture.
type Record struct {
	ItemID     string
	VersionID  string
	ChangeKey  string // mail backend only; empty for drive items
	Name       string
	Path       string
	Size       int64
	BackedUpAt time.Time
}

// Ledger wraps the entity database's item_versions table.
type Ledger struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// New wraps an entity database handle.
func New(db *sql.DB, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}

	return &Ledger{db: db, logger: logger, nowFunc: time.Now}
}

// ShouldUpdate reports whether no version record exists for the item with
// this exact identity. Callers must gate every content fetch on this;
// it is the primary cost-avoidance mechanism. Once an identity has been
// recorded it is never treated as new again.
func (l *Ledger) ShouldUpdate(ctx context.Context, itemID, versionID string) (bool, error) {
	var one int

	err := l.db.QueryRowContext(ctx, sqlHasIdentity, itemID, versionID).Scan(&one)
	if err == sql.ErrNoRows {
		return true, nil
	}

	if err != nil {
		return false, fmt.Errorf("ledger: checking identity for %s: %w", itemID, err)
	}

	return false, nil
}

// SameChangeKey reports whether the item's most recent record carries
// exactly this change key. A cheap pre-filter: when the server's own
// change marker is unchanged, the full item fetch can be skipped without
// ever deriving the authoritative identity.
func (l *Ledger) SameChangeKey(ctx context.Context, itemID, changeKey string) (bool, error) {
	if changeKey == "" {
		return false, nil
	}

	var last sql.NullString

	err := l.db.QueryRowContext(ctx, sqlLatestChangeKey, itemID).Scan(&last)
	if err == sql.ErrNoRows {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("ledger: reading change key for %s: %w", itemID, err)
	}

	return last.Valid && last.String == changeKey, nil
}

// LogVersion appends a record. Call only after the content bytes are
// durably written; a record without bytes is silent data loss waiting
// for the next run to skip the item.
func (l *Ledger) LogVersion(ctx context.Context, rec Record) error {
	changeKey := sql.NullString{String: rec.ChangeKey, Valid: rec.ChangeKey != ""}

	backedUpAt := rec.BackedUpAt
	if backedUpAt.IsZero() {
		backedUpAt = l.nowFunc()
	}

	_, err := l.db.ExecContext(ctx, sqlInsertVersion,
		rec.ItemID, rec.VersionID, changeKey, rec.Name, rec.Path, rec.Size,
		backedUpAt.UTC().Format(time.RFC3339), l.nowFunc().Unix(),
	)
	if err != nil {
		return fmt.Errorf("ledger: logging version for %s: %w", rec.ItemID, err)
	}

	l.logger.Debug("version logged",
		slog.String("item_id", rec.ItemID),
		slog.String("version_id", rec.VersionID),
		slog.String("name", rec.Name),
		slog.Int64("size", rec.Size),
	)

	return nil
}
