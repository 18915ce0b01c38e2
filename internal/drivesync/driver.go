// Package drivesync implements the delta sync driver for the file-drive
// backend: it walks the drive's change feed page by page, archives new
// file content, and advances the saved cursor only once the feed hands
// back a terminal delta link.
package drivesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/sreckojovancevic/deltabridge/internal/blob"
	"github.com/sreckojovancevic/deltabridge/internal/cursor"
	"github.com/sreckojovancevic/deltabridge/internal/graphapi"
	"github.com/sreckojovancevic/deltabridge/internal/ledger"
)

// Namespace is the content namespace for drive blobs.
const Namespace = "onedrive"

// Pacing bounds for calls against the rate-limited drive API.
const (
	paceMin = 800 * time.Millisecond
	paceMax = 1500 * time.Millisecond
)

// DriveAlias requests resolution of the entity's default drive.
const DriveAlias = "me"

// Backend is the drive API surface the driver consumes.
type Backend interface {
	ResolveDefaultDrive(ctx context.Context, userID string) (graphapi.Drive, error)
	Delta(ctx context.Context, driveID, token string) (*graphapi.DeltaPage, error)
	DownloadContent(ctx context.Context, driveID, itemID string) (io.ReadCloser, error)
}

// Stats are the per-invocation counters reported in the summary.
// Deletions are counted but never propagated to storage: this is an
// archival mirror, not a live one.
type Stats struct {
	Pages     int `json:"pages"`
	Files     int `json:"files"`
	Folders   int `json:"folders"`
	Skipped   int `json:"skipped"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Deletions int `json:"deletions"`
}

// Driver runs one drive sync invocation. It is not safe for concurrent
// invocations against the same entity; callers serialize those.
type Driver struct {
	backend Backend
	cursors *cursor.Store
	ledger  *ledger.Ledger
	writer  *blob.Writer
	logger  *slog.Logger

	// pace applies the randomized delay before bursty calls. Tests
	// override it to avoid real sleeps.
	pace func(ctx context.Context) error
}

// New assembles a drive driver from its collaborators.
func New(backend Backend, cursors *cursor.Store, ldg *ledger.Ledger, writer *blob.Writer, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Driver{
		backend: backend,
		cursors: cursors,
		ledger:  ldg,
		writer:  writer,
		logger:  logger,
		pace:    randomPace,
	}
}

// Run performs one delta sync for the entity's drive. driveID may be the
// "me" alias, in which case the entity's default drive is resolved first.
// Per-item failures are counted and skipped; only setup and store
// failures abort the invocation. The cursor is advanced only when the
// feed returns its terminal delta link, so an aborted run resumes from
// the previous checkpoint.
func (d *Driver) Run(ctx context.Context, entity, driveID string) (Stats, error) {
	var stats Stats

	d.logger.Info("starting drive delta sync",
		slog.String("entity", entity),
		slog.String("drive_id", driveID),
	)

	if driveID == "" || driveID == DriveAlias {
		drive, err := d.backend.ResolveDefaultDrive(ctx, entity)
		if err != nil {
			return stats, fmt.Errorf("drivesync: resolving drive for %s: %w", entity, err)
		}

		driveID = drive.ID

		if err := d.pace(ctx); err != nil {
			return stats, err
		}
	}

	scope := cursor.DriveScope(driveID)

	page, err := d.firstPage(ctx, driveID, scope, &stats)
	if err != nil {
		return stats, err
	}

	for page != nil {
		stats.Pages++

		if err := d.processPage(ctx, driveID, page, &stats); err != nil {
			return stats, err
		}

		switch {
		case page.NextLink != "":
			page, err = d.backend.Delta(ctx, driveID, page.NextLink)
			if err != nil {
				return stats, fmt.Errorf("drivesync: fetching next page: %w", err)
			}
		case page.DeltaLink != "":
			if err := d.cursors.Save(ctx, scope, page.DeltaLink); err != nil {
				return stats, err
			}

			page = nil
		default:
			// Anomalous end of feed: no continuation of either kind.
			// Stop without touching the saved cursor.
			d.logger.Warn("delta page carries neither next nor delta link",
				slog.String("drive_id", driveID),
				slog.Int("page", stats.Pages),
			)

			page = nil
		}
	}

	d.logger.Info("drive delta sync finished",
		slog.String("entity", entity),
		slog.Int("pages", stats.Pages),
		slog.Int("files", stats.Files),
		slog.Int("new", stats.Succeeded),
		slog.Int("skipped", stats.Skipped),
		slog.Int("failed", stats.Failed),
		slog.Int("deletions", stats.Deletions),
	)

	return stats, nil
}

// firstPage resolves the starting point: resume from the saved cursor if
// one exists, falling back to a full enumeration when the remote rejects
// it as expired. The stale cursor is cleared so it is never retried.
func (d *Driver) firstPage(ctx context.Context, driveID, scope string, stats *Stats) (*graphapi.DeltaPage, error) {
	token, ok, err := d.cursors.Get(ctx, scope)
	if err != nil {
		return nil, err
	}

	if !ok {
		d.logger.Info("no cursor, starting initial enumeration", slog.String("scope", scope))

		page, err := d.backend.Delta(ctx, driveID, "")
		if err != nil {
			return nil, fmt.Errorf("drivesync: initial delta request: %w", err)
		}

		return page, nil
	}

	d.logger.Info("resuming from saved cursor", slog.String("scope", scope))

	page, err := d.backend.Delta(ctx, driveID, token)
	if err == nil {
		return page, nil
	}

	if !errors.Is(err, graphapi.ErrGone) && !errors.Is(err, graphapi.ErrBadRequest) {
		return nil, fmt.Errorf("drivesync: resuming delta feed: %w", err)
	}

	d.logger.Warn("cursor rejected by remote, restarting full enumeration",
		slog.String("scope", scope),
	)

	if err := d.cursors.Clear(ctx, scope); err != nil {
		return nil, err
	}

	page, err = d.backend.Delta(ctx, driveID, "")
	if err != nil {
		return nil, fmt.Errorf("drivesync: initial delta request after reset: %w", err)
	}

	return page, nil
}

// processPage classifies and handles every item on one page. Item-level
// fetch/commit errors are non-fatal; ledger and cursor store errors
// abort the invocation.
func (d *Driver) processPage(ctx context.Context, driveID string, page *graphapi.DeltaPage, stats *Stats) error {
	for i := range page.Items {
		item := &page.Items[i]

		switch item.Kind {
		case graphapi.KindDeleted:
			stats.Deletions++
			continue
		case graphapi.KindFolder:
			stats.Folders++
			continue
		case graphapi.KindFile:
		}

		stats.Files++

		identity := item.VersionIdentity()

		update, err := d.ledger.ShouldUpdate(ctx, item.ID, identity)
		if err != nil {
			return err
		}

		if !update {
			stats.Skipped++
			continue
		}

		if err := d.syncFile(ctx, driveID, item, identity); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			d.logger.Error("file sync failed",
				slog.String("item_id", item.ID),
				slog.String("name", item.Name),
				slog.String("error", err.Error()),
			)

			stats.Failed++

			continue
		}

		stats.Succeeded++
	}

	return nil
}

// syncFile downloads one file through the hashing writer and records its
// version. The version is logged only after the content commit succeeds.
func (d *Driver) syncFile(ctx context.Context, driveID string, item *graphapi.Item, identity string) error {
	if err := d.pace(ctx); err != nil {
		return err
	}

	content, err := d.backend.DownloadContent(ctx, driveID, item.ID)
	if err != nil {
		return err
	}
	defer content.Close()

	res, err := d.writer.Save(Namespace, content)
	if err != nil {
		return err
	}

	parentPath := item.ParentPath
	if parentPath == "" {
		parentPath = "/"
	}

	return d.ledger.LogVersion(ctx, ledger.Record{
		ItemID:     item.ID,
		VersionID:  identity,
		Name:       item.Name,
		Path:       parentPath,
		Size:       res.Size,
		BackedUpAt: item.ModifiedAt,
	})
}

// randomPace sleeps a uniformly random duration inside the pacing bounds.
func randomPace(ctx context.Context) error {
	d := paceMin + time.Duration(rand.Int64N(int64(paceMax-paceMin))) //nolint:gosec // pacing jitter

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
