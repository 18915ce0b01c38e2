// Package mailsync implements the delta sync driver for the mail
// backend: it walks the primary and archive mailbox folder trees, runs
// the stateful per-folder sync loop, and archives full item content for
// every change the version ledger has not seen.
package mailsync

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/sreckojovancevic/deltabridge/internal/blob"
	"github.com/sreckojovancevic/deltabridge/internal/cursor"
	"github.com/sreckojovancevic/deltabridge/internal/ews"
	"github.com/sreckojovancevic/deltabridge/internal/ledger"
)

// Namespace is the content namespace for mail blobs.
const Namespace = "exchange"

// Retry policy. A folder or item gets maxAttempts tries in total; the
// protocol-level throttle retry inside the EWS client is independent.
const (
	maxAttempts    = 4
	itemRetryDelay = 2 * time.Second

	paceMin = 100 * time.Millisecond
	paceMax = 250 * time.Millisecond
)

// Backend is the mail API surface the driver consumes.
type Backend interface {
	FindFolders(ctx context.Context, mailbox string, parent ews.FolderRef) ([]ews.Folder, error)
	SyncFolderItems(ctx context.Context, mailbox, folderID, syncState string, maxChanges int) (*ews.SyncPage, error)
	GetItem(ctx context.Context, mailbox, itemID string) (*ews.Item, error)
}

// Stats are the per-invocation counters reported in the summary.
type Stats struct {
	Folders int   `json:"folders"`
	Creates int   `json:"creates"`
	Updates int   `json:"updates"`
	Skipped int   `json:"skipped"`
	Failed  int   `json:"failed"`
	Bytes   int64 `json:"bytes"`
}

// Options tune the driver; zero values fall back to defaults.
type Options struct {
	// MimeThreshold is the payload size in bytes at or below which
	// message content is hashed in memory.
	MimeThreshold int64
	// SkipFolders are top-level folder names excluded from sync,
	// matched case-insensitively.
	SkipFolders []string
	// MaxChanges bounds each sync batch.
	MaxChanges int
}

// Driver runs one mail sync invocation. Not safe for concurrent
// invocations against the same entity; callers serialize those.
type Driver struct {
	backend Backend
	cursors *cursor.Store
	ledger  *ledger.Ledger
	writer  *blob.Writer
	logger  *slog.Logger

	threshold  int64
	maxChanges int
	skip       map[string]struct{}

	// pace and sleep are injectable so tests never wait.
	pace  func(ctx context.Context) error
	sleep func(ctx context.Context, d time.Duration) error
}

// New assembles a mail driver from its collaborators.
func New(backend Backend, cursors *cursor.Store, ldg *ledger.Ledger, writer *blob.Writer, opts Options, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.MimeThreshold <= 0 {
		opts.MimeThreshold = 50 * 1024 * 1024
	}

	if opts.MaxChanges <= 0 {
		opts.MaxChanges = 100
	}

	skip := make(map[string]struct{}, len(opts.SkipFolders))
	for _, name := range opts.SkipFolders {
		skip[strings.ToLower(name)] = struct{}{}
	}

	return &Driver{
		backend:    backend,
		cursors:    cursors,
		ledger:     ldg,
		writer:     writer,
		logger:     logger,
		threshold:  opts.MimeThreshold,
		maxChanges: opts.MaxChanges,
		skip:       skip,
		pace:       randomPace,
		sleep:      sleepContext,
	}
}

// root describes one of the two mailbox trees processed per entity.
// required roots must enumerate; optional ones may simply not exist.
type root struct {
	ref         ews.FolderRef
	label       string
	scopePrefix string
	required    bool
}

// folderWork is one unit on the explicit traversal worklist. Threading
// the worklist instead of recursing keeps arbitrarily deep folder trees
// off the call stack.
type folderWork struct {
	id    string
	path  string
	scope string
}

// Run performs one delta sync for the mailbox and its archive. Folder
// and item failures are retried with bounded attempts and then
// abandoned; store failures and failure to enumerate the primary root
// (which includes a mailbox-wide auth failure) abort the invocation.
// Only the archive root may be absent.
func (d *Driver) Run(ctx context.Context, mailbox string) (Stats, error) {
	var stats Stats

	d.logger.Info("starting mail delta sync", slog.String("mailbox", mailbox))

	roots := []root{
		{ref: ews.Root(ews.RootPrimary, false), label: "[MAIL]", scopePrefix: "ews_mail", required: true},
		{ref: ews.Root(ews.RootArchive, true), label: "[ARCHIVE]", scopePrefix: "ews_arc"},
	}

	for _, r := range roots {
		if err := d.processRoot(ctx, mailbox, r, &stats); err != nil {
			return stats, err
		}
	}

	d.logger.Info("mail delta sync finished",
		slog.String("mailbox", mailbox),
		slog.Int("folders", stats.Folders),
		slog.Int("new", stats.Creates),
		slog.Int("updated", stats.Updates),
		slog.Int("skipped", stats.Skipped),
		slog.Int("failed", stats.Failed),
		slog.String("size_mb", fmt.Sprintf("%.2f", float64(stats.Bytes)/1024/1024)),
	)

	return stats, nil
}

// processRoot seeds the worklist with the root's retained child folders
// and drains it depth-first. Sub-folders get scopes nested under their
// parent's; the skip-list applies only to top-level folders.
func (d *Driver) processRoot(ctx context.Context, mailbox string, r root, stats *Stats) error {
	folders, err := d.backend.FindFolders(ctx, mailbox, r.ref)
	if err != nil {
		// The primary root must enumerate: failing here means the
		// mailbox is unreachable (bad credentials, wrong address), and
		// a run that archived nothing must not report success.
		if r.required {
			return fmt.Errorf("mailsync: enumerating %s root for %s: %w", r.ref.ID, mailbox, err)
		}

		// An absent archive mailbox must not sink the primary's work.
		d.logger.Warn("folder enumeration failed for root",
			slog.String("mailbox", mailbox),
			slog.String("root", r.ref.ID),
			slog.String("error", err.Error()),
		)

		return nil
	}

	var work []folderWork

	for i := len(folders) - 1; i >= 0; i-- {
		f := folders[i]

		if _, skip := d.skip[strings.ToLower(f.Name)]; skip {
			d.logger.Debug("skipping folder", slog.String("name", f.Name))
			continue
		}

		work = append(work, folderWork{
			id:    f.ID,
			path:  r.label + "/" + f.Name,
			scope: cursor.MailScope(r.scopePrefix, f.ID),
		})
	}

	for len(work) > 0 {
		item := work[len(work)-1]
		work = work[:len(work)-1]

		if err := d.syncFolderWithRetry(ctx, mailbox, item, stats); err != nil {
			return err
		}

		subs, err := d.backend.FindFolders(ctx, mailbox, ews.FolderID(item.id))
		if err != nil {
			d.logger.Warn("sub-folder enumeration failed",
				slog.String("path", item.path),
				slog.String("error", err.Error()),
			)

			continue
		}

		for i := len(subs) - 1; i >= 0; i-- {
			work = append(work, folderWork{
				id:    subs[i].ID,
				path:  item.path + "/" + subs[i].Name,
				scope: cursor.ChildScope(item.scope, subs[i].ID),
			})
		}
	}

	return nil
}

// syncFolderWithRetry drives the bounded retry loop around one folder.
// Exhausting retries abandons the folder without failing the invocation;
// store failures abort immediately.
func (d *Driver) syncFolderWithRetry(ctx context.Context, mailbox string, work folderWork, stats *Stats) error {
	stats.Folders++

	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			if err := d.sleep(ctx, backoff); err != nil {
				return err
			}
		}

		lastErr = d.syncFolder(ctx, mailbox, work, stats)
		if lastErr == nil {
			return nil
		}

		if isFatal(lastErr) || ctx.Err() != nil {
			return lastErr
		}

		d.logger.Warn("folder sync attempt failed",
			slog.String("path", work.path),
			slog.Int("attempt", attempt+1),
			slog.String("error", lastErr.Error()),
		)
	}

	d.logger.Error("folder abandoned after retries",
		slog.String("path", work.path),
		slog.String("error", lastErr.Error()),
	)

	return nil
}

// syncFolder runs the stateful sync loop for one folder scope: bounded
// batches of changes, carried sync-state, pacing between batches. The
// cursor is persisted only when the server actually returned a new
// sync-state; a loop that produced none must not overwrite a good
// cursor with nothing.
func (d *Driver) syncFolder(ctx context.Context, mailbox string, work folderWork, stats *Stats) error {
	state, _, err := d.cursors.Get(ctx, work.scope)
	if err != nil {
		return fatal(err)
	}

	var newState string

	for {
		page, err := d.backend.SyncFolderItems(ctx, mailbox, work.id, state, d.maxChanges)
		if err != nil {
			return err
		}

		if page.SyncState != "" {
			newState = page.SyncState
		}

		for _, change := range page.Changes {
			if err := d.syncItemWithRetry(ctx, mailbox, change, work.path, stats); err != nil {
				return err
			}
		}

		if !page.MoreAvailable {
			break
		}

		if page.SyncState == "" {
			// More promised but no state to continue from; a retry of
			// the same request would loop forever.
			d.logger.Warn("sync batch reports more without a sync state",
				slog.String("path", work.path),
			)

			break
		}

		state = page.SyncState

		if err := d.pace(ctx); err != nil {
			return err
		}
	}

	if newState != "" {
		if err := d.cursors.Save(ctx, work.scope, newState); err != nil {
			return fatal(err)
		}
	}

	return nil
}

// syncItemWithRetry drives the bounded fixed-delay retry loop around one
// item. Exhausting retries abandons the item; sibling items proceed.
func (d *Driver) syncItemWithRetry(ctx context.Context, mailbox string, change ews.Change, folderPath string, stats *Stats) error {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := d.sleep(ctx, itemRetryDelay); err != nil {
				return err
			}
		}

		lastErr = d.syncItem(ctx, mailbox, change, folderPath, stats)
		if lastErr == nil {
			return nil
		}

		if isFatal(lastErr) || ctx.Err() != nil {
			return lastErr
		}
	}

	d.logger.Error("item abandoned after retries",
		slog.String("item_id", change.ItemID),
		slog.String("path", folderPath),
		slog.String("error", lastErr.Error()),
	)

	stats.Failed++

	return nil
}

// syncItem archives one changed item. The change-key short-circuit runs
// before any content fetch; the digest gate runs after hashing but
// before the commit; the version is logged only after the commit.
func (d *Driver) syncItem(ctx context.Context, mailbox string, change ews.Change, folderPath string, stats *Stats) error {
	if change.ChangeKey != "" {
		same, err := d.ledger.SameChangeKey(ctx, change.ItemID, change.ChangeKey)
		if err != nil {
			return fatal(err)
		}

		if same {
			stats.Skipped++
			return nil
		}
	}

	item, err := d.backend.GetItem(ctx, mailbox, change.ItemID)
	if errors.Is(err, ews.ErrNoContent) {
		// Structurally incomplete response; retrying is futile.
		stats.Skipped++
		return nil
	}

	if err != nil {
		return err
	}

	spool := blob.NewSpool(d.threshold)
	defer spool.Close()

	decoder := base64.NewDecoder(base64.StdEncoding, strings.NewReader(item.MimeBase64))
	if _, err := io.Copy(spool, decoder); err != nil {
		return fmt.Errorf("mailsync: decoding MIME content for %s: %w", change.ItemID, err)
	}

	digest := spool.Digest()

	update, err := d.ledger.ShouldUpdate(ctx, change.ItemID, digest)
	if err != nil {
		return fatal(err)
	}

	if !update {
		stats.Skipped++
		return nil
	}

	content, err := spool.Reader()
	if err != nil {
		return err
	}

	res, err := d.writer.Save(Namespace, content)
	if err != nil {
		return err
	}

	if err := d.ledger.LogVersion(ctx, ledger.Record{
		ItemID:     change.ItemID,
		VersionID:  digest,
		ChangeKey:  change.ChangeKey,
		Name:       itemFileName(item.Subject, digest, folderPath),
		Path:       folderPath,
		Size:       res.Size,
		BackedUpAt: item.Received,
	}); err != nil {
		return fatal(err)
	}

	if change.Type == ews.ChangeUpdate {
		stats.Updates++
	} else {
		stats.Creates++
	}

	stats.Bytes += res.Size

	return nil
}

// fatalError marks store failures that must abort the invocation rather
// than burn retry attempts: retrying cannot fix an unavailable database,
// and proceeding without one silently re-enumerates everything.
type fatalError struct{ err error }

func (e fatalError) Error() string { return e.err.Error() }
func (e fatalError) Unwrap() error { return e.err }

func fatal(err error) error { return fatalError{err: err} }

func isFatal(err error) bool {
	var fe fatalError
	return errors.As(err, &fe)
}

// randomPace sleeps a uniformly random duration inside the pacing bounds.
func randomPace(ctx context.Context) error {
	d := paceMin + time.Duration(rand.Int64N(int64(paceMax-paceMin))) //nolint:gosec // pacing jitter

	return sleepContext(ctx, d)
}

// sleepContext waits for d or until the context is canceled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
