package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/sreckojovancevic/deltabridge/internal/config"
	"github.com/sreckojovancevic/deltabridge/internal/drivesync"
	"github.com/sreckojovancevic/deltabridge/internal/mailsync"
	"github.com/sreckojovancevic/deltabridge/internal/storage"
)

const (
	sqlStatusCursors = `SELECT scope, updated_at FROM sync_cursors ORDER BY scope`

	sqlStatusTotals = `SELECT COUNT(*), COALESCE(SUM(size), 0), COALESCE(MAX(backed_up_at), '')
		FROM item_versions`
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <backend> <entity>",
		Short: "Show local sync state for an entity",
		Long: `Display the persisted sync state for one entity: how many versions
have been archived, their total size, and the checkpoints each scope
would resume from.

backend is "onedrive" or "exchange"; entity is the user or mailbox
address used with sync.`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{drivesync.Namespace, mailsync.Namespace},
		RunE:      runStatus,
	}
}

// statusReport is the JSON shape of the status output.
type statusReport struct {
	Backend     string         `json:"backend"`
	Entity      string         `json:"entity"`
	Versions    int            `json:"versions"`
	Bytes       int64          `json:"bytes"`
	LastCapture string         `json:"last_capture,omitempty"`
	Cursors     []statusCursor `json:"cursors"`
}

type statusCursor struct {
	Scope     string `json:"scope"`
	UpdatedAt string `json:"updated_at"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	backend, entity := args[0], args[1]

	if backend != drivesync.Namespace && backend != mailsync.Namespace {
		return fmt.Errorf("unknown backend %q (expected %q or %q)",
			backend, drivesync.Namespace, mailsync.Namespace)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	root, err := config.ExpandHome(cfg.Storage.Root)
	if err != nil {
		return err
	}

	dbPath := filepath.Join(storage.EntityDir(root, backend, entity), "state.db")
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("no local state for %s/%s (has sync run yet?)", backend, entity)
	}

	// Read-only: status must never block or mutate a running sync.
	db, err := sql.Open("sqlite", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	defer db.Close()

	report, err := buildStatusReport(cmd, db, backend, entity)
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(report)
	}

	printStatusText(report)

	return nil
}

func buildStatusReport(cmd *cobra.Command, db *sql.DB, backend, entity string) (*statusReport, error) {
	ctx := cmd.Context()

	report := &statusReport{Backend: backend, Entity: entity}

	err := db.QueryRowContext(ctx, sqlStatusTotals).
		Scan(&report.Versions, &report.Bytes, &report.LastCapture)
	if err != nil {
		return nil, fmt.Errorf("reading version totals: %w", err)
	}

	rows, err := db.QueryContext(ctx, sqlStatusCursors)
	if err != nil {
		return nil, fmt.Errorf("reading cursors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			scope   string
			updated int64
		)

		if err := rows.Scan(&scope, &updated); err != nil {
			return nil, fmt.Errorf("reading cursors: %w", err)
		}

		report.Cursors = append(report.Cursors, statusCursor{
			Scope:     scope,
			UpdatedAt: time.Unix(updated, 0).UTC().Format(time.RFC3339),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading cursors: %w", err)
	}

	return report, nil
}

func printStatusText(r *statusReport) {
	fmt.Printf("%s/%s\n", r.Backend, r.Entity)
	fmt.Printf("  versions: %d (%.2f MB)\n", r.Versions, float64(r.Bytes)/1024/1024)

	if r.LastCapture != "" {
		fmt.Printf("  last capture: %s\n", r.LastCapture)
	}

	if len(r.Cursors) == 0 {
		fmt.Println("  no checkpoints yet")
		return
	}

	fmt.Printf("  checkpoints (%d):\n", len(r.Cursors))

	for _, c := range r.Cursors {
		fmt.Printf("    %-40s %s\n", c.Scope, c.UpdatedAt)
	}
}
