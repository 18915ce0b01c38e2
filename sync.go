package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sreckojovancevic/deltabridge/internal/blob"
	"github.com/sreckojovancevic/deltabridge/internal/config"
	"github.com/sreckojovancevic/deltabridge/internal/cursor"
	"github.com/sreckojovancevic/deltabridge/internal/drivesync"
	"github.com/sreckojovancevic/deltabridge/internal/ews"
	"github.com/sreckojovancevic/deltabridge/internal/graphapi"
	"github.com/sreckojovancevic/deltabridge/internal/ledger"
	"github.com/sreckojovancevic/deltabridge/internal/mailsync"
	"github.com/sreckojovancevic/deltabridge/internal/storage"
)

var flagDriveID string

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one incremental sync pass",
		Long: `Run one delta sync pass for a backend and entity.

Each pass resumes from the checkpoint the previous pass persisted and
fetches only content the version ledger has not seen before.`,
	}

	drive := &cobra.Command{
		Use:   "drive <user>",
		Short: "Sync a user's OneDrive delta feed",
		Args:  cobra.ExactArgs(1),
		RunE:  runSyncDrive,
	}
	drive.Flags().StringVar(&flagDriveID, "drive", drivesync.DriveAlias, "drive id (default: the user's default drive)")

	mail := &cobra.Command{
		Use:   "mail <mailbox>",
		Short: "Sync a mailbox and its archive",
		Args:  cobra.ExactArgs(1),
		RunE:  runSyncMail,
	}

	cmd.AddCommand(drive)
	cmd.AddCommand(mail)

	return cmd
}

// entityStores is the per-entity persistence bundle every driver needs.
type entityStores struct {
	entity  *storage.Entity
	cursors *cursor.Store
	ledger  *ledger.Ledger
	writer  *blob.Writer
}

func openStores(ctx context.Context, cfg *config.Config, backend, name string, logger *slog.Logger) (*entityStores, error) {
	root, err := config.ExpandHome(cfg.Storage.Root)
	if err != nil {
		return nil, err
	}

	entity, err := storage.PrepareEntityStorage(ctx, root, backend, name, logger)
	if err != nil {
		return nil, err
	}

	return &entityStores{
		entity:  entity,
		cursors: cursor.NewStore(entity.DB, logger),
		ledger:  ledger.New(entity.DB, logger),
		writer:  blob.NewWriter(entity.FilesRoot, logger),
	}, nil
}

func runSyncDrive(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	user := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := buildLogger()

	token, err := graphapi.NewTokenSource(ctx, cfg.Azure.TenantID, cfg.Azure.ClientID, cfg.Azure.ClientSecret)
	if err != nil {
		return err
	}

	stores, err := openStores(ctx, cfg, drivesync.Namespace, user, logger)
	if err != nil {
		return err
	}
	defer stores.entity.Close()

	client := graphapi.NewClient(cfg.Graph.BaseURL, defaultHTTPClient(), token, logger)
	driver := drivesync.New(client, stores.cursors, stores.ledger, stores.writer, logger)

	stats, err := driver.Run(ctx, user, flagDriveID)
	if err != nil {
		return fmt.Errorf("drive sync for %s: %w", user, err)
	}

	return printSummary(stats)
}

func runSyncMail(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mailbox := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := buildLogger()

	token, err := ews.NewTokenSource(ctx, cfg.Azure.TenantID, cfg.Azure.ClientID, cfg.Azure.ClientSecret)
	if err != nil {
		return err
	}

	stores, err := openStores(ctx, cfg, mailsync.Namespace, mailbox, logger)
	if err != nil {
		return err
	}
	defer stores.entity.Close()

	client := ews.NewClient(cfg.EWS.Endpoint, defaultHTTPClient(), token, logger)
	driver := mailsync.New(client, stores.cursors, stores.ledger, stores.writer, mailsync.Options{
		MimeThreshold: cfg.EWS.MimeThresholdBytes(),
		SkipFolders:   cfg.EWS.SkipFolders,
		MaxChanges:    cfg.EWS.MaxChanges,
	}, logger)

	stats, err := driver.Run(ctx, mailbox)
	if err != nil {
		return fmt.Errorf("mail sync for %s: %w", mailbox, err)
	}

	return printSummary(stats)
}

// printSummary writes the invocation counters to stdout. The structured
// log already carried the same numbers; this is the machine-readable or
// at-a-glance version.
func printSummary(stats any) error {
	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(stats)
	}

	switch s := stats.(type) {
	case drivesync.Stats:
		fmt.Printf("pages %d, files %d (new %d, skipped %d, failed %d), folders %d, deletions %d\n",
			s.Pages, s.Files, s.Succeeded, s.Skipped, s.Failed, s.Folders, s.Deletions)
	case mailsync.Stats:
		fmt.Printf("folders %d, new %d, updated %d, skipped %d, failed %d, %.2f MB\n",
			s.Folders, s.Creates, s.Updates, s.Skipped, s.Failed, float64(s.Bytes)/1024/1024)
	}

	return nil
}
