package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/sreckojovancevic/deltabridge/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// httpRequestTimeout bounds every backend request including the body.
// Content downloads can be tens of megabytes, so this is generous; the
// signal-bound command context handles interactive cancellation.
const httpRequestTimeout = 10 * time.Minute

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpRequestTimeout}
}

// newRootCmd builds and returns the fully-assembled root command with
// all subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deltabridge",
		Short:   "Incremental Microsoft 365 backup",
		Long:    "Mirrors OneDrive delta feeds and Exchange mailboxes into local content-addressed storage, fetching only what changed since the last run.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// loadConfig resolves the effective configuration: defaults, overlaid by
// the config file when one exists.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(flagConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return cfg, nil
}

// buildLogger creates the process logger. Terminals get colorized
// human-oriented output; pipes and files get plain key=value text.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	if isatty.IsTerminal(os.Stderr.Fd()) {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
