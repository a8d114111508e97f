// Command fitsync is the offline-first sync client for the fittrack
// backend: it drains the local mutation queue to the server, pulls remote
// changes down, and reconciles remote deletions.
package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/openfittrack/fitsync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd.
var (
	flagConfigPath string
	flagVerbose    bool
	flagJSON       bool
)

// newRootCmd builds the fully-assembled root command. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "fitsync",
		Short:   "Offline-first sync client for fittrack",
		Long:    "Synchronizes the local fittrack datastore with the shared backend: push queued mutations, pull remote changes, reconcile deletions.",
		Version: version,
		// Errors are printed by main; Cobra's defaults would double-print.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", config.DefaultConfigPath(), "config file path")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json-logs", false, "force JSON log output")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newRequeueCmd())

	return cmd
}

// newLogger builds the process logger. Interactive runs get a text
// handler on stderr; non-tty or --json-logs runs get JSON. When logFile
// is set (watch mode), output goes to a size-rotated file instead.
func newLogger(logFile string) *slog.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var w io.Writer = os.Stderr

	if logFile != "" {
		w = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     30, // days
		}

		return slog.New(slog.NewJSONHandler(w, opts))
	}

	if flagJSON || !isatty.IsTerminal(os.Stderr.Fd()) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}
