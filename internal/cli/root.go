// Package cli provides the command-line interface for rssdigest.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rssdigest/internal/config"
	"github.com/ppiankov/rssdigest/internal/logger"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var (
	configDir string
	logFormat string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "rssdigest",
	Short: "Fetch RSS and Atom feeds into a time-windowed JSON digest",
	Long: "rssdigest fetches a list of RSS/Atom feeds concurrently, keeps the articles " +
		"published within the last N hours, and writes them with run metadata as JSON.",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogger,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "rssdigest %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", defaultConfigDir(), "directory holding config.yaml")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text, json (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(versionCmd)
}

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rssdigest"
	}
	return filepath.Join(home, ".rssdigest")
}

// setupLogger installs the default slog logger on stderr. --log-format wins
// over log.format from config.yaml or RSSDIGEST_LOG_FORMAT.
func setupLogger(_ *cobra.Command, _ []string) error {
	format := logFormat
	if format == "" {
		if cfg, err := config.Load(configDir); err == nil {
			format = cfg.Log.Format
		}
	}

	l, err := logger.New(os.Stderr, format, verbose)
	if err != nil {
		return err
	}
	slog.SetDefault(l)
	return nil
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
