package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rssdigest/internal/config"
	"github.com/ppiankov/rssdigest/internal/history"
	"github.com/ppiankov/rssdigest/internal/source"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, feed list and history ledger",
	Args:  cobra.NoArgs,
	RunE:  doctorAction,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func doctorAction(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	ok := true

	// Config dir is optional; defaults apply without it.
	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		printInfo(out, "config directory %s not found, using defaults (run 'rssdigest init')", configDir)
	} else {
		printCheck(out, true, "config directory %s", configDir)
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		printCheck(out, false, "config.yaml: %v", err)
		return fmt.Errorf("some checks failed")
	}
	printCheck(out, true, "config.yaml (hours=%d, timeout=%s, concurrency=%d)",
		cfg.Fetch.Hours, cfg.Fetch.Timeout.Duration, cfg.Fetch.Concurrency)

	feeds, err := cfg.FeedSources()
	switch {
	case err != nil:
		printCheck(out, false, "sources: %v", err)
		ok = false
	case len(feeds) == 0:
		printCheck(out, false, "sources: feed list is empty")
		ok = false
	default:
		origin := "built-in list"
		if cfg.Sources.File != "" {
			origin = filepath.Base(cfg.Sources.File)
		}
		printCheck(out, true, "sources (%d feeds from %s, %d extra)", len(feeds), origin, len(cfg.Sources.Extra))
	}

	if cfg.History.Path == "" {
		printInfo(out, "history disabled")
	} else {
		db, err := history.Open(cfg.History.Path)
		if err != nil {
			printCheck(out, false, "history: %v", err)
			ok = false
		} else {
			defer func() { _ = db.Close() }()
			printCheck(out, true, "history %s", cfg.History.Path)
			checkFeedHealth(cmd.Context(), out, db, feeds)
		}
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Fprintln(out, "\nAll checks passed.")
	return nil
}

// checkFeedHealth reports configured feeds that keep failing. Informational
// only; it never fails the doctor run.
func checkFeedHealth(ctx context.Context, out io.Writer, db *history.Store, feeds []source.FeedSource) {
	since := time.Now().AddDate(0, 0, -30)
	health, err := db.FeedHealth(ctx, since)
	if err != nil || len(health) == 0 {
		return
	}

	configured := make(map[string]bool, len(feeds))
	for _, f := range feeds {
		configured[f.URL] = true
	}

	staleThreshold := time.Now().AddDate(0, 0, -staleDays)
	fmt.Fprintln(out)
	for _, h := range health {
		if !configured[h.URL] {
			continue
		}
		if h.Successes == 0 && h.Attempts >= 3 {
			printInfo(out, "failing: %s, %d attempts, last error: %s", h.Name, h.Attempts, truncate(h.LastError, maxErrorLength))
			continue
		}
		if h.Successes > 0 && h.LastSuccess.Before(staleThreshold) {
			daysAgo := int(time.Since(h.LastSuccess).Hours() / 24)
			printInfo(out, "stale: %s, last successful fetch %d days ago", h.Name, daysAgo)
		}
	}
}

func printCheck(out io.Writer, pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Fprintf(out, "[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(out io.Writer, format string, args ...any) {
	fmt.Fprintf(out, "[INFO] %s\n", fmt.Sprintf(format, args...))
}
