package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rssdigest/internal/config"
	"github.com/ppiankov/rssdigest/internal/digest"
	"github.com/ppiankov/rssdigest/internal/fetch"
	"github.com/ppiankov/rssdigest/internal/history"
	"github.com/ppiankov/rssdigest/internal/logger"
)

var (
	runHours       int
	runOutput      string
	runTimeout     time.Duration
	runConcurrency int
	runHistory     string
)

var runCmd = &cobra.Command{
	Use:     "run",
	Aliases: []string{"fetch"},
	Short:   "Fetch all feeds and write the articles from the last N hours as JSON",
	Args:    cobra.NoArgs,
	RunE:    runAction,
}

func init() {
	runCmd.Flags().IntVar(&runHours, "hours", config.DefaultHours, "look-back window in hours (default from config)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", `output path, "-" for stdout (default $TMPDIR/rssdigest-<unix>.json)`)
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "per-feed time budget (default from config)")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "feeds fetched in parallel (default from config)")
	runCmd.Flags().StringVar(&runHistory, "history", "", "record this run in the SQLite ledger at path")
	rootCmd.AddCommand(runCmd)
}

func runAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	hours := cfg.Fetch.Hours
	if flags.Changed("hours") {
		hours = runHours
	}
	if hours < 0 {
		return fmt.Errorf("--hours must be >= 0, got %d", hours)
	}

	opts := cfg.FetchOptions()
	if flags.Changed("timeout") {
		if runTimeout <= 0 {
			return fmt.Errorf("--timeout must be positive, got %s", runTimeout)
		}
		opts.Timeout = runTimeout
	}
	if flags.Changed("concurrency") {
		if runConcurrency <= 0 {
			return fmt.Errorf("--concurrency must be positive, got %d", runConcurrency)
		}
		opts.Concurrency = runConcurrency
	}
	opts.Logger = slog.Default()

	historyPath := cfg.History.Path
	if flags.Changed("history") {
		historyPath = runHistory
	}

	output := runOutput
	if output == "" {
		output = filepath.Join(os.TempDir(), fmt.Sprintf("rssdigest-%d.json", time.Now().Unix()))
	}

	sources, err := cfg.FeedSources()
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}

	runID := history.NewRunID()
	ctx := logger.Ctx(cmd.Context(), slog.String("run_id", runID))

	res, err := fetch.New(opts).Fetch(ctx, sources, hours)
	if err != nil {
		return err
	}

	if err := digest.WriteFile(output, digest.Build(res)); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if output != digest.Stdout {
		fmt.Fprintln(cmd.ErrOrStderr(), output)
	}

	if historyPath != "" {
		// The digest is already written; a ledger failure only warns.
		if err := recordHistory(ctx, historyPath, cfg.History.RetainDays, runID, res); err != nil {
			slog.WarnContext(ctx, "history not recorded", "path", historyPath, "error", err)
		}
	}

	return nil
}

func recordHistory(ctx context.Context, path string, retainDays int, runID string, res *fetch.Result) error {
	db, err := history.Open(path)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer func() { _ = db.Close() }()

	run, outcomes := history.FromResult(runID, res)
	if err := db.RecordRun(ctx, run, outcomes); err != nil {
		return err
	}

	pruned, err := db.PruneOld(ctx, retainDays)
	if err != nil {
		return fmt.Errorf("prune history: %w", err)
	}
	if pruned > 0 {
		slog.DebugContext(ctx, "history pruned", "runs", pruned, "retain_days", retainDays)
	}
	return nil
}
