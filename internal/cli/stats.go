package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ppiankov/rssdigest/internal/config"
	"github.com/ppiankov/rssdigest/internal/history"
)

var (
	statsSince   string
	statsFormat  string
	statsHistory string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-feed health from the run history",
	Args:  cobra.NoArgs,
	RunE:  statsAction,
}

func init() {
	statsCmd.Flags().StringVar(&statsSince, "since", "30d", "time window (e.g. 7d, 48h)")
	statsCmd.Flags().StringVar(&statsFormat, "format", "terminal", "output format: terminal, json")
	statsCmd.Flags().StringVar(&statsHistory, "history", "", "history ledger path (default from config)")
	rootCmd.AddCommand(statsCmd)
}

const (
	staleDays      = 7
	maxErrorLength = 60
)

var errHistoryDisabled = errors.New("history is disabled: set history.path in config.yaml or pass --history")

func statsAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	path := cfg.History.Path
	if cmd.Flags().Changed("history") {
		path = statsHistory
	}
	if path == "" {
		return errHistoryDisabled
	}

	sinceDur, err := parseDuration(statsSince)
	if err != nil {
		return fmt.Errorf("parse --since: %w", err)
	}
	sinceTime := time.Now().Add(-sinceDur)

	db, err := history.Open(path)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer func() { _ = db.Close() }()

	ctx := cmd.Context()
	runs, err := db.Runs(ctx, sinceTime)
	if err != nil {
		return err
	}
	health, err := db.FeedHealth(ctx, sinceTime)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch statsFormat {
	case "json":
		return printStatsJSON(out, runs, health, sinceDur)
	case "terminal", "":
		if len(health) == 0 {
			_, err := fmt.Fprintln(out, "No runs recorded. Run 'rssdigest run --history <path>' first.")
			return err
		}
		return printStats(out, runs, health, sinceDur, time.Now())
	default:
		return fmt.Errorf("unknown format %q (want terminal or json)", statsFormat)
	}
}

type jsonStatsOutput struct {
	WindowHours int              `json:"window_hours"`
	Runs        int              `json:"runs"`
	Feeds       []jsonFeedHealth `json:"feeds"`
}

type jsonFeedHealth struct {
	Name        string  `json:"name"`
	URL         string  `json:"url"`
	Attempts    int     `json:"attempts"`
	Successes   int     `json:"successes"`
	Failures    int     `json:"failures"`
	SuccessPct  float64 `json:"success_pct"`
	AvgItems    float64 `json:"avg_items"`
	LastSuccess string  `json:"last_success,omitempty"`
	LastError   string  `json:"last_error,omitempty"`
}

func printStatsJSON(w io.Writer, runs int, health []history.FeedHealth, since time.Duration) error {
	feeds := make([]jsonFeedHealth, 0, len(health))
	for _, h := range health {
		jf := jsonFeedHealth{
			Name:       h.Name,
			URL:        h.URL,
			Attempts:   h.Attempts,
			Successes:  h.Successes,
			Failures:   h.Failures,
			SuccessPct: pct(h.Successes, h.Attempts),
			AvgItems:   h.AvgItems,
			LastError:  h.LastError,
		}
		if !h.LastSuccess.IsZero() {
			jf.LastSuccess = h.LastSuccess.UTC().Format(time.RFC3339)
		}
		feeds = append(feeds, jf)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonStatsOutput{
		WindowHours: int(since.Hours()),
		Runs:        runs,
		Feeds:       feeds,
	})
}

func printStats(w io.Writer, runs int, health []history.FeedHealth, since time.Duration, now time.Time) error {
	var attempts, successes int
	for _, h := range health {
		attempts += h.Attempts
		successes += h.Successes
	}

	fmt.Fprintf(w, "rssdigest stats: %s, %d runs, %d feeds, %.1f%% fetches succeeded\n\n",
		formatStatsDuration(since), runs, len(health), pct(successes, attempts))

	rows := make([][]string, 0, len(health))
	for _, h := range health {
		lastSuccess := "never"
		if !h.LastSuccess.IsZero() {
			lastSuccess = humanize.RelTime(h.LastSuccess, now, "ago", "from now")
		}
		rows = append(rows, []string{
			statusDot(h),
			h.Name,
			strconv.Itoa(h.Attempts),
			strconv.Itoa(h.Failures),
			strconv.FormatFloat(h.AvgItems, 'f', 1, 64),
			lastSuccess,
			truncate(h.LastError, maxErrorLength),
		})
	}
	if err := renderTable(w, []string{"", "Feed", "Runs", "Failed", "Avg Items", "Last OK", "Last Error"}, rows); err != nil {
		return err
	}

	staleThreshold := now.AddDate(0, 0, -staleDays)
	var stale []history.FeedHealth
	for _, h := range health {
		if h.LastSuccess.Before(staleThreshold) {
			stale = append(stale, h)
		}
	}
	if len(stale) > 0 {
		fmt.Fprintf(w, "\n--- Stale Feeds (no successful fetch in %d+ days) ---\n\n", staleDays)
		for _, h := range stale {
			if h.LastSuccess.IsZero() {
				fmt.Fprintf(w, "  %s: never fetched successfully\n", h.Name)
				continue
			}
			fmt.Fprintf(w, "  %s: last success %s\n", h.Name, humanize.RelTime(h.LastSuccess, now, "ago", "from now"))
		}
	}
	return nil
}

func statusDot(h history.FeedHealth) string {
	switch {
	case h.Failures == 0:
		return color.GreenString("●")
	case h.Successes == 0:
		return color.RedString("●")
	default:
		return color.YellowString("●")
	}
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// parseDuration handles both Go durations and "Nd" day notation.
func parseDuration(s string) (time.Duration, error) {
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil && days > 0 {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}

func formatStatsDuration(d time.Duration) string {
	hours := int(d.Hours())
	if hours >= 24 && hours%24 == 0 {
		return fmt.Sprintf("%d days", hours/24)
	}
	return fmt.Sprintf("%dh", hours)
}
