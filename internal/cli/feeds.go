package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rssdigest/internal/config"
	"github.com/ppiankov/rssdigest/internal/source"
)

var feedsFormat string

var feedsCmd = &cobra.Command{
	Use:   "feeds",
	Short: "List the feeds a run would fetch",
	Args:  cobra.NoArgs,
	RunE:  feedsAction,
}

func init() {
	feedsCmd.Flags().StringVar(&feedsFormat, "format", "text", "output format: text, json")
	rootCmd.AddCommand(feedsCmd)
}

func feedsAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	feeds, err := cfg.FeedSources()
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}

	out := cmd.OutOrStdout()
	switch feedsFormat {
	case "json":
		return printFeedsJSON(out, feeds)
	case "text", "":
		return printFeeds(out, feeds)
	default:
		return fmt.Errorf("unknown format %q (want text or json)", feedsFormat)
	}
}

func printFeedsJSON(w io.Writer, feeds []source.FeedSource) error {
	if feeds == nil {
		feeds = []source.FeedSource{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(feeds)
}

func printFeeds(w io.Writer, feeds []source.FeedSource) error {
	rows := make([][]string, 0, len(feeds))
	for _, f := range feeds {
		rows = append(rows, []string{f.Name, f.URL})
	}
	if err := renderTable(w, []string{"Name", "URL"}, rows); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d feeds\n", len(feeds))
	return err
}
