package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rssdigest/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the config directory with an example config.yaml",
	Args:  cobra.NoArgs,
	RunE:  initAction,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func initAction(cmd *cobra.Command, _ []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	out := cmd.OutOrStdout()
	configPath := filepath.Join(configDir, config.DefaultConfigFile)
	wrote, err := writeIfNotExists(out, configPath, []byte(exampleConfig))
	if err != nil {
		return err
	}

	if !wrote {
		fmt.Fprintf(out, "Config directory %s already initialized.\n", configDir)
	} else {
		fmt.Fprintf(out, "Initialized %s.\n", configDir)
	}
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(out io.Writer, path string, data []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(out, "  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(out, "  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# rssdigest configuration
# Every key is optional. RSSDIGEST_* environment variables override this file;
# command-line flags override both.

fetch:
  hours: 24
  timeout: 15s
  concurrency: 10
  retries: 2
  # user_agent: "my-digest/1.0"
  # Minimum spacing between requests to the same host; 0 disables it.
  host_interval: 0s

sources:
  # Replace the built-in list with your own (same shape: feeds: [{name, url}]).
  # file: feeds.yaml
  extra: []
  # - name: "Go Blog"
  #   url: "https://go.dev/blog/feed.atom"

history:
  # SQLite ledger of runs, used by 'rssdigest stats'. Empty disables it.
  path: ""
  retain_days: 90

log:
  format: text
`
