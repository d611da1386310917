package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/rssdigest/internal/fetch"
	"github.com/ppiankov/rssdigest/internal/source"
)

func writeTestYAML(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write test yaml: %v", err)
	}
	return path
}

// --- Load tests ---

func TestLoad_FullConfig(t *testing.T) {
	dir := t.TempDir()
	writeTestYAML(t, dir, DefaultConfigFile, `
fetch:
  hours: 48
  timeout: 5s
  concurrency: 4
  retries: 0
  user_agent: test-agent/1.0
  host_interval: 250ms
sources:
  file: feeds.yaml
  extra:
    - name: Extra
      url: https://extra.example/rss
history:
  path: history.db
  retain_days: 14
log:
  format: json
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Fetch.Hours != 48 {
		t.Errorf("hours = %d, want 48", cfg.Fetch.Hours)
	}
	if cfg.Fetch.Timeout.Duration != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", cfg.Fetch.Timeout.Duration)
	}
	if cfg.Fetch.Concurrency != 4 {
		t.Errorf("concurrency = %d, want 4", cfg.Fetch.Concurrency)
	}
	if *cfg.Fetch.Retries != 0 {
		t.Errorf("retries = %d, want explicit 0", *cfg.Fetch.Retries)
	}
	if cfg.Fetch.UserAgent != "test-agent/1.0" {
		t.Errorf("user agent = %q", cfg.Fetch.UserAgent)
	}
	if cfg.Fetch.HostInterval.Duration != 250*time.Millisecond {
		t.Errorf("host interval = %v", cfg.Fetch.HostInterval.Duration)
	}
	if cfg.Sources.File != filepath.Join(dir, "feeds.yaml") {
		t.Errorf("sources.file = %q, want resolved against config dir", cfg.Sources.File)
	}
	if len(cfg.Sources.Extra) != 1 || cfg.Sources.Extra[0].Name != "Extra" {
		t.Errorf("extra = %+v", cfg.Sources.Extra)
	}
	if cfg.History.Path != filepath.Join(dir, "history.db") {
		t.Errorf("history.path = %q", cfg.History.Path)
	}
	if cfg.History.RetainDays != 14 {
		t.Errorf("retain days = %d, want 14", cfg.History.RetainDays)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("log format = %q", cfg.Log.Format)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Fetch.Hours != DefaultHours {
		t.Errorf("hours = %d, want %d", cfg.Fetch.Hours, DefaultHours)
	}
	if cfg.Fetch.Timeout.Duration != fetch.DefaultTimeout {
		t.Errorf("timeout = %v, want %v", cfg.Fetch.Timeout.Duration, fetch.DefaultTimeout)
	}
	if cfg.Fetch.Concurrency != fetch.DefaultConcurrency {
		t.Errorf("concurrency = %d", cfg.Fetch.Concurrency)
	}
	if *cfg.Fetch.Retries != fetch.DefaultRetries {
		t.Errorf("retries = %d", *cfg.Fetch.Retries)
	}
	if cfg.Fetch.UserAgent != fetch.DefaultUserAgent {
		t.Errorf("user agent = %q", cfg.Fetch.UserAgent)
	}
	if cfg.History.Path != "" {
		t.Errorf("history should be off by default, got %q", cfg.History.Path)
	}
	if cfg.History.RetainDays != DefaultRetainDays {
		t.Errorf("retain days = %d", cfg.History.RetainDays)
	}
	if cfg.Log.Format != DefaultLogFormat {
		t.Errorf("log format = %q", cfg.Log.Format)
	}
}

func TestLoad_EmptyDir(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty dir")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeTestYAML(t, dir, DefaultConfigFile, "fetch: [not: valid")

	_, err := Load(dir)
	if err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	dir := t.TempDir()
	writeTestYAML(t, dir, DefaultConfigFile, "fetch:\n  timeout: soon\n")

	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for bad duration")
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"negative hours", "fetch:\n  hours: -1\n", "fetch.hours"},
		{"negative timeout", "fetch:\n  timeout: -5s\n", "fetch.timeout"},
		{"negative concurrency", "fetch:\n  concurrency: -2\n", "fetch.concurrency"},
		{"negative retries", "fetch:\n  retries: -1\n", "fetch.retries"},
		{"negative host interval", "fetch:\n  host_interval: -1s\n", "fetch.host_interval"},
		{"bad log format", "log:\n  format: xml\n", "log.format"},
		{"bad extra url", "sources:\n  extra:\n    - name: x\n      url: ftp://x.example/\n", "sources.extra"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeTestYAML(t, dir, DefaultConfigFile, tt.yaml)

			_, err := Load(dir)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

// --- env override tests ---

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeTestYAML(t, dir, DefaultConfigFile, `
fetch:
  hours: 48
  timeout: 5s
  concurrency: 4
log:
  format: text
`)
	t.Setenv("RSSDIGEST_HOURS", "6")
	t.Setenv("RSSDIGEST_TIMEOUT", "2s")
	t.Setenv("RSSDIGEST_CONCURRENCY", "20")
	t.Setenv("RSSDIGEST_HISTORY_PATH", "/tmp/rssdigest-history.db")
	t.Setenv("RSSDIGEST_LOG_FORMAT", "json")
	t.Setenv("RSSDIGEST_USER_AGENT", "env-agent")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Fetch.Hours != 6 {
		t.Errorf("hours = %d, want 6", cfg.Fetch.Hours)
	}
	if cfg.Fetch.Timeout.Duration != 2*time.Second {
		t.Errorf("timeout = %v, want 2s", cfg.Fetch.Timeout.Duration)
	}
	if cfg.Fetch.Concurrency != 20 {
		t.Errorf("concurrency = %d, want 20", cfg.Fetch.Concurrency)
	}
	if cfg.History.Path != "/tmp/rssdigest-history.db" {
		t.Errorf("history path = %q", cfg.History.Path)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("log format = %q", cfg.Log.Format)
	}
	if cfg.Fetch.UserAgent != "env-agent" {
		t.Errorf("user agent = %q", cfg.Fetch.UserAgent)
	}
}

func TestLoad_EnvZeroHours(t *testing.T) {
	t.Setenv("RSSDIGEST_HOURS", "0")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Fetch.Hours != 0 {
		t.Errorf("hours = %d, want 0 from env", cfg.Fetch.Hours)
	}
}

func TestLoad_EnvInvalid(t *testing.T) {
	t.Setenv("RSSDIGEST_CONCURRENCY", "lots")

	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for non-numeric env value")
	}
}

// --- derived values ---

func TestFeedSources_DefaultPlusExtra(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defaults := source.Default()
	cfg.Sources.Extra = []source.FeedSource{
		{Name: "dup", URL: defaults[0].URL},
		{Name: "new", URL: "https://new.example/rss"},
	}

	got, err := cfg.FeedSources()
	if err != nil {
		t.Fatalf("Sources: %v", err)
	}
	if len(got) != len(defaults)+1 {
		t.Errorf("sources = %d, want %d", len(got), len(defaults)+1)
	}
	if got[0].Name != defaults[0].Name {
		t.Errorf("first occurrence should win, got %q", got[0].Name)
	}
	if got[len(got)-1].Name != "new" {
		t.Errorf("extra should be appended, got %q", got[len(got)-1].Name)
	}
}

func TestFeedSources_FromFile(t *testing.T) {
	dir := t.TempDir()
	writeTestYAML(t, dir, "feeds.yaml", `
feeds:
  - name: One
    url: https://one.example/feed
  - name: Two
    url: https://two.example/atom
`)
	writeTestYAML(t, dir, DefaultConfigFile, "sources:\n  file: feeds.yaml\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, err := cfg.FeedSources()
	if err != nil {
		t.Fatalf("Sources: %v", err)
	}
	if len(got) != 2 || got[0].Name != "One" || got[1].Name != "Two" {
		t.Errorf("sources = %+v", got)
	}
}

func TestFeedSources_MissingFile(t *testing.T) {
	dir := t.TempDir()
	writeTestYAML(t, dir, DefaultConfigFile, "sources:\n  file: nope.yaml\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := cfg.FeedSources(); err == nil {
		t.Fatal("expected error for missing sources file")
	}
}

func TestFetchOptions(t *testing.T) {
	dir := t.TempDir()
	writeTestYAML(t, dir, DefaultConfigFile, `
fetch:
  timeout: 3s
  concurrency: 2
  retries: 1
  host_interval: 1s
`)
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	opts := cfg.FetchOptions()
	if opts.Timeout != 3*time.Second || opts.Concurrency != 2 || opts.Retries != 1 || opts.HostInterval != time.Second {
		t.Errorf("options = %+v", opts)
	}
	if opts.MaxBodyBytes != fetch.DefaultMaxBodyBytes {
		t.Errorf("max body = %d, want default", opts.MaxBodyBytes)
	}
}

// --- Duration tests ---

func TestDuration_UnmarshalYAML(t *testing.T) {
	dir := t.TempDir()
	writeTestYAML(t, dir, DefaultConfigFile, "fetch:\n  timeout: 1m30s\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Fetch.Timeout.Duration != 90*time.Second {
		t.Errorf("timeout = %v, want 1m30s", cfg.Fetch.Timeout.Duration)
	}
}
