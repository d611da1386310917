package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/rssdigest/internal/fetch"
	"github.com/ppiankov/rssdigest/internal/logger"
	"github.com/ppiankov/rssdigest/internal/source"
)

const (
	DefaultConfigFile = "config.yaml"
	DefaultHours      = 24
	DefaultRetainDays = 90
	DefaultLogFormat  = logger.FormatText
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "15s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	Fetch   FetchConfig   `yaml:"fetch"`
	Sources SourcesConfig `yaml:"sources"`
	History HistoryConfig `yaml:"history"`
	Log     LogConfig     `yaml:"log"`
}

type FetchConfig struct {
	Hours        int      `yaml:"hours"`
	Timeout      Duration `yaml:"timeout"`
	Concurrency  int      `yaml:"concurrency"`
	Retries      *int     `yaml:"retries"`
	UserAgent    string   `yaml:"user_agent"`
	HostInterval Duration `yaml:"host_interval"`
}

type SourcesConfig struct {
	// File replaces the built-in list when set. Relative paths resolve
	// against the config dir.
	File  string              `yaml:"file"`
	Extra []source.FeedSource `yaml:"extra"`
}

// HistoryConfig enables the run ledger when Path is set.
type HistoryConfig struct {
	Path       string `yaml:"path"`
	RetainDays int    `yaml:"retain_days"`
}

type LogConfig struct {
	Format string `yaml:"format"`
}

// envOverrides are read from RSSDIGEST_* variables. Unset variables leave
// the pointer nil so file values survive.
type envOverrides struct {
	Hours       *int           `env:"RSSDIGEST_HOURS, noinit"`
	Timeout     *time.Duration `env:"RSSDIGEST_TIMEOUT, noinit"`
	Concurrency *int           `env:"RSSDIGEST_CONCURRENCY, noinit"`
	HistoryPath *string        `env:"RSSDIGEST_HISTORY_PATH, noinit"`
	LogFormat   *string        `env:"RSSDIGEST_LOG_FORMAT, noinit"`
	UserAgent   *string        `env:"RSSDIGEST_USER_AGENT, noinit"`
}

// Load reads config.yaml from dir, applies defaults, environment overrides,
// and validates. A missing file is not an error.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	var cfg Config
	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyDefaults(&cfg)
	if err := resolveEnv(&cfg); err != nil {
		return nil, err
	}
	if cfg.Sources.File != "" && !filepath.IsAbs(cfg.Sources.File) {
		cfg.Sources.File = filepath.Join(dir, cfg.Sources.File)
	}
	if cfg.History.Path != "" && !filepath.IsAbs(cfg.History.Path) {
		cfg.History.Path = filepath.Join(dir, cfg.History.Path)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Fetch.Hours == 0 {
		cfg.Fetch.Hours = DefaultHours
	}
	if cfg.Fetch.Timeout.Duration == 0 {
		cfg.Fetch.Timeout.Duration = fetch.DefaultTimeout
	}
	if cfg.Fetch.Concurrency == 0 {
		cfg.Fetch.Concurrency = fetch.DefaultConcurrency
	}
	if cfg.Fetch.Retries == nil {
		n := fetch.DefaultRetries
		cfg.Fetch.Retries = &n
	}
	if cfg.Fetch.UserAgent == "" {
		cfg.Fetch.UserAgent = fetch.DefaultUserAgent
	}
	if cfg.History.RetainDays == 0 {
		cfg.History.RetainDays = DefaultRetainDays
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

func resolveEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(context.Background(), &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	if env.Hours != nil {
		cfg.Fetch.Hours = *env.Hours
	}
	if env.Timeout != nil {
		cfg.Fetch.Timeout.Duration = *env.Timeout
	}
	if env.Concurrency != nil {
		cfg.Fetch.Concurrency = *env.Concurrency
	}
	if env.HistoryPath != nil {
		cfg.History.Path = *env.HistoryPath
	}
	if env.LogFormat != nil {
		cfg.Log.Format = *env.LogFormat
	}
	if env.UserAgent != nil {
		cfg.Fetch.UserAgent = *env.UserAgent
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Fetch.Hours < 0 {
		return fmt.Errorf("fetch.hours: must be >= 0, got %d", cfg.Fetch.Hours)
	}
	if cfg.Fetch.Timeout.Duration <= 0 {
		return fmt.Errorf("fetch.timeout: must be positive, got %s", cfg.Fetch.Timeout.Duration)
	}
	if cfg.Fetch.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency: must be positive, got %d", cfg.Fetch.Concurrency)
	}
	if *cfg.Fetch.Retries < 0 {
		return fmt.Errorf("fetch.retries: must be >= 0, got %d", *cfg.Fetch.Retries)
	}
	if cfg.Fetch.HostInterval.Duration < 0 {
		return fmt.Errorf("fetch.host_interval: must be >= 0, got %s", cfg.Fetch.HostInterval.Duration)
	}
	if err := source.Validate(cfg.Sources.Extra); err != nil {
		return fmt.Errorf("sources.extra: %w", err)
	}

	switch strings.ToLower(cfg.Log.Format) {
	case logger.FormatText, logger.FormatJSON:
		// valid
	default:
		return fmt.Errorf("log.format: unknown format %q (want text or json)", cfg.Log.Format)
	}

	return nil
}

// FeedSources returns the effective feed list: the file list (or the built-in
// defaults) followed by the extra entries, deduplicated by URL.
func (c *Config) FeedSources() ([]source.FeedSource, error) {
	base := source.Default()
	if c.Sources.File != "" {
		loaded, err := source.Load(c.Sources.File)
		if err != nil {
			return nil, err
		}
		base = loaded
	}
	return source.Merge(base, c.Sources.Extra), nil
}

// FetchOptions maps the fetch section onto fetcher options.
func (c *Config) FetchOptions() fetch.Options {
	opts := fetch.DefaultOptions()
	opts.Timeout = c.Fetch.Timeout.Duration
	opts.Concurrency = c.Fetch.Concurrency
	if c.Fetch.Retries != nil {
		opts.Retries = *c.Fetch.Retries
	}
	opts.UserAgent = c.Fetch.UserAgent
	opts.HostInterval = c.Fetch.HostInterval.Duration
	return opts
}
