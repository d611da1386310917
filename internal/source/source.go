// Package source holds the list of RSS/Atom endpoints a run fetches.
package source

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed feeds.yaml
var defaultFeedsYAML []byte

// FeedSource is a named RSS/Atom endpoint.
type FeedSource struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

type feedList struct {
	Feeds []FeedSource `yaml:"feeds"`
}

// Default returns the compiled-in feed list. Each call decodes a fresh copy.
func Default() []FeedSource {
	feeds, err := decode(defaultFeedsYAML)
	if err != nil {
		// feeds.yaml ships with the binary; a decode failure is a build defect.
		panic(fmt.Sprintf("source: embedded feeds.yaml: %v", err))
	}
	return feeds
}

// Load reads a feed list from a YAML file with the same shape as the
// embedded default.
func Load(path string) ([]FeedSource, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("feed list path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feed list: %w", err)
	}
	feeds, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return feeds, nil
}

func decode(data []byte) ([]FeedSource, error) {
	var list feedList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse feed list: %w", err)
	}
	if err := Validate(list.Feeds); err != nil {
		return nil, err
	}
	return list.Feeds, nil
}

// Validate checks that every entry has a name and an absolute http(s) URL.
func Validate(feeds []FeedSource) error {
	for i, f := range feeds {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("feeds[%d]: name is required", i)
		}
		u, err := url.Parse(f.URL)
		if err != nil {
			return fmt.Errorf("feeds[%d] %s: %w", i, f.Name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("feeds[%d] %s: url must be http or https, got %q", i, f.Name, f.URL)
		}
		if u.Host == "" {
			return fmt.Errorf("feeds[%d] %s: url has no host", i, f.Name)
		}
	}
	return nil
}

// Merge concatenates lists and drops repeated URLs. The first occurrence wins.
func Merge(lists ...[]FeedSource) []FeedSource {
	seen := make(map[string]bool)
	var out []FeedSource
	for _, list := range lists {
		for _, f := range list {
			key := Key(f.URL)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, f)
		}
	}
	return out
}

// Key is the identity Merge deduplicates on: the URL without surrounding
// space or trailing slashes.
func Key(rawURL string) string {
	return strings.TrimRight(strings.TrimSpace(rawURL), "/")
}
