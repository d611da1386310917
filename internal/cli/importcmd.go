package cli

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/rssdigest/internal/config"
	"github.com/ppiankov/rssdigest/internal/source"
)

var importDryRun bool

var importCmd = &cobra.Command{
	Use:   "import <file.opml>",
	Short: "Add feeds from an OPML file to sources.extra",
	Args:  cobra.ExactArgs(1),
	RunE:  importAction,
}

func init() {
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "show what would be added without modifying config")
	rootCmd.AddCommand(importCmd)
}

type opml struct {
	Body opmlBody `xml:"body"`
}

type opmlBody struct {
	Outlines []opmlOutline `xml:"outline"`
}

type opmlOutline struct {
	XMLURL   string        `xml:"xmlUrl,attr"`
	Text     string        `xml:"text,attr"`
	Title    string        `xml:"title,attr"`
	Outlines []opmlOutline `xml:"outline"`
}

func importAction(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read OPML: %w", err)
	}

	var doc opml
	if err := xml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse OPML: %w", err)
	}

	found := extractFeeds(doc.Body.Outlines)
	if len(found) == 0 {
		fmt.Fprintln(out, "No feed URLs found in OPML file.")
		return nil
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	current, err := cfg.FeedSources()
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}

	existing := make(map[string]bool, len(current))
	for _, f := range current {
		existing[source.Key(f.URL)] = true
	}

	var newFeeds []source.FeedSource
	skipped := 0
	for _, f := range found {
		key := source.Key(f.URL)
		if existing[key] {
			skipped++
			continue
		}
		existing[key] = true
		newFeeds = append(newFeeds, f)
	}

	if len(newFeeds) == 0 {
		fmt.Fprintf(out, "All %d feeds already present, nothing to add.\n", skipped)
		return nil
	}

	if importDryRun {
		fmt.Fprintf(out, "Would add %d feeds (skipping %d duplicates):\n", len(newFeeds), skipped)
		for _, f := range newFeeds {
			fmt.Fprintf(out, "  + %s %s\n", f.Name, f.URL)
		}
		return nil
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	configPath := filepath.Join(configDir, config.DefaultConfigFile)
	if err := mergeFeeds(configPath, newFeeds); err != nil {
		return fmt.Errorf("merge feeds: %w", err)
	}

	fmt.Fprintf(out, "Added %d feeds, skipped %d duplicates.\n", len(newFeeds), skipped)
	return nil
}

// extractFeeds walks outlines depth-first and keeps http(s) feed URLs. The
// name falls back from text to title to the URL host.
func extractFeeds(outlines []opmlOutline) []source.FeedSource {
	var feeds []source.FeedSource
	for _, o := range outlines {
		u := strings.TrimSpace(o.XMLURL)
		if u != "" && (strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")) {
			feeds = append(feeds, source.FeedSource{Name: outlineName(o, u), URL: u})
		}
		// Recurse into nested outlines (folders)
		feeds = append(feeds, extractFeeds(o.Outlines)...)
	}
	return feeds
}

func outlineName(o opmlOutline, u string) string {
	if name := strings.TrimSpace(o.Text); name != "" {
		return name
	}
	if name := strings.TrimSpace(o.Title); name != "" {
		return name
	}
	host := strings.TrimPrefix(strings.TrimPrefix(u, "https://"), "http://")
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	return host
}

// mergeFeeds appends newFeeds to sources.extra in config.yaml, editing the
// yaml.Node tree so comments and key order survive. A missing file or
// missing keys are created.
func mergeFeeds(configPath string, newFeeds []source.FeedSource) error {
	var doc yaml.Node
	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse config YAML: %w", err)
		}
	}

	extra, err := findExtraNode(&doc)
	if err != nil {
		return err
	}

	for _, f := range newFeeds {
		extra.Content = append(extra.Content, &yaml.Node{
			Kind: yaml.MappingNode,
			Tag:  "!!map",
			Content: []*yaml.Node{
				scalar("name"), quoted(f.Name),
				scalar("url"), quoted(f.URL),
			},
		})
	}
	// An empty "extra: []" would otherwise stay in flow style.
	extra.Style = 0

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(configPath, out, 0o644)
}

// findExtraNode returns the sequence node at sources.extra, creating the
// document, sources mapping and extra sequence as needed.
func findExtraNode(doc *yaml.Node) (*yaml.Node, error) {
	if doc.Kind == 0 {
		doc.Kind = yaml.DocumentNode
	}
	if doc.Kind != yaml.DocumentNode {
		return nil, errors.New("config.yaml is not a YAML document")
	}
	if len(doc.Content) == 0 {
		doc.Content = append(doc.Content, &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"})
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.New("config.yaml: top level must be a mapping")
	}

	sources := ensureMapValue(root, "sources", yaml.MappingNode)
	if sources.Kind != yaml.MappingNode {
		return nil, errors.New("config.yaml: sources must be a mapping")
	}
	extra := ensureMapValue(sources, "extra", yaml.SequenceNode)
	if extra.Kind != yaml.SequenceNode {
		return nil, errors.New("config.yaml: sources.extra must be a list")
	}
	return extra, nil
}

// ensureMapValue returns the value under key, adding an empty node of kind
// when the key is absent or null.
func ensureMapValue(mapping *yaml.Node, key string, kind yaml.Kind) *yaml.Node {
	if v := findMapValue(mapping, key); v != nil {
		if v.Kind == yaml.ScalarNode && v.Tag == "!!null" {
			v.Kind, v.Tag, v.Value = kind, "", ""
		}
		return v
	}
	v := &yaml.Node{Kind: kind}
	mapping.Content = append(mapping.Content, scalar(key), v)
	return v
}

func findMapValue(mapping *yaml.Node, key string) *yaml.Node {
	if mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func scalar(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func quoted(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v, Style: yaml.DoubleQuotedStyle}
}
