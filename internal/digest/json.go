// Package digest serializes a fetch result into the JSON document consumed by
// downstream tooling.
package digest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/rssdigest/internal/fetch"
)

// TimeLayout is ISO-8601 in UTC with millisecond precision.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Stdout is the output path that means "write to standard output".
const Stdout = "-"

// Document is the full output of one run.
type Document struct {
	Metadata Metadata
	Articles []Article
}

// Metadata summarizes a run.
type Metadata struct {
	TotalFeeds       int
	SuccessfulFeeds  int
	TotalArticles    int
	FilteredArticles int
	TimeRangeHours   int
	FetchedAt        time.Time
}

// Article is one item inside the window.
type Article struct {
	Title       string
	Link        string
	PubDate     time.Time
	Description string
	SourceName  string
	SourceURL   string
}

type jsonDocument struct {
	Metadata jsonMetadata  `json:"metadata"`
	Articles []jsonArticle `json:"articles"`
}

type jsonMetadata struct {
	TotalFeeds       int    `json:"totalFeeds"`
	SuccessfulFeeds  int    `json:"successfulFeeds"`
	TotalArticles    int    `json:"totalArticles"`
	FilteredArticles int    `json:"filteredArticles"`
	TimeRangeHours   int    `json:"timeRangeHours"`
	FetchedAt        string `json:"fetchedAt"`
}

type jsonArticle struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	PubDate     string `json:"pubDate"`
	Description string `json:"description"`
	SourceName  string `json:"sourceName"`
	SourceURL   string `json:"sourceUrl"`
}

// Build converts a fetch result into a Document.
func Build(res *fetch.Result) Document {
	doc := Document{
		Metadata: Metadata{
			TotalFeeds:       res.TotalFeeds,
			SuccessfulFeeds:  res.SuccessfulFeeds,
			TotalArticles:    res.TotalArticles,
			FilteredArticles: res.FilteredArticles,
			TimeRangeHours:   res.Hours,
			FetchedAt:        res.FetchedAt,
		},
		Articles: make([]Article, 0, len(res.Articles)),
	}
	for _, a := range res.Articles {
		doc.Articles = append(doc.Articles, Article{
			Title:       a.Title,
			Link:        a.Link,
			PubDate:     a.Published,
			Description: a.Description,
			SourceName:  a.SourceName,
			SourceURL:   a.SourceURL,
		})
	}
	return doc
}

// Encode writes doc as indented JSON to w.
func Encode(w io.Writer, doc Document) error {
	out := jsonDocument{
		Metadata: jsonMetadata{
			TotalFeeds:       doc.Metadata.TotalFeeds,
			SuccessfulFeeds:  doc.Metadata.SuccessfulFeeds,
			TotalArticles:    doc.Metadata.TotalArticles,
			FilteredArticles: doc.Metadata.FilteredArticles,
			TimeRangeHours:   doc.Metadata.TimeRangeHours,
			FetchedAt:        formatTime(doc.Metadata.FetchedAt),
		},
		Articles: make([]jsonArticle, 0, len(doc.Articles)),
	}
	for _, a := range doc.Articles {
		out.Articles = append(out.Articles, jsonArticle{
			Title:       a.Title,
			Link:        a.Link,
			PubDate:     formatTime(a.PubDate),
			Description: a.Description,
			SourceName:  a.SourceName,
			SourceURL:   a.SourceURL,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(out)
}

// Decode reads a document previously written by Encode.
func Decode(r io.Reader) (Document, error) {
	var in jsonDocument
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return Document{}, fmt.Errorf("decode digest: %w", err)
	}

	fetchedAt, err := parseTime(in.Metadata.FetchedAt)
	if err != nil {
		return Document{}, fmt.Errorf("metadata.fetchedAt: %w", err)
	}

	doc := Document{
		Metadata: Metadata{
			TotalFeeds:       in.Metadata.TotalFeeds,
			SuccessfulFeeds:  in.Metadata.SuccessfulFeeds,
			TotalArticles:    in.Metadata.TotalArticles,
			FilteredArticles: in.Metadata.FilteredArticles,
			TimeRangeHours:   in.Metadata.TimeRangeHours,
			FetchedAt:        fetchedAt,
		},
		Articles: make([]Article, 0, len(in.Articles)),
	}
	for i, a := range in.Articles {
		pub, err := parseTime(a.PubDate)
		if err != nil {
			return Document{}, fmt.Errorf("articles[%d].pubDate: %w", i, err)
		}
		doc.Articles = append(doc.Articles, Article{
			Title:       a.Title,
			Link:        a.Link,
			PubDate:     pub,
			Description: a.Description,
			SourceName:  a.SourceName,
			SourceURL:   a.SourceURL,
		})
	}
	return doc, nil
}

// WriteFile writes doc to path, or to stdout when path is "-". The file is
// written to a temporary sibling and renamed into place, so a failure never
// leaves a partial document behind.
func WriteFile(path string, doc Document) (err error) {
	if path == Stdout {
		return Encode(os.Stdout, doc)
	}
	if path == "" {
		return errors.New("output path is required")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = Encode(tmp, doc); err != nil {
		return fmt.Errorf("encode digest: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync output: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod output: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
