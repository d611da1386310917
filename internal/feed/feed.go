// Package feed turns raw RSS 2.0 / RSS 1.0 / Atom documents into a uniform
// item list.
package feed

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/atom"
	"github.com/mmcdole/gofeed/rss"
)

// Format is the syndication dialect of a document.
type Format string

const (
	FormatUnknown Format = "unknown"
	FormatRSS     Format = "rss"
	FormatAtom    Format = "atom"
)

// ErrUnsupportedFormat is returned when a document is neither RSS nor Atom.
var ErrUnsupportedFormat = errors.New("unsupported feed format")

// Item is one syndication entry, independent of the source dialect.
type Item struct {
	Title       string
	Link        string
	Published   time.Time // zero when the date could not be parsed
	Description string
}

type parseFunc func(data []byte) ([]Item, error)

var parsers = map[Format]parseFunc{
	FormatRSS:  parseRSS,
	FormatAtom: parseAtom,
}

// Detect sniffs the root element of data.
func Detect(data []byte) Format {
	switch gofeed.DetectFeedType(bytes.NewReader(data)) {
	case gofeed.FeedTypeRSS:
		return FormatRSS
	case gofeed.FeedTypeAtom:
		return FormatAtom
	default:
		return FormatUnknown
	}
}

// Parse detects the dialect of data and extracts its items in document order.
func Parse(data []byte) (Format, []Item, error) {
	format := Detect(data)
	parse, ok := parsers[format]
	if !ok {
		return format, nil, ErrUnsupportedFormat
	}
	items, err := parse(data)
	if err != nil {
		return format, nil, fmt.Errorf("parse %s: %w", format, err)
	}
	return format, items, nil
}

func parseRSS(data []byte) ([]Item, error) {
	fp := &rss.Parser{}
	doc, err := fp.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(doc.Items))
	for _, it := range doc.Items {
		desc := it.Description
		if desc == "" {
			desc = it.Content
		}
		items = append(items, Item{
			Title:       cleanTitle(it.Title),
			Link:        rssLink(it),
			Published:   rssPublished(it),
			Description: cleanDescription(desc),
		})
	}
	return items, nil
}

func rssLink(it *rss.Item) string {
	if it.Link != "" {
		return it.Link
	}
	if it.GUID != nil && it.GUID.IsPermalink != "false" {
		return it.GUID.Value
	}
	return ""
}

func rssPublished(it *rss.Item) time.Time {
	if ts, ok := parseRSSDate(it.PubDate); ok {
		return ts
	}
	if it.PubDateParsed != nil {
		return fixRFC822Zone(*it.PubDateParsed)
	}
	if it.DublinCoreExt != nil {
		for _, d := range it.DublinCoreExt.Date {
			if ts, ok := parseAtomDate(d); ok {
				return ts
			}
		}
	}
	return time.Time{}
}

func parseAtom(data []byte) ([]Item, error) {
	fp := &atom.Parser{}
	doc, err := fp.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		desc := e.Summary
		if desc == "" && e.Content != nil {
			desc = e.Content.Value
		}
		items = append(items, Item{
			Title:       cleanTitle(e.Title),
			Link:        atomLink(e.Links),
			Published:   atomPublished(e),
			Description: cleanDescription(desc),
		})
	}
	return items, nil
}

// atomLink prefers rel="alternate", then a link without rel, then whatever
// comes first.
func atomLink(links []*atom.Link) string {
	var bare, first string
	for _, l := range links {
		if l == nil || l.Href == "" {
			continue
		}
		if first == "" {
			first = l.Href
		}
		switch l.Rel {
		case "alternate":
			return l.Href
		case "":
			if bare == "" {
				bare = l.Href
			}
		}
	}
	if bare != "" {
		return bare
	}
	return first
}

func atomPublished(e *atom.Entry) time.Time {
	if ts, ok := parseAtomDate(e.Published); ok {
		return ts
	}
	if ts, ok := parseAtomDate(e.Updated); ok {
		return ts
	}
	if e.PublishedParsed != nil {
		return *e.PublishedParsed
	}
	if e.UpdatedParsed != nil {
		return *e.UpdatedParsed
	}
	return time.Time{}
}
