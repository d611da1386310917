package feed

import (
	"strings"
	"time"
)

// RSS dates are RFC 822 in theory and "close enough" in practice.
var rssLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"Mon, 02 Jan 2006 15:04 -0700",
	"Mon, 2 Jan 2006 15:04 MST",
	"02 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 MST",
	time.RFC822Z,
	time.RFC822,
}

// Atom dates are RFC 3339; a few generators drop the zone.
var atomLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// North American zone names defined by RFC 822. time.Parse gives unknown
// abbreviations a zero offset, so these are pinned explicitly.
var rfc822Zones = map[string]int{
	"EST": -5 * 3600,
	"EDT": -4 * 3600,
	"CST": -6 * 3600,
	"CDT": -5 * 3600,
	"MST": -7 * 3600,
	"MDT": -6 * 3600,
	"PST": -8 * 3600,
	"PDT": -7 * 3600,
}

func parseRSSDate(s string) (time.Time, bool) {
	ts, ok := parseLayouts(s, rssLayouts)
	if !ok {
		return ts, false
	}
	return fixRFC822Zone(ts), true
}

// fixRFC822Zone re-anchors a parsed wall clock on the RFC 822 offset of its
// zone abbreviation. Times in any other zone are returned unchanged.
func fixRFC822Zone(ts time.Time) time.Time {
	name, _ := ts.Zone()
	offset, ok := rfc822Zones[name]
	if !ok {
		return ts
	}
	return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second(),
		ts.Nanosecond(), time.FixedZone(name, offset))
}

func parseAtomDate(s string) (time.Time, bool) {
	return parseLayouts(s, atomLayouts)
}

func parseLayouts(s string, layouts []string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
