package feed

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

const maxDescriptionRunes = 500

var stripPolicy = func() *bluemonday.Policy {
	p := bluemonday.StrictPolicy()
	p.AddSpaceWhenStrippingTag(true)
	return p
}()

// stripHTML removes markup, decodes entities and collapses whitespace runs.
func stripHTML(s string) string {
	s = stripPolicy.Sanitize(s)
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

func cleanTitle(s string) string {
	return stripHTML(s)
}

func cleanDescription(s string) string {
	return truncateRunes(stripHTML(s), maxDescriptionRunes)
}

func truncateRunes(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return strings.TrimSpace(s[:i])
		}
		count++
	}
	return s
}
