package textutil

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// CleanText strips markup from free text supplied by shoppers (names, address lines,
// cancellation reasons), collapses whitespace and caps the result at max runes.
func CleanText(value string, max int) string {
	cleaned := html.UnescapeString(strict.Sanitize(value))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if max > 0 && utf8.RuneCountInString(cleaned) > max {
		runes := []rune(cleaned)
		cleaned = strings.TrimSpace(string(runes[:max]))
	}
	return cleaned
}
