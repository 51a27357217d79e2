package textutil

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// SanitizePlainText strips all markup from free-form user input, collapses surrounding whitespace
// and truncates to maxRunes runes when maxRunes > 0. Tamil text passes through unchanged.
func SanitizePlainText(value string, maxRunes int) string {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return ""
	}
	cleaned = html.UnescapeString(strictPolicy.Sanitize(cleaned))
	cleaned = strings.TrimSpace(cleaned)
	if maxRunes > 0 && utf8.RuneCountInString(cleaned) > maxRunes {
		runes := []rune(cleaned)
		cleaned = strings.TrimSpace(string(runes[:maxRunes]))
	}
	return cleaned
}
