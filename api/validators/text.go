package validators

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// CleanText trims s, drops control characters and cuts it to at most maxLen
// bytes without splitting a rune. maxLen <= 0 means no limit.
func CleanText(s string, maxLen int) string {
	s = strings.Map(func(r rune) rune {
		if r == utf8.RuneError || (unicode.IsControl(r) && r != '\t' && r != '\n') {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimSpace(s[:cut])
}
