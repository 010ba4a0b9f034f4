package utils

import (
	"strings"

	"golang.org/x/net/html"
)

const EmptyCardPlaceholder = "(Empty card)"

// StripHTML returns the text content of a field value with all markup removed
// and entities decoded.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or malformed input: return what was read so far.
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		}
	}
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n < 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// Preview renders a field value as short plain text. An empty result is
// replaced by EmptyCardPlaceholder.
func Preview(s string, n int) string {
	p := Truncate(strings.TrimSpace(StripHTML(s)), n)
	if p == "" {
		return EmptyCardPlaceholder
	}
	return p
}
