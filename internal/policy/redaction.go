// Package policy holds the rules applied to user text before it reaches
// logs.
package policy

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern  = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern   = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	secretPattern = regexp.MustCompile(`\b(?:sk|pk|rk|AIza)[-_A-Za-z0-9]{16,}\b`)
)

// RedactPII masks common high-risk PII and credential patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	// Order matters: cards before phones, or card numbers read as phones.
	for _, rule := range []struct {
		re   *regexp.Regexp
		mask string
	}{
		{secretPattern, "[REDACTED_SECRET]"},
		{emailPattern, "[REDACTED_EMAIL]"},
		{cardPattern, "[REDACTED_CARD]"},
		{phonePattern, "[REDACTED_PHONE]"},
	} {
		next := rule.re.ReplaceAllString(out, rule.mask)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// LogExcerpt redacts input and shortens it to at most maxRunes runes for
// debug logging.
func LogExcerpt(input string, maxRunes int) string {
	out, _ := RedactPII(strings.Join(strings.Fields(input), " "))
	if maxRunes <= 0 || utf8.RuneCountInString(out) <= maxRunes {
		return out
	}
	return string([]rune(out)[:maxRunes]) + "…"
}
