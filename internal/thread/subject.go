package thread

import (
	"regexp"
	"strings"
)

// Matches one leading reply/forward marker, e.g. "re:", "RE[2]:", "fwd:",
// optionally preceded by a bracketed list tag like "[ext]".
var subjectMarkerPattern = regexp.MustCompile(`^(\[[^\]]*\]\s*)*(re|fw|fwd)(\[\d+\])?\s*:\s*`)

// NormalizeSubject reduces a raw subject line to a comparison key: lower-cased,
// with any leading run of reply/forward markers stripped and internal
// whitespace collapsed. Returns "" when nothing remains, in which case the
// subject carries no correlation signal at all.
//
// Subject equality is only a fallback signal. Header-based correlation wins
// whenever any reference is present; two messages sharing a normalized subject
// are not the same thread on that basis alone.
func NormalizeSubject(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))

	for {
		stripped := subjectMarkerPattern.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}

	return strings.Join(strings.Fields(s), " ")
}
