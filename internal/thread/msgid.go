package thread

import "strings"

// NormalizeMessageID canonicalizes an RFC 2822 Message-ID-like token so that
// header values from different mail clients compare reliably: surrounding
// whitespace is trimmed and the token is wrapped in a single pair of angle
// brackets. Returns "" for empty or absent input. Idempotent.
func NormalizeMessageID(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	// Strip however many angle brackets the client wrapped (or half-wrapped)
	// the token in, then re-wrap exactly once.
	s = strings.TrimSpace(strings.Trim(s, "<>"))
	if s == "" {
		return ""
	}

	return "<" + s + ">"
}

// NormalizeMessageIDs normalizes every token, dropping entries that are empty
// after normalization and de-duplicating while preserving first-seen order.
func NormalizeMessageIDs(raws []string) []string {
	if len(raws) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(raws))
	out := make([]string, 0, len(raws))
	for _, raw := range raws {
		id := NormalizeMessageID(raw)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}

	if len(out) == 0 {
		return nil
	}
	return out
}
