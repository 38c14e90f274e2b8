// Package asin normalizes raw queue entries into canonical product identifiers.
package asin

import (
	"regexp"
	"strings"
)

// Length is the fixed size of a canonical identifier.
const Length = 10

// Ordered from most to least specific; the bare token pattern must stay last.
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/dp/([A-Z0-9]{10})`),
	regexp.MustCompile(`(?i)/gp/product/([A-Z0-9]{10})`),
	regexp.MustCompile(`(?i)[?&]asin=([A-Z0-9]{10})`),
	regexp.MustCompile(`(?i)([A-Z0-9]{10})`),
}

// Extract returns the uppercase identifier found in raw, or "" when nothing matches.
// Raw may be a bare code or any product URL form.
func Extract(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	for _, re := range patterns {
		if m := re.FindStringSubmatch(raw); len(m) > 1 {
			return strings.ToUpper(m[1])
		}
	}
	return ""
}

// ExtractAll maps every raw entry through Extract and drops entries that yield nothing.
// Order is preserved and duplicates are kept; each entry is one work item.
func ExtractAll(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, entry := range raw {
		if id := Extract(entry); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Valid reports whether s is already a canonical identifier.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
