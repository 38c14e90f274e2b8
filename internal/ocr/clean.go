package ocr

import (
	"regexp"
	"strings"
)

var (
	unsafeChars  = regexp.MustCompile(`[^\x20-\x7E\n\t]`)
	strayPipes   = regexp.MustCompile(`[ \t]*\|+[ \t]*`)
	manyNewlines = regexp.MustCompile(`\n{3,}`)
	inlineSpace  = regexp.MustCompile(`[ \t]+`)
)

// Clean normalizes merged recognizer output. Clean(Clean(s)) == Clean(s).
func Clean(text string) string {
	text = unsafeChars.ReplaceAllString(text, "")
	text = strayPipes.ReplaceAllString(text, " ")
	text = manyNewlines.ReplaceAllString(text, "\n\n")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(inlineSpace.ReplaceAllString(line, " "))
		if len(out) > 0 && out[len(out)-1] == line {
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// Merge joins per-image texts with blank lines and cleans the result once.
func Merge(texts []string) string {
	parts := make([]string, 0, len(texts))
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}
	return Clean(strings.Join(parts, "\n\n"))
}
