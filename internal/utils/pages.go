package utils

import "strings"

// Paginate packs lines into pages of at most maxChars characters and maxLines
// lines. A single line longer than maxChars is cut to fit.
func Paginate(lines []string, maxChars, maxLines int) []string {
	var pages []string
	var current []string
	size := 0

	flush := func() {
		if len(current) > 0 {
			pages = append(pages, strings.Join(current, "\n"))
		}
		current = nil
		size = 0
	}

	for _, line := range lines {
		if len(line) > maxChars {
			line = Truncate(line, maxChars)
		}
		extra := len(line)
		if len(current) > 0 {
			extra++
		}
		if len(current) >= maxLines || size+extra > maxChars {
			flush()
			extra = len(line)
		}
		current = append(current, line)
		size += extra
	}
	flush()
	return pages
}

// Truncate shortens s to at most limit bytes without splitting a rune.
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := 0
	for i := range s {
		if i > limit {
			break
		}
		cut = i
	}
	return s[:cut]
}
