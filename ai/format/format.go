// Package format synthesizes handler fragments into the final plain-text response.
package format

import (
	"regexp"
	"strings"
)

// FragmentSeparator joins response fragments.
const FragmentSeparator = "\n\n"

var (
	boldStars       = regexp.MustCompile(`\*\*([^*\n]+?)\*\*`)
	boldUnderscores = regexp.MustCompile(`__([^_\n]+?)__`)
	italicStars     = regexp.MustCompile(`\*([^*\s][^*\n]*?)\*`)
	italicUnder     = regexp.MustCompile(`(^|[^\p{L}\p{N}_])_([^_\s][^_\n]*?)_([^\p{L}\p{N}_]|$)`)
	manyNewlines    = regexp.MustCompile(`\n{3,}`)
	manySpaces      = regexp.MustCompile(` {2,}`)
)

// Synthesize joins fragments in order and normalizes the result.
func Synthesize(fragments []string) string {
	parts := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if strings.TrimSpace(f) != "" {
			parts = append(parts, f)
		}
	}
	return Normalize(strings.Join(parts, FragmentSeparator))
}

// Normalize removes emphasis markup and collapses whitespace runs. It repeats until a
// fixed point, so Normalize(Normalize(s)) == Normalize(s). Every rewrite only deletes
// characters, so each pass that changes the text shortens it and the loop ends.
func Normalize(s string) string {
	for {
		next := normalizeOnce(s)
		if next == s {
			return s
		}
		s = next
	}
}

func normalizeOnce(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = boldStars.ReplaceAllString(s, "$1")
	s = boldUnderscores.ReplaceAllString(s, "$1")
	s = italicStars.ReplaceAllString(s, "$1")
	s = italicUnder.ReplaceAllString(s, "$1$2$3")
	s = manySpaces.ReplaceAllString(s, " ")
	s = manyNewlines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
