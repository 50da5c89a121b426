// Package strutil provides string helpers shared by the server and the engine.
package strutil

import "strings"

// Truncate truncates a string to maxLen runes, appending "..." when cut.
// Returns empty string if maxLen <= 0.
func Truncate(s string, maxLen int) string {
	if s == "" || maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// Squash collapses runs of whitespace into single spaces and trims the ends.
func Squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
