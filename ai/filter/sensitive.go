// Package filter masks personal identifiers in free text before it is logged or used
// as a conversation title.
package filter

import (
	"regexp"
	"sort"
	"sync/atomic"
)

// FilterType identifies one kind of identifier.
type FilterType int

const (
	// Phone matches North American and international phone numbers.
	Phone FilterType = iota
	// SSN matches US social security numbers.
	SSN
	// Email matches email addresses.
	Email
	// CardNumber matches payment card numbers, with or without separators.
	CardNumber
	// IP matches IPv4 addresses.
	IP
)

var patterns = map[FilterType]*regexp.Regexp{
	Phone:      regexp.MustCompile(`(?:\+\d{1,3}[\s.-]?)?\(?\b\d{3}\)?[\s.-]\d{3}[\s.-]\d{4}\b`),
	SSN:        regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	Email:      regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`),
	CardNumber: regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`),
	IP:         regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d\d?)\.){3}(?:25[0-5]|2[0-4]\d|1?\d\d?)\b`),
}

// FilterConfig configures the filter.
type FilterConfig struct {
	// Enabled filter types. Empty enables all.
	Enabled []FilterType

	// MaskChar is the character used for masking.
	MaskChar rune

	// KeepFirstN and KeepLastN characters stay readable.
	KeepFirstN int
	KeepLastN  int
}

// DefaultConfig returns default filter configuration.
func DefaultConfig() FilterConfig {
	return FilterConfig{
		Enabled:    []FilterType{Phone, SSN, Email, CardNumber, IP},
		MaskChar:   '*',
		KeepFirstN: 2,
		KeepLastN:  2,
	}
}

// Match is one identifier found in text.
type Match struct {
	Type  FilterType
	Start int
	End   int
}

// Filter is safe for concurrent use.
type Filter struct {
	config  FilterConfig
	types   []FilterType
	matches atomic.Int64
}

// NewFilter creates a filter for the configured types.
func NewFilter(cfg FilterConfig) *Filter {
	if len(cfg.Enabled) == 0 {
		cfg.Enabled = DefaultConfig().Enabled
	}
	if cfg.MaskChar == 0 {
		cfg.MaskChar = '*'
	}
	f := &Filter{config: cfg}
	for _, ft := range cfg.Enabled {
		if _, ok := patterns[ft]; ok {
			f.types = append(f.types, ft)
		}
	}
	// SSN before card and phone so the narrowest pattern claims overlapping digits.
	sort.Slice(f.types, func(i, j int) bool { return priority(f.types[i]) < priority(f.types[j]) })
	return f
}

var defaultFilter = NewFilter(DefaultConfig())

// DefaultFilter returns the shared filter with the default configuration.
func DefaultFilter() *Filter {
	return defaultFilter
}

func priority(ft FilterType) int {
	switch ft {
	case Email:
		return 0
	case SSN:
		return 1
	case IP:
		return 2
	case CardNumber:
		return 3
	default:
		return 4
	}
}

// FindMatches returns non-overlapping matches ordered by position.
func (f *Filter) FindMatches(text string) []Match {
	var found []Match
	for _, ft := range f.types {
		for _, loc := range patterns[ft].FindAllStringIndex(text, -1) {
			if overlaps(found, loc[0], loc[1]) {
				continue
			}
			found = append(found, Match{Type: ft, Start: loc[0], End: loc[1]})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Start < found[j].Start })
	return found
}

func overlaps(found []Match, start, end int) bool {
	for _, m := range found {
		if start < m.End && m.Start < end {
			return true
		}
	}
	return false
}

// FilterText masks every match in text.
func (f *Filter) FilterText(text string) string {
	matches := f.FindMatches(text)
	if len(matches) == 0 {
		return text
	}
	f.matches.Add(int64(len(matches)))

	out := make([]byte, 0, len(text))
	last := 0
	for _, m := range matches {
		out = append(out, text[last:m.Start]...)
		out = append(out, f.mask(text[m.Start:m.End], m.Type)...)
		last = m.End
	}
	out = append(out, text[last:]...)
	return string(out)
}

// ContainsSensitive reports whether text has any match.
func (f *Filter) ContainsSensitive(text string) bool {
	return len(f.FindMatches(text)) > 0
}

// TotalMatches is the number of identifiers masked so far.
func (f *Filter) TotalMatches() int64 {
	return f.matches.Load()
}

func (f *Filter) mask(s string, ft FilterType) string {
	if ft == Email {
		return maskEmail(s, f.config.KeepFirstN, f.config.MaskChar)
	}
	runes := []rune(s)
	keepFirst, keepLast := f.config.KeepFirstN, f.config.KeepLastN
	if len(runes) <= keepFirst+keepLast {
		keepFirst, keepLast = 0, 0
	}
	for i := keepFirst; i < len(runes)-keepLast; i++ {
		if runes[i] >= '0' && runes[i] <= '9' {
			runes[i] = f.config.MaskChar
		}
	}
	return string(runes)
}

// maskEmail keeps the first characters of the user part and the top-level domain.
func maskEmail(email string, keepFirst int, maskChar rune) string {
	runes := []rune(email)
	at, dot := -1, -1
	for i, r := range runes {
		switch r {
		case '@':
			if at == -1 {
				at = i
			}
		case '.':
			if at != -1 {
				dot = i
			}
		}
	}
	for i := range runes {
		switch {
		case i < at && i >= keepFirst:
			runes[i] = maskChar
		case i > at && i < dot:
			runes[i] = maskChar
		}
	}
	return string(runes)
}
