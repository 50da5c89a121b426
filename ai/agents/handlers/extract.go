package handlers

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/hrygo/medisense/ai/workflow"
)

const extractedMarker = "extracted data:"

// splitExtracted separates the "Extracted Data:" JSON block from a model answer. The
// returned analysis is the answer with the block removed. data is nil when no block is
// present or it does not parse.
func splitExtracted(text string) (analysis string, data map[string]any) {
	idx := strings.Index(strings.ToLower(text), extractedMarker)
	if idx < 0 {
		return strings.TrimSpace(text), nil
	}
	before := text[:idx]
	after := text[idx+len(extractedMarker):]

	start := strings.Index(after, "{")
	if start < 0 {
		return strings.TrimSpace(before + after), nil
	}
	end := matchingBrace(after, start)
	if end < 0 {
		return strings.TrimSpace(before), nil
	}
	remainder := after[end+1:]
	analysis = strings.TrimSpace(strings.TrimSpace(before) + "\n\n" + strings.TrimSpace(stripFenceMarks(remainder)))

	if err := json.Unmarshal([]byte(after[start:end+1]), &data); err != nil {
		return analysis, nil
	}
	return analysis, data
}

// matchingBrace returns the index of the brace closing the one at open, or -1.
func matchingBrace(s string, open int) int {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func stripFenceMarks(s string) string {
	return strings.TrimLeft(strings.TrimSpace(s), "`")
}

// recordsFrom converts an extracted list into records. Plain strings become
// {"name": s}; maps without a non-empty key field are dropped.
func recordsFrom(v any, key string) []workflow.Record {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []workflow.Record
	for _, item := range items {
		switch it := item.(type) {
		case string:
			if s := strings.TrimSpace(it); s != "" && key == "name" {
				out = append(out, workflow.Record{"name": s})
			}
		case map[string]any:
			if s, ok := it[key].(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, workflow.Record(it))
			}
		}
	}
	return out
}

var medicationStopWords = map[string]bool{
	"what": true, "when": true, "which": true, "where": true, "should": true, "could": true,
	"would": true, "does": true, "can't": true, "cannot": true, "tell": true, "please": true,
	"about": true, "have": true, "this": true, "that": true, "with": true, "take": true,
	"taking": true, "doctor": true, "medication": true, "medicine": true, "hello": true,
	"thanks": true, "morning": true, "evening": true, "monday": true, "tuesday": true,
	"wednesday": true, "thursday": true, "friday": true, "saturday": true, "sunday": true,
}

// guessMedication returns the first capitalized token longer than three letters that is
// not a common sentence word.
func guessMedication(text string) string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '\''
	})
	for _, f := range fields {
		r := []rune(f)
		if len(r) <= 3 || !unicode.IsUpper(r[0]) {
			continue
		}
		if medicationStopWords[strings.ToLower(f)] {
			continue
		}
		return f
	}
	return ""
}
