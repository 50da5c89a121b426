package routing

import (
	"encoding/json"
	"strings"

	"github.com/hrygo/medisense/ai/workflow"
)

// ParseClassification extracts an intent label and an entity map from raw model output.
// The expected shape is a label line (optionally "Intent: <label>") followed by a JSON
// object (optionally prefixed with "Entities:"). It never fails: an unparseable entity
// block yields empty entities and degraded=true, and an empty label yields
// general_medical_query with degraded=true. Unknown labels are returned as-is.
func ParseClassification(raw string) (intent string, entities workflow.Entities, degraded bool) {
	entities = workflow.Entities{}

	lines := strings.Split(strings.ReplaceAll(stripFences(raw), "\r\n", "\n"), "\n")
	labelAt := -1
	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			labelAt = i
			break
		}
	}
	if labelAt < 0 {
		return IntentGeneralMedicalQuery, entities, true
	}

	intent = normalizeLabel(lines[labelAt])
	if intent == "" {
		degraded = true
		intent = IntentGeneralMedicalQuery
	}

	rest := strings.Join(lines[labelAt+1:], "\n")
	if i := strings.Index(lines[labelAt], "{"); i >= 0 {
		rest = lines[labelAt][i:] + "\n" + rest
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return intent, entities, degraded
	}
	rest = trimPrefixFold(rest, "entities:")
	start := strings.Index(rest, "{")
	end := strings.LastIndex(rest, "}")
	if start < 0 || end < start {
		return intent, entities, true
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(rest[start:end+1]), &parsed); err != nil {
		return intent, entities, true
	}
	for k, v := range parsed {
		entities[k] = v
	}
	return intent, entities, degraded
}

func normalizeLabel(line string) string {
	label := strings.TrimSpace(line)
	label = trimPrefixFold(label, "intent:")
	// A label line that already carries the JSON keeps only the label part.
	if i := strings.Index(label, "{"); i >= 0 {
		label = label[:i]
	}
	label = strings.Trim(label, " \t`'\".,:;*")
	label = strings.ToLower(label)
	label = strings.Join(strings.Fields(label), "_")
	return strings.ReplaceAll(label, "-", "_")
}

func trimPrefixFold(s, prefix string) string {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return strings.TrimSpace(s[len(prefix):])
	}
	return s
}

func stripFences(s string) string {
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
