package store

// Metadata key constants for Message.Metadata. All but MetadataKeyContainsIdentifiers
// are set on assistant messages.
const (
	// MetadataKeyIntent stores the classified intent.
	MetadataKeyIntent = "intent"

	// MetadataKeyPath stores the executed graph nodes.
	// Values: []string{"classify", "attachContext", "symptomAgent", "dataLogger", "responseSynthesizer"}
	MetadataKeyPath = "path"

	// MetadataKeyHandler stores the handler that answered.
	MetadataKeyHandler = "handler"

	// MetadataKeyRunID stores the engine run id.
	MetadataKeyRunID = "run_id"

	// MetadataKeyClassificationSource stores how the intent was resolved.
	// Values: "shortcut", "keyword", "llm", "cache", "degraded"
	MetadataKeyClassificationSource = "classification_source"

	// MetadataKeyContainsIdentifiers flags a user message that carries phone numbers,
	// emails or similar identifiers.
	MetadataKeyContainsIdentifiers = "contains_identifiers"
)

// GetMetadataIntent retrieves the intent from message metadata.
func (m *Message) GetMetadataIntent() (string, bool) {
	if m.Metadata == nil {
		return "", false
	}
	val, ok := m.Metadata[MetadataKeyIntent].(string)
	return val, ok
}

// GetMetadataPath retrieves the node path from message metadata. It accepts both the
// in-memory []string and the []any produced by JSON decoding.
func (m *Message) GetMetadataPath() ([]string, bool) {
	if m.Metadata == nil {
		return nil, false
	}
	switch v := m.Metadata[MetadataKeyPath].(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}
