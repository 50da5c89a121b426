package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrIntentAlreadySet is returned when a second intent assignment is attempted.
	ErrIntentAlreadySet = errors.New("intent already set")
	// ErrFinalResponseSet is returned when the final response is written twice.
	ErrFinalResponseSet = errors.New("final response already set")
)

// Record is one structured fact to persist (a symptom, a vital sign, a medication...).
type Record map[string]any

// Entities holds the structured entities extracted by the classifier.
type Entities map[string]any

// String returns the entity as a string. A list yields its first usable element.
func (e Entities) String(key string) string {
	if all := e.Strings(key); len(all) > 0 {
		return all[0]
	}
	return ""
}

// Strings returns the entity as a list of non-empty strings.
func (e Entities) Strings(key string) []string {
	var out []string
	switch v := e[key].(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	case []any:
		for _, item := range v {
			switch it := item.(type) {
			case string:
				if s := strings.TrimSpace(it); s != "" {
					out = append(out, s)
				}
			case map[string]any:
				if name, ok := it["name"].(string); ok && strings.TrimSpace(name) != "" {
					out = append(out, strings.TrimSpace(name))
				}
			}
		}
	case []string:
		for _, s := range v {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// State is the mutable record threaded through every node of one run.
// It is owned by a single run and needs no locking.
type State struct {
	intent        string
	intentSet     bool
	entities      Entities
	path          []string
	fragments     []string
	persist       map[string][]Record
	finalResponse string
	finalSet      bool
	metadata      map[string]any
	caller        CallerContext
}

// NewState creates an empty state for one run.
func NewState() *State {
	return &State{
		entities: Entities{},
		persist:  make(map[string][]Record),
		metadata: make(map[string]any),
	}
}

// SetIntent assigns the intent. Only the first assignment wins.
func (s *State) SetIntent(intent string) error {
	if s.intentSet {
		return fmt.Errorf("%w: have %q, got %q", ErrIntentAlreadySet, s.intent, intent)
	}
	s.intent = intent
	s.intentSet = true
	return nil
}

// Intent returns the classified intent.
func (s *State) Intent() string { return s.intent }

// SetEntities overwrites the extracted entities.
func (s *State) SetEntities(e Entities) {
	if e == nil {
		e = Entities{}
	}
	s.entities = e
}

// Entities returns the extracted entities.
func (s *State) Entities() Entities { return s.entities }

// Visit appends a node name to the path.
func (s *State) Visit(node string) {
	s.path = append(s.path, node)
}

// Path returns a copy of the visited node names.
func (s *State) Path() []string {
	return append([]string(nil), s.path...)
}

// AppendFragment appends a response fragment. Insertion order is output order.
func (s *State) AppendFragment(fragment string) {
	s.fragments = append(s.fragments, fragment)
}

// Fragments returns a copy of the response fragments.
func (s *State) Fragments() []string {
	return append([]string(nil), s.fragments...)
}

// MergePersist extends the records of category. Existing records are never replaced.
func (s *State) MergePersist(category string, records ...Record) {
	if category == "" || len(records) == 0 {
		return
	}
	s.EnsurePersist()
	s.persist[category] = append(s.persist[category], records...)
}

// EnsurePersist initialises the persist map when absent.
func (s *State) EnsurePersist() {
	if s.persist == nil {
		s.persist = make(map[string][]Record)
	}
}

// Persist returns the records collected for category.
func (s *State) Persist(category string) []Record {
	return s.persist[category]
}

// SetFinalResponse writes the terminal response exactly once.
func (s *State) SetFinalResponse(text string) error {
	if s.finalSet {
		return ErrFinalResponseSet
	}
	s.finalResponse = text
	s.finalSet = true
	return nil
}

// FinalResponse returns the synthesized response, empty until the terminal node runs.
func (s *State) FinalResponse() string { return s.finalResponse }

// SetMeta overwrites one metadata key.
func (s *State) SetMeta(key string, value any) {
	if s.metadata == nil {
		s.metadata = make(map[string]any)
	}
	s.metadata[key] = value
}

// Meta returns one metadata value.
func (s *State) Meta(key string) (any, bool) {
	v, ok := s.metadata[key]
	return v, ok
}

// AttachCaller stores the run-local caller context.
func (s *State) AttachCaller(c CallerContext) {
	s.caller = c
}

// Caller returns the run-local caller context.
func (s *State) Caller() CallerContext { return s.caller }

// Result is the public outcome of one run.
type Result struct {
	FinalResponse string              `json:"final_response"`
	Intent        string              `json:"intent"`
	DataToPersist map[string][]Record `json:"data_to_persist"`
	Path          []string            `json:"path"`
	Metadata      map[string]any      `json:"metadata"`
}

// Result snapshots the state into a Result.
func (s *State) Result() *Result {
	data := make(map[string][]Record, len(s.persist))
	for k, v := range s.persist {
		data[k] = append([]Record(nil), v...)
	}
	meta := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		meta[k] = v
	}
	return &Result{
		FinalResponse: s.finalResponse,
		Intent:        s.intent,
		DataToPersist: data,
		Path:          s.Path(),
		Metadata:      meta,
	}
}
