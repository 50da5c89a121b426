package gather

import (
	"encoding/json"
	"sort"
)

// Result maps a logical call name to its outcome. After Gather returns, every
// requested name has exactly one entry.
type Result map[string]Outcome

// Names returns the call names in sorted order.
func (r Result) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Failed returns the failures sorted by call name.
func (r Result) Failed() []Failure {
	var out []Failure
	for _, name := range r.Names() {
		if f := r[name].Failure; f != nil {
			out = append(out, *f)
		}
	}
	return out
}

// Payload returns the payload of name when that call succeeded.
func (r Result) Payload(name string) (any, bool) {
	o, ok := r[name]
	if !ok || !o.OK() {
		return nil, false
	}
	return o.Payload, true
}

// Describe renders the result as framing for a model prompt. Failed calls appear as
// explicit "unavailable" markers so the answer can acknowledge the missing data.
func (r Result) Describe() string {
	if len(r) == 0 {
		return "No external data requested."
	}
	view := make(map[string]any, len(r))
	for name, o := range r {
		if o.OK() {
			view[name] = o.Payload
			continue
		}
		view[name] = map[string]any{
			"status":     "unavailable",
			"error_kind": o.Failure.Kind,
			"reason":     o.Failure.Message,
		}
	}
	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return "External data could not be rendered."
	}
	return string(data)
}
