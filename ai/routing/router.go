package routing

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrUnknownHandler is returned when a route table names a handler that does not exist.
var ErrUnknownHandler = errors.New("unknown handler")

// Router is a static intent to handler table. It is safe for concurrent use once built.
type Router struct {
	table    map[string]string
	fallback string
}

// DefaultTable maps intents to handlers. Synonym intents fold onto the same handler.
func DefaultTable() map[string]string {
	return map[string]string{
		IntentSymptomAnalysis:       HandlerSymptom,
		IntentHealthTracking:        HandlerSymptom,
		IntentMedicationQuery:       HandlerMedication,
		IntentMedicationInteraction: HandlerMedication,
		IntentReportAnalysis:        HandlerReport,
		IntentDiagnosisAssistance:   HandlerDiagnosis,
		IntentLifestyleAdvice:       HandlerLifestyle,
		IntentEmergency:             HandlerEmergency,
	}
}

// NewRouter builds a router. An empty fallback selects generalAgent.
func NewRouter(table map[string]string, fallback string) (*Router, error) {
	if fallback == "" {
		fallback = HandlerGeneral
	}
	if !IsKnownHandler(fallback) {
		return nil, fmt.Errorf("%w: default %q", ErrUnknownHandler, fallback)
	}
	copied := make(map[string]string, len(table))
	for intent, handler := range table {
		if !IsKnownHandler(handler) {
			return nil, fmt.Errorf("%w: %q for intent %q", ErrUnknownHandler, handler, intent)
		}
		copied[intent] = handler
	}
	return &Router{table: copied, fallback: fallback}, nil
}

// DefaultRouter returns the built-in routing table.
func DefaultRouter() *Router {
	r, err := NewRouter(DefaultTable(), HandlerGeneral)
	if err != nil {
		panic(err) // built-in table is static
	}
	return r
}

// Route returns the handler for intent. It is total: unmatched intents take the default.
func (r *Router) Route(intent string) string {
	if h, ok := r.table[intent]; ok {
		return h
	}
	return r.fallback
}

// Default returns the fallback handler name.
func (r *Router) Default() string { return r.fallback }

// Targets returns every handler reachable through the router, sorted.
func (r *Router) Targets() []string {
	seen := map[string]bool{r.fallback: true}
	for _, h := range r.table {
		seen[h] = true
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// RouteTable is the YAML form of a routing table.
//
//	default: generalAgent
//	routes:
//	  symptom_analysis: symptomAgent
//	synonyms:
//	  headache_report: symptom_analysis
type RouteTable struct {
	Default  string            `yaml:"default"`
	Routes   map[string]string `yaml:"routes"`
	Synonyms map[string]string `yaml:"synonyms"`
}

// ParseRouteTable decodes a YAML table and builds a Router from it. Routes extend the
// built-in table; synonyms alias an intent to another intent's handler.
func ParseRouteTable(data []byte) (*Router, error) {
	var rt RouteTable
	if err := yaml.Unmarshal(data, &rt); err != nil {
		return nil, fmt.Errorf("parse route table: %w", err)
	}

	table := DefaultTable()
	for intent, handler := range rt.Routes {
		table[intent] = handler
	}
	for alias, target := range rt.Synonyms {
		handler, ok := table[target]
		if !ok {
			return nil, fmt.Errorf("synonym %q points at unrouted intent %q", alias, target)
		}
		table[alias] = handler
	}
	return NewRouter(table, rt.Default)
}

// LoadRouteTable reads a YAML routing table from path.
func LoadRouteTable(path string) (*Router, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read route table %s: %w", path, err)
	}
	return ParseRouteTable(data)
}
