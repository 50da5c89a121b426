// Package handlers implements the intent handlers the engine routes to. Each handler
// reads the request and the run state, may fan out to external providers, and appends
// response fragments and records to persist.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hrygo/medisense/ai/core/llm"
	"github.com/hrygo/medisense/ai/gather"
	"github.com/hrygo/medisense/ai/medapi"
	"github.com/hrygo/medisense/ai/workflow"
)

// ErrNoModel is returned by handlers that need text generation when none is configured.
var ErrNoModel = errors.New("handlers: no text generator configured")

// Handler answers one intent family.
type Handler interface {
	Name() string
	Handle(ctx context.Context, req *workflow.Request, st *workflow.State) error
}

// Deps are the capabilities shared by the default handlers.
type Deps struct {
	// LLM generates answers. Handlers that need it fail with ErrNoModel when nil.
	LLM llm.Generator
	// Facts is optional; without it handlers answer without external data.
	Facts medapi.FactSource
	// Gather bounds every external fan-out.
	Gather gather.Options
}

// Registry maps handler names to handlers. It is read-only after construction.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds a registry. Duplicate names are rejected.
func NewRegistry(hs ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[string]Handler, len(hs))}
	for _, h := range hs {
		if _, dup := r.handlers[h.Name()]; dup {
			return nil, fmt.Errorf("handlers: duplicate handler %q", h.Name())
		}
		r.handlers[h.Name()] = h
	}
	return r, nil
}

// NewDefaultRegistry wires the seven built-in handlers.
func NewDefaultRegistry(d Deps) *Registry {
	r, err := NewRegistry(
		NewSymptomHandler(d),
		NewMedicationHandler(d),
		NewReportHandler(d),
		NewDiagnosisHandler(d),
		NewLifestyleHandler(d),
		NewEmergencyHandler(),
		NewGeneralHandler(d),
	)
	if err != nil {
		panic(err) // built-in names are unique
	}
	return r
}

// Get returns the handler registered under name.
func (r *Registry) Get(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered handler names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// gatherFacts runs calls through the aggregator and records a per-call summary in the
// run metadata under "external_calls".
func gatherFacts(ctx context.Context, opts gather.Options, st *workflow.State, calls map[string]gather.Invocation) gather.Result {
	res := gather.Gather(ctx, calls, opts)
	recordCalls(st, res)
	return res
}

func recordCalls(st *workflow.State, res gather.Result) {
	if len(res) == 0 {
		return
	}
	summary := make(map[string]string, len(res))
	for name, o := range res {
		if o.OK() {
			summary[name] = "ok"
		} else {
			summary[name] = string(o.Failure.Kind)
		}
	}
	st.SetMeta("external_calls", summary)
}
