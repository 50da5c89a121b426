// Package orchestrator runs one conversational request through the workflow graph:
//
//	classify → attachContext → ⟨routed handler⟩ → dataLogger → responseSynthesizer
//
// Only a malformed request aborts a run. Classification, context retrieval and handler
// failures all degrade the answer instead, so every accepted request gets a non-empty
// response and an accurate path.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hrygo/medisense/ai/agents/handlers"
	"github.com/hrygo/medisense/ai/filter"
	"github.com/hrygo/medisense/ai/format"
	"github.com/hrygo/medisense/ai/routing"
	"github.com/hrygo/medisense/ai/tracing"
	"github.com/hrygo/medisense/ai/workflow"
	"github.com/hrygo/medisense/internal/strutil"
)

// Node names. Handler nodes are named after their handler.
const (
	NodeClassify            = "classify"
	NodeAttachContext       = "attachContext"
	NodeDataLogger          = "dataLogger"
	NodeResponseSynthesizer = "responseSynthesizer"
)

// Failure kinds recorded under the "failures" metadata key.
const (
	KindHandlerFailure         = "HANDLER_FAILURE"
	KindClassificationDegraded = "CLASSIFICATION_DEGRADED"
	KindNoRoute                = "NO_ROUTE"
)

// Metadata keys written by the engine.
const (
	MetaRunID                = "run_id"
	MetaClassificationSource = "classification_source"
	MetaClassificationRule   = "classification_rule"
	MetaHandler              = "handler"
	MetaHandlerError         = "handler_error"
	MetaContextError         = "context_error"
	MetaFailures             = "failures"
	MetaDurationMs           = "duration_ms"
)

const messagePreviewRunes = 80

// HandlerFallbackMessage replaces the answer of a handler that failed.
const HandlerFallbackMessage = "I'm sorry, I could not complete a full answer to your question right now. " +
	"Please try again in a moment. If your symptoms are severe or getting worse, contact a healthcare professional."

// Classifier resolves the intent of a request.
type Classifier interface {
	Classify(ctx context.Context, req *workflow.Request) (routing.Classification, error)
}

// Router maps an intent to a handler name. Route must be total.
type Router interface {
	Route(intent string) string
	Default() string
	Targets() []string
}

// HandlerSet resolves handler names to handlers.
type HandlerSet interface {
	Get(name string) (handlers.Handler, bool)
	Names() []string
}

// ContextFetcher supplies stored caller facts and the referenced reports.
type ContextFetcher interface {
	FetchCallerContext(ctx context.Context, callerID string, reportIDs []int64) (workflow.CallerContext, error)
}

// Synthesizer turns the accumulated fragments into the final response.
type Synthesizer func(fragments []string) string

// Observer receives run, node and handler metrics.
type Observer interface {
	ObserveRun(intent, handler string, d time.Duration)
	ObserveNode(node string, d time.Duration)
	ObserveHandlerFailure(handler string)
}

// Config holds the collaborators of an Engine. Classifier and Handlers are required.
type Config struct {
	Classifier Classifier
	// Router defaults to routing.DefaultRouter().
	Router   Router
	Handlers HandlerSet
	// ContextFetcher is optional; without it only the request bundle is attached.
	ContextFetcher ContextFetcher
	// Synthesizer defaults to format.Synthesize.
	Synthesizer Synthesizer
	Observer    Observer
	// Tracer defaults to the global module tracer.
	Tracer trace.Tracer
}

// Engine executes the compiled workflow graph. It holds no per-run state and is safe
// for concurrent use.
type Engine struct {
	graph      *CompiledGraph
	classifier Classifier
	router     Router
	handlers   HandlerSet
	fetcher    ContextFetcher
	synth      Synthesizer
	observer   Observer
	tracer     trace.Tracer
}

// New builds the graph and validates that every routed handler is registered.
func New(cfg Config) (*Engine, error) {
	if cfg.Classifier == nil {
		return nil, errors.New("orchestrator: classifier is required")
	}
	if cfg.Handlers == nil {
		return nil, errors.New("orchestrator: handlers are required")
	}
	e := &Engine{
		classifier: cfg.Classifier,
		router:     cfg.Router,
		handlers:   cfg.Handlers,
		fetcher:    cfg.ContextFetcher,
		synth:      cfg.Synthesizer,
		observer:   cfg.Observer,
		tracer:     cfg.Tracer,
	}
	if e.router == nil {
		e.router = routing.DefaultRouter()
	}
	if e.synth == nil {
		e.synth = format.Synthesize
	}

	for _, target := range e.router.Targets() {
		if _, ok := e.handlers.Get(target); !ok {
			return nil, fmt.Errorf("%w: route target %q has no handler", routing.ErrUnknownHandler, target)
		}
	}

	g := NewGraph().
		AddNode(NodeClassify, e.classify).
		AddNode(NodeAttachContext, e.attachContext).
		AddNode(NodeDataLogger, dataLogger).
		AddNode(NodeResponseSynthesizer, e.synthesize).
		SetEntry(NodeClassify).
		SetFinish(NodeResponseSynthesizer).
		AddEdge(NodeClassify, NodeAttachContext).
		AddConditionalEdges(NodeAttachContext, e.selectHandler, e.router.Targets()).
		AddEdge(NodeDataLogger, NodeResponseSynthesizer)
	for _, name := range e.router.Targets() {
		h, _ := e.handlers.Get(name)
		g.AddNode(name, e.handlerNode(h)).AddEdge(name, NodeDataLogger)
	}

	compiled, err := g.Compile()
	if err != nil {
		return nil, err
	}
	e.graph = compiled
	return e, nil
}

// Run executes one request. The only error is a malformed request, or a graph
// inconsistency that New should have rejected.
func (e *Engine) Run(ctx context.Context, req *workflow.Request) (*workflow.Result, error) {
	return e.RunWithEvents(ctx, req, nil)
}

// RunWithEvents is Run with node progress delivered to callback.
func (e *Engine) RunWithEvents(ctx context.Context, req *workflow.Request, callback EventCallback) (*workflow.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	runID := uuid.NewString()
	st := workflow.NewState()
	st.SetMeta(MetaRunID, runID)

	ctx, span := tracing.Start(ctx, e.tracer, "engine.run",
		attribute.String("run_id", runID),
		attribute.String("caller_id", req.CallerID))

	slog.Info("engine: run started",
		"run_id", runID,
		"caller_id", req.CallerID,
		"conversation_id", req.ConversationID,
		"message_length", len(req.Message))
	slog.Debug("engine: message", "run_id", runID,
		"preview", strutil.Truncate(filter.DefaultFilter().FilterText(req.Message), messagePreviewRunes))

	events := newEventDispatcher(runID, callback)
	err := e.graph.Execute(ctx, req, st, e.step(runID, events))

	duration := time.Since(start)
	st.SetMeta(MetaDurationMs, duration.Milliseconds())
	handler, _ := st.Meta(MetaHandler)
	handlerName, _ := handler.(string)
	span.SetAttributes(attribute.String("intent", st.Intent()), attribute.String("handler", handlerName))
	tracing.End(span, err)

	events.send(EventRunEnd, NodeEvent{RunID: runID, DurationMs: duration.Milliseconds()})
	events.close()

	if err != nil {
		slog.Error("engine: run aborted", "run_id", runID, "path", st.Path(), "error", err)
		return nil, err
	}
	if e.observer != nil {
		e.observer.ObserveRun(st.Intent(), handlerName, duration)
	}
	slog.Info("engine: run finished",
		"run_id", runID,
		"intent", st.Intent(),
		"handler", handlerName,
		"path", st.Path(),
		"duration_ms", duration.Milliseconds())
	return st.Result(), nil
}

func (e *Engine) step(runID string, events *eventDispatcher) Step {
	return func(ctx context.Context, name string, run func(context.Context) error) error {
		events.send(EventNodeStart, NodeEvent{RunID: runID, Node: name})
		ctx, span := tracing.Start(ctx, e.tracer, "engine.node."+name, attribute.String("node", name))
		start := time.Now()

		err := run(ctx)

		d := time.Since(start)
		tracing.End(span, err)
		if e.observer != nil {
			e.observer.ObserveNode(name, d)
		}
		ev := NodeEvent{RunID: runID, Node: name, DurationMs: d.Milliseconds()}
		if err != nil {
			ev.Error = err.Error()
		}
		events.send(EventNodeEnd, ev)
		slog.Debug("engine: node finished", "run_id", runID, "node", name, "duration_ms", d.Milliseconds())
		return err
	}
}

func (e *Engine) classify(ctx context.Context, req *workflow.Request, st *workflow.State) error {
	c, err := e.classifier.Classify(ctx, req)
	if err != nil || c.Intent == "" {
		slog.Warn("engine: classification failed, using general route", "error", err)
		c = routing.Classification{Intent: routing.IntentGeneralMedicalQuery, Source: routing.SourceDegraded}
	}
	if err := st.SetIntent(c.Intent); err != nil {
		return err
	}
	st.SetEntities(c.Entities)
	st.SetMeta(MetaClassificationSource, c.Source)
	if c.Rule != "" {
		st.SetMeta(MetaClassificationRule, c.Rule)
	}
	if c.Degraded() {
		recordFailure(st, KindClassificationDegraded)
	}
	return nil
}

// attachContext copies the request bundle into the state and fills the gaps from the
// context fetcher. A fetch failure only leaves the bundle as supplied.
func (e *Engine) attachContext(ctx context.Context, req *workflow.Request, st *workflow.State) error {
	caller := req.Context.Clone()
	if e.fetcher != nil {
		fetched, err := e.fetcher.FetchCallerContext(ctx, req.CallerID, workflow.ParseReportIDs(req.Message))
		if err != nil {
			slog.Warn("engine: caller context unavailable", "caller_id", req.CallerID, "error", err)
			st.SetMeta(MetaContextError, err.Error())
		} else {
			caller = caller.Merge(fetched)
		}
	}
	st.AttachCaller(caller)
	return nil
}

// selectHandler follows the router. A target without a handler cannot survive New,
// but the default route still covers it.
func (e *Engine) selectHandler(st *workflow.State) string {
	name := e.router.Route(st.Intent())
	if _, ok := e.handlers.Get(name); !ok {
		recordFailure(st, KindNoRoute)
		name = e.router.Default()
	}
	if !routing.IsKnownIntent(st.Intent()) {
		slog.Info("engine: unmapped intent takes the default route", "intent", st.Intent(), "handler", name)
	}
	st.SetMeta(MetaHandler, name)
	return name
}

// handlerNode isolates a handler: an error or panic becomes the fallback fragment and
// the run continues to the convergence node.
func (e *Engine) handlerNode(h handlers.Handler) NodeFunc {
	return func(ctx context.Context, req *workflow.Request, st *workflow.State) error {
		if err := safeHandle(ctx, h, req, st); err != nil {
			slog.Error("engine: handler failed", "handler", h.Name(), "error", err)
			st.SetMeta(MetaHandlerError, err.Error())
			recordFailure(st, KindHandlerFailure)
			st.AppendFragment(HandlerFallbackMessage)
			if e.observer != nil {
				e.observer.ObserveHandlerFailure(h.Name())
			}
		}
		return nil
	}
}

func safeHandle(ctx context.Context, h handlers.Handler, req *workflow.Request, st *workflow.State) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", h.Name(), r)
		}
	}()
	return h.Handle(ctx, req, st)
}

func dataLogger(_ context.Context, _ *workflow.Request, st *workflow.State) error {
	st.EnsurePersist()
	return nil
}

// synthesize writes the final response. It is never empty.
func (e *Engine) synthesize(_ context.Context, _ *workflow.Request, st *workflow.State) error {
	response := e.synth(st.Fragments())
	if response == "" {
		response = format.Normalize(HandlerFallbackMessage)
	}
	return st.SetFinalResponse(response)
}

func recordFailure(st *workflow.State, kind string) {
	var kinds []string
	if v, ok := st.Meta(MetaFailures); ok {
		kinds, _ = v.([]string)
	}
	st.SetMeta(MetaFailures, append(kinds, kind))
}
