package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/hrygo/medisense/ai/workflow"
)

var (
	// ErrInvalidGraph is returned by Compile when the topology is inconsistent.
	ErrInvalidGraph = errors.New("orchestrator: invalid graph")
	// ErrNoRoute is returned when a selector picks a target outside its declared set.
	ErrNoRoute = errors.New("orchestrator: selector returned undeclared target")
)

// NodeFunc is one step of a run. It reads the request and mutates the run state.
type NodeFunc func(ctx context.Context, req *workflow.Request, st *workflow.State) error

// Selector picks the next node from the state.
type Selector func(st *workflow.State) string

type branch struct {
	selector Selector
	targets  map[string]bool
}

// Graph is a node table with plain and conditional edges, a single entry and a single
// finish node. It is built once and compiled before use.
type Graph struct {
	entry    string
	finish   string
	order    []string
	nodes    map[string]NodeFunc
	edges    map[string]string
	branches map[string]branch
	errs     []error
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]NodeFunc),
		edges:    make(map[string]string),
		branches: make(map[string]branch),
	}
}

// AddNode registers a node. Duplicate names are reported by Compile.
func (g *Graph) AddNode(name string, fn NodeFunc) *Graph {
	if _, dup := g.nodes[name]; dup {
		g.errs = append(g.errs, fmt.Errorf("duplicate node %q", name))
		return g
	}
	if fn == nil {
		g.errs = append(g.errs, fmt.Errorf("node %q has no function", name))
		return g
	}
	g.nodes[name] = fn
	g.order = append(g.order, name)
	return g
}

// SetEntry marks the first node of every run.
func (g *Graph) SetEntry(name string) *Graph {
	g.entry = name
	return g
}

// SetFinish marks the terminal node.
func (g *Graph) SetFinish(name string) *Graph {
	g.finish = name
	return g
}

// AddEdge adds an unconditional edge.
func (g *Graph) AddEdge(from, to string) *Graph {
	if g.hasOutgoing(from) {
		g.errs = append(g.errs, fmt.Errorf("node %q already has an outgoing edge", from))
		return g
	}
	g.edges[from] = to
	return g
}

// AddConditionalEdges branches from one node to the target chosen by selector.
func (g *Graph) AddConditionalEdges(from string, selector Selector, targets []string) *Graph {
	if g.hasOutgoing(from) {
		g.errs = append(g.errs, fmt.Errorf("node %q already has an outgoing edge", from))
		return g
	}
	if selector == nil || len(targets) == 0 {
		g.errs = append(g.errs, fmt.Errorf("conditional edge from %q needs a selector and targets", from))
		return g
	}
	set := make(map[string]bool, len(targets))
	for _, t := range targets {
		set[t] = true
	}
	g.branches[from] = branch{selector: selector, targets: set}
	return g
}

func (g *Graph) hasOutgoing(name string) bool {
	_, plain := g.edges[name]
	_, cond := g.branches[name]
	return plain || cond
}

// Compile validates the topology: every edge endpoint exists, every node except the
// finish node has exactly one way out, and every path from the entry reaches the
// finish node without a cycle.
func (g *Graph) Compile() (*CompiledGraph, error) {
	errs := append([]error(nil), g.errs...)
	if _, ok := g.nodes[g.entry]; !ok {
		errs = append(errs, fmt.Errorf("entry node %q not registered", g.entry))
	}
	if _, ok := g.nodes[g.finish]; !ok {
		errs = append(errs, fmt.Errorf("finish node %q not registered", g.finish))
	}
	if g.hasOutgoing(g.finish) {
		errs = append(errs, fmt.Errorf("finish node %q has an outgoing edge", g.finish))
	}
	for _, name := range g.order {
		if name != g.finish && !g.hasOutgoing(name) {
			errs = append(errs, fmt.Errorf("node %q has no outgoing edge", name))
		}
	}
	for from, to := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("edge from unknown node %q", from))
		}
		if _, ok := g.nodes[to]; !ok {
			errs = append(errs, fmt.Errorf("edge %q -> unknown node %q", from, to))
		}
	}
	for from, b := range g.branches {
		if _, ok := g.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("conditional edge from unknown node %q", from))
		}
		for to := range b.targets {
			if _, ok := g.nodes[to]; !ok {
				errs = append(errs, fmt.Errorf("conditional edge %q -> unknown node %q", from, to))
			}
		}
	}
	if len(errs) == 0 {
		if err := g.checkPaths(g.entry, map[string]bool{}); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGraph, errors.Join(errs...))
	}

	c := &CompiledGraph{
		entry:    g.entry,
		finish:   g.finish,
		nodes:    make(map[string]NodeFunc, len(g.nodes)),
		edges:    make(map[string]string, len(g.edges)),
		branches: make(map[string]branch, len(g.branches)),
	}
	for k, v := range g.nodes {
		c.nodes[k] = v
	}
	for k, v := range g.edges {
		c.edges[k] = v
	}
	for k, v := range g.branches {
		c.branches[k] = v
	}
	return c, nil
}

func (g *Graph) checkPaths(node string, onPath map[string]bool) error {
	if node == g.finish {
		return nil
	}
	if onPath[node] {
		return fmt.Errorf("cycle through node %q", node)
	}
	onPath[node] = true
	defer delete(onPath, node)

	if next, ok := g.edges[node]; ok {
		return g.checkPaths(next, onPath)
	}
	for next := range g.branches[node].targets {
		if err := g.checkPaths(next, onPath); err != nil {
			return err
		}
	}
	return nil
}

// Step wraps the execution of one node. The engine uses it for spans, timing and
// event delivery.
type Step func(ctx context.Context, name string, run func(context.Context) error) error

// CompiledGraph is an immutable, validated graph. It is safe for concurrent runs.
type CompiledGraph struct {
	entry    string
	finish   string
	nodes    map[string]NodeFunc
	edges    map[string]string
	branches map[string]branch
}

// Execute walks the graph from the entry node to the finish node. Every executed node
// is appended to the state path before it runs. A node error stops the walk.
func (c *CompiledGraph) Execute(ctx context.Context, req *workflow.Request, st *workflow.State, step Step) error {
	if step == nil {
		step = func(ctx context.Context, _ string, run func(context.Context) error) error { return run(ctx) }
	}
	node := c.entry
	for {
		fn := c.nodes[node]
		st.Visit(node)
		if err := step(ctx, node, func(ctx context.Context) error { return fn(ctx, req, st) }); err != nil {
			return fmt.Errorf("node %s: %w", node, err)
		}
		if node == c.finish {
			return nil
		}

		next, err := c.next(node, st)
		if err != nil {
			return err
		}
		node = next
	}
}

func (c *CompiledGraph) next(node string, st *workflow.State) (string, error) {
	if to, ok := c.edges[node]; ok {
		return to, nil
	}
	b := c.branches[node]
	to := b.selector(st)
	if !b.targets[to] {
		return "", fmt.Errorf("%w: %q from %q", ErrNoRoute, to, node)
	}
	return to, nil
}
