package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/medisense/ai/workflow"
)

func noop(context.Context, *workflow.Request, *workflow.State) error { return nil }

func TestGraph_Compile(t *testing.T) {
	valid := func() *Graph {
		return NewGraph().
			AddNode("a", noop).
			AddNode("b", noop).
			AddNode("c", noop).
			AddNode("end", noop).
			SetEntry("a").
			SetFinish("end").
			AddConditionalEdges("a", func(*workflow.State) string { return "b" }, []string{"b", "c"}).
			AddEdge("b", "end").
			AddEdge("c", "end")
	}

	tests := []struct {
		name   string
		mutate func(g *Graph)
	}{
		{"unknown conditional target", func(g *Graph) {
			g.AddNode("d", noop).AddEdge("d", "end")
			g.branches["a"].targets["missing"] = true
		}},
		{"dangling node", func(g *Graph) { g.AddNode("orphan", noop) }},
		{"duplicate node", func(g *Graph) { g.AddNode("a", noop) }},
		{"second outgoing edge", func(g *Graph) { g.AddEdge("b", "c") }},
		{"missing entry", func(g *Graph) { g.SetEntry("nope") }},
		{"finish with outgoing edge", func(g *Graph) { g.AddEdge("end", "a") }},
		{"cycle", func(g *Graph) {
			g.AddNode("x", noop).AddNode("y", noop)
			g.branches["a"].targets["x"] = true
			g.AddEdge("x", "y").AddEdge("y", "x")
		}},
	}

	_, err := valid().Compile()
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := valid()
			tt.mutate(g)
			_, err := g.Compile()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidGraph)
		})
	}
}

func TestCompiledGraph_Execute(t *testing.T) {
	var order []string
	node := func(name string) NodeFunc {
		return func(context.Context, *workflow.Request, *workflow.State) error {
			order = append(order, name)
			return nil
		}
	}
	target := "c"
	g, err := NewGraph().
		AddNode("a", node("a")).
		AddNode("b", node("b")).
		AddNode("c", node("c")).
		AddNode("end", node("end")).
		SetEntry("a").
		SetFinish("end").
		AddConditionalEdges("a", func(*workflow.State) string { return target }, []string{"b", "c"}).
		AddEdge("b", "end").
		AddEdge("c", "end").
		Compile()
	require.NoError(t, err)

	st := workflow.NewState()
	var stepped []string
	step := func(ctx context.Context, name string, run func(context.Context) error) error {
		stepped = append(stepped, name)
		return run(ctx)
	}
	require.NoError(t, g.Execute(context.Background(), &workflow.Request{}, st, step))
	assert.Equal(t, []string{"a", "c", "end"}, st.Path())
	assert.Equal(t, []string{"a", "c", "end"}, order)
	assert.Equal(t, st.Path(), stepped)

	target = "undeclared"
	err = g.Execute(context.Background(), &workflow.Request{}, workflow.NewState(), nil)
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestCompiledGraph_NodeErrorStops(t *testing.T) {
	boom := errors.New("boom")
	g, err := NewGraph().
		AddNode("a", func(context.Context, *workflow.Request, *workflow.State) error { return boom }).
		AddNode("end", noop).
		SetEntry("a").
		SetFinish("end").
		AddEdge("a", "end").
		Compile()
	require.NoError(t, err)

	st := workflow.NewState()
	err = g.Execute(context.Background(), &workflow.Request{}, st, nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a"}, st.Path())
}
