package handlers

import (
	"context"
	"fmt"

	"github.com/hrygo/medisense/ai/core/llm"
	"github.com/hrygo/medisense/ai/gather"
	"github.com/hrygo/medisense/ai/medapi"
	"github.com/hrygo/medisense/ai/routing"
	"github.com/hrygo/medisense/ai/workflow"
)

// LifestyleHandler gives diet, exercise and sleep advice, with nutrition facts when a
// food is mentioned.
type LifestyleHandler struct {
	llm   llm.Generator
	facts medapi.FactSource
	opts  gather.Options
}

// NewLifestyleHandler creates the lifestyle handler.
func NewLifestyleHandler(d Deps) *LifestyleHandler {
	return &LifestyleHandler{llm: d.LLM, facts: d.Facts, opts: d.Gather}
}

func (h *LifestyleHandler) Name() string { return routing.HandlerLifestyle }

func (h *LifestyleHandler) Handle(ctx context.Context, req *workflow.Request, st *workflow.State) error {
	if h.llm == nil {
		return ErrNoModel
	}

	parts := []string{lifestyleFraming, describeCaller(st.Caller())}
	if foods := st.Entities().Strings("food"); len(foods) > 0 && h.facts != nil {
		calls := make(map[string]gather.Invocation, len(foods))
		for _, f := range foods {
			calls["nutrition:"+f] = func(ctx context.Context) (any, error) {
				return h.facts.Nutrition(ctx, f)
			}
		}
		res := gatherFacts(ctx, h.opts, st, calls)
		parts = append(parts, "Nutrition data:\n"+res.Describe())
	}

	answer, err := h.llm.GenerateText(ctx, frame(parts...), req.Message, llm.Style{Tier: llm.TierFast, Temperature: 0.5})
	if err != nil {
		return fmt.Errorf("lifestyle answer: %w", err)
	}
	st.AppendFragment(answer)
	return nil
}
