package handlers

import (
	"context"
	"fmt"

	"github.com/hrygo/medisense/ai/core/llm"
	"github.com/hrygo/medisense/ai/routing"
	"github.com/hrygo/medisense/ai/workflow"
)

// historyTurns is how many prior turns the general handler sees.
const historyTurns = 10

// GeneralHandler is the default route. Non-medical questions get a fixed redirect.
type GeneralHandler struct {
	llm llm.Generator
}

// NewGeneralHandler creates the general handler.
func NewGeneralHandler(d Deps) *GeneralHandler {
	return &GeneralHandler{llm: d.LLM}
}

func (h *GeneralHandler) Name() string { return routing.HandlerGeneral }

func (h *GeneralHandler) Handle(ctx context.Context, req *workflow.Request, st *workflow.State) error {
	source, _ := st.Meta("classification_source")
	if outOfScope(st.Intent(), source == routing.SourceDegraded, req.Message) {
		st.AppendFragment(OutOfScopeMessage)
		return nil
	}
	if h.llm == nil {
		return ErrNoModel
	}

	framing := frame(generalFraming, describeCaller(st.Caller()), describeHistory(req.RecentHistory(historyTurns)))
	answer, err := h.llm.GenerateText(ctx, framing, req.Message, llm.Style{Tier: llm.TierFast, Temperature: 0.7})
	if err != nil {
		return fmt.Errorf("general answer: %w", err)
	}
	st.AppendFragment(answer)
	return nil
}

// outOfScope reports whether the message gets the fixed redirect. Labels the router
// does not know, and general queries from a degraded classification, fall back to the
// medical vocabulary check.
func outOfScope(intent string, degraded bool, message string) bool {
	switch {
	case intent == routing.IntentNonMedicalQuery:
		return true
	case intent == routing.IntentSmallTalk:
		return false
	case !routing.IsKnownIntent(intent), degraded:
		return !routing.HasMedicalCue(message)
	}
	return false
}
