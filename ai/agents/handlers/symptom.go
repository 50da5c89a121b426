package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/hrygo/medisense/ai/core/llm"
	"github.com/hrygo/medisense/ai/routing"
	"github.com/hrygo/medisense/ai/workflow"
)

// SymptomHandler analyses reported symptoms and collects symptom and vital-sign records.
type SymptomHandler struct {
	llm llm.Generator
}

// NewSymptomHandler creates the symptom handler.
func NewSymptomHandler(d Deps) *SymptomHandler {
	return &SymptomHandler{llm: d.LLM}
}

func (h *SymptomHandler) Name() string { return routing.HandlerSymptom }

// Handle asks the model for an analysis. Symptoms named by the classifier are recorded
// even when the model is missing or fails; model-extracted records replace them.
func (h *SymptomHandler) Handle(ctx context.Context, req *workflow.Request, st *workflow.State) error {
	mentioned := st.Entities().Strings("symptoms")
	fromEntities := make([]workflow.Record, 0, len(mentioned))
	for _, s := range mentioned {
		fromEntities = append(fromEntities, workflow.Record{"name": s})
	}

	if h.llm == nil {
		st.MergePersist("symptoms", fromEntities...)
		return ErrNoModel
	}

	user := req.Message
	if len(mentioned) > 0 {
		user += "\n\nSymptoms mentioned: " + strings.Join(mentioned, ", ")
	}

	answer, err := h.llm.GenerateText(ctx, frame(symptomFraming, describeCaller(st.Caller())), user,
		llm.Style{Tier: llm.TierSmart, Temperature: 0.3})
	if err != nil {
		st.MergePersist("symptoms", fromEntities...)
		return fmt.Errorf("symptom analysis: %w", err)
	}

	analysis, data := splitExtracted(answer)
	symptoms := recordsFrom(data["symptoms"], "name")
	if len(symptoms) == 0 {
		symptoms = fromEntities
	}
	st.MergePersist("symptoms", symptoms...)
	st.MergePersist("vital_signs", recordsFrom(data["vital_signs"], "type")...)

	st.AppendFragment(analysis)
	return nil
}
