package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/hrygo/medisense/ai/core/llm"
	"github.com/hrygo/medisense/ai/gather"
	"github.com/hrygo/medisense/ai/medapi"
	"github.com/hrygo/medisense/ai/routing"
	"github.com/hrygo/medisense/ai/workflow"
)

// MedicationHandler answers medication and interaction questions with drug label,
// RxNorm and safety data gathered concurrently.
type MedicationHandler struct {
	llm   llm.Generator
	facts medapi.FactSource
	opts  gather.Options
}

// NewMedicationHandler creates the medication handler.
func NewMedicationHandler(d Deps) *MedicationHandler {
	return &MedicationHandler{llm: d.LLM, facts: d.Facts, opts: d.Gather}
}

func (h *MedicationHandler) Name() string { return routing.HandlerMedication }

func (h *MedicationHandler) Handle(ctx context.Context, req *workflow.Request, st *workflow.State) error {
	if h.llm == nil {
		return ErrNoModel
	}

	caller := st.Caller()
	name := medicationName(st.Entities(), req.Message)

	external := "No specific medication was identified."
	if name != "" && h.facts != nil {
		res := gather.Gather(ctx, h.calls(name), h.opts)
		res["safety_analysis"] = safetyOutcome(name, res, caller)
		recordCalls(st, res)
		external = res.Describe()
	}

	framing := frame(
		medicationFraming,
		describeCaller(caller),
		fmt.Sprintf("Medication asked about: %s\nExternal data:\n%s", orNone(name), external),
	)
	answer, err := h.llm.GenerateText(ctx, framing, req.Message, llm.Style{Tier: llm.TierSmart, Temperature: 0.2})
	if err != nil {
		return fmt.Errorf("medication answer: %w", err)
	}

	analysis, data := splitExtracted(answer)
	st.MergePersist("medications", recordsFrom(data["medications"], "name")...)
	st.AppendFragment(analysis)
	return nil
}

func (h *MedicationHandler) calls(name string) map[string]gather.Invocation {
	return map[string]gather.Invocation{
		"fda_label": func(ctx context.Context) (any, error) {
			return h.facts.DrugLabel(ctx, name)
		},
		"rxnorm": func(ctx context.Context) (any, error) {
			return h.facts.RxNorm(ctx, name)
		},
		"interactions": func(ctx context.Context) (any, error) {
			return h.facts.DrugInteractions(ctx, name)
		},
	}
}

// safetyOutcome scores the label gathered under "fda_label". It fails with the label's
// failure kind when the label is unavailable.
func safetyOutcome(name string, res gather.Result, caller workflow.CallerContext) gather.Outcome {
	payload, ok := res.Payload("fda_label")
	label, isLabel := payload.(*medapi.DrugLabel)
	if !ok || !isLabel || label == nil {
		kind, reason := gather.KindProviderError, "drug label unavailable"
		if f := res["fda_label"].Failure; f != nil {
			kind, reason = f.Kind, "drug label unavailable: "+f.Message
		}
		return gather.Outcome{Failure: &gather.Failure{Name: "safety_analysis", Kind: kind, Message: reason}}
	}
	return gather.Outcome{Payload: medapi.AnalyzeSafety(name, label, caller.AllergenNames(), caller.ConditionNames())}
}

func medicationName(e workflow.Entities, message string) string {
	for _, key := range []string{"medication", "medications", "drug"} {
		if s := e.String(key); s != "" {
			return strings.TrimSpace(s)
		}
	}
	return guessMedication(message)
}
