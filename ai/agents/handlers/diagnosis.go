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

// maxCodedSymptoms bounds the ICD-10 lookups per run.
const maxCodedSymptoms = 3

// DiagnosisHandler discusses possible conditions backed by literature and ICD-10 lookups.
type DiagnosisHandler struct {
	llm   llm.Generator
	facts medapi.FactSource
	opts  gather.Options
}

// NewDiagnosisHandler creates the diagnosis handler.
func NewDiagnosisHandler(d Deps) *DiagnosisHandler {
	return &DiagnosisHandler{llm: d.LLM, facts: d.Facts, opts: d.Gather}
}

func (h *DiagnosisHandler) Name() string { return routing.HandlerDiagnosis }

func (h *DiagnosisHandler) Handle(ctx context.Context, req *workflow.Request, st *workflow.State) error {
	if h.llm == nil {
		return ErrNoModel
	}

	symptoms := mergeSymptoms(st.Entities().Strings("symptoms"), st.Caller().RecentSymptomNames())

	external := "No external references requested."
	if len(symptoms) > 0 && h.facts != nil {
		external = gatherFacts(ctx, h.opts, st, h.calls(symptoms)).Describe()
	}

	framing := frame(
		diagnosisFraming,
		describeCaller(st.Caller()),
		fmt.Sprintf("Symptoms: %s\nExternal references:\n%s", joinOrNone(symptoms), external),
	)
	answer, err := h.llm.GenerateText(ctx, framing, req.Message, llm.Style{Tier: llm.TierSmart, Temperature: 0.3})
	if err != nil {
		return fmt.Errorf("diagnosis answer: %w", err)
	}
	st.AppendFragment(answer)
	return nil
}

func (h *DiagnosisHandler) calls(symptoms []string) map[string]gather.Invocation {
	top := symptoms
	if len(top) > maxCodedSymptoms {
		top = top[:maxCodedSymptoms]
	}
	query := strings.Join(top, " ") + " differential diagnosis"
	calls := map[string]gather.Invocation{
		"literature": func(ctx context.Context) (any, error) {
			return h.facts.SearchLiterature(ctx, query, 3)
		},
	}
	for _, s := range top {
		calls["icd10:"+s] = func(ctx context.Context) (any, error) {
			return h.facts.ICD10(ctx, s)
		}
	}
	return calls
}

// mergeSymptoms concatenates symptom lists, dropping case-insensitive duplicates.
func mergeSymptoms(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range lists {
		for _, s := range l {
			key := strings.ToLower(strings.TrimSpace(s))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
