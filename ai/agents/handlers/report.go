package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hrygo/medisense/ai/core/llm"
	"github.com/hrygo/medisense/ai/routing"
	"github.com/hrygo/medisense/ai/workflow"
)

// ReportHandler explains uploaded reports, one fragment per report.
type ReportHandler struct {
	llm llm.Generator
}

// NewReportHandler creates the report handler.
func NewReportHandler(d Deps) *ReportHandler {
	return &ReportHandler{llm: d.LLM}
}

func (h *ReportHandler) Name() string { return routing.HandlerReport }

func (h *ReportHandler) Handle(ctx context.Context, req *workflow.Request, st *workflow.State) error {
	reports := selectReports(st.Caller().UploadedReports, workflow.ParseReportIDs(req.Message))
	if len(reports) == 0 {
		st.AppendFragment(ReportUploadInstructions)
		return nil
	}
	if h.llm == nil {
		return ErrNoModel
	}

	framing := frame(reportFraming, describeCaller(st.Caller()))
	for _, r := range reports {
		answer, err := h.llm.GenerateText(ctx, framing, describeReport(r, req.Message), llm.Style{Tier: llm.TierSmart, Temperature: 0.2})
		if err != nil {
			return fmt.Errorf("report %d analysis: %w", r.ID, err)
		}
		st.AppendFragment(fmt.Sprintf("Report %s:\n%s", reportTitle(r), strings.TrimSpace(answer)))
	}
	return nil
}

// selectReports keeps the referenced reports, or all of them when none is referenced
// or no reference matches.
func selectReports(all []workflow.Report, ids []int64) []workflow.Report {
	if len(ids) == 0 {
		return all
	}
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []workflow.Report
	for _, r := range all {
		if want[r.ID] {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return all
	}
	return out
}

func reportTitle(r workflow.Report) string {
	name := r.FileName
	if name == "" {
		name = fmt.Sprintf("#%d", r.ID)
	}
	var details []string
	if r.Type != "" {
		details = append(details, r.Type)
	}
	if r.ReportDate != "" {
		details = append(details, r.ReportDate)
	}
	if len(details) > 0 {
		name += " (" + strings.Join(details, ", ") + ")"
	}
	return name
}

func describeReport(r workflow.Report, question string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Report type: %s\nFile name: %s\n", orNone(r.Type), orNone(r.FileName))
	if r.ReportDate != "" {
		fmt.Fprintf(&b, "Report date: %s\n", r.ReportDate)
	}
	fmt.Fprintf(&b, "\nExtracted text:\n%s\n", orNone(r.ExtractedText))
	if len(r.StructuredData) > 0 {
		if data, err := json.Marshal(r.StructuredData); err == nil {
			fmt.Fprintf(&b, "\nStructured data:\n%s\n", data)
		}
	}
	fmt.Fprintf(&b, "\nUser question: %s", question)
	return b.String()
}
