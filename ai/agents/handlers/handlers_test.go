package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/medisense/ai/gather"
	"github.com/hrygo/medisense/ai/medapi"
	"github.com/hrygo/medisense/ai/routing"
	"github.com/hrygo/medisense/ai/workflow"
)

var testGather = gather.Options{PerCallTimeout: time.Second, OverallBudget: 2 * time.Second}

func newState(t *testing.T, intent string, entities workflow.Entities, caller workflow.CallerContext) *workflow.State {
	t.Helper()
	st := workflow.NewState()
	require.NoError(t, st.SetIntent(intent))
	st.SetEntities(entities)
	st.AttachCaller(caller)
	return st
}

func TestDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry(Deps{})
	assert.ElementsMatch(t, routing.Handlers, r.Names())

	h, ok := r.Get(routing.HandlerEmergency)
	require.True(t, ok)
	assert.Equal(t, routing.HandlerEmergency, h.Name())

	_, ok = r.Get("missing")
	assert.False(t, ok)

	_, err := NewRegistry(NewEmergencyHandler(), NewEmergencyHandler())
	assert.Error(t, err)
}

func TestSymptomHandler(t *testing.T) {
	t.Run("extracted data persisted", func(t *testing.T) {
		gen := &fakeGenerator{replies: []string{
			"Analysis: Likely a viral infection.\nExtracted Data: {\"symptoms\": [{\"name\": \"headache\", \"severity\": \"moderate\"}, {\"name\": \"fever\"}], \"vital_signs\": [{\"type\": \"temperature\", \"value\": 38.5, \"unit\": \"C\"}]}\nRecommendations: Rest and fluids.",
		}}
		h := NewSymptomHandler(Deps{LLM: gen})
		st := newState(t, routing.IntentSymptomAnalysis, workflow.Entities{"symptoms": []any{"headache"}}, workflow.CallerContext{
			Allergies: []workflow.Allergy{{Allergen: "penicillin"}},
		})

		require.NoError(t, h.Handle(context.Background(), &workflow.Request{Message: "headache and fever", CallerID: "u"}, st))

		symptoms := st.Persist("symptoms")
		require.Len(t, symptoms, 2)
		assert.Equal(t, "headache", symptoms[0]["name"])
		assert.Equal(t, "moderate", symptoms[0]["severity"])
		require.Len(t, st.Persist("vital_signs"), 1)

		frags := st.Fragments()
		require.Len(t, frags, 1)
		assert.Contains(t, frags[0], "viral infection")
		assert.Contains(t, frags[0], "Rest and fluids")
		assert.NotContains(t, frags[0], "Extracted Data")
		assert.Contains(t, gen.calls[0].framing, "penicillin")
	})

	t.Run("entity fallback", func(t *testing.T) {
		gen := &fakeGenerator{replies: []string{"Drink water and rest."}}
		h := NewSymptomHandler(Deps{LLM: gen})
		st := newState(t, routing.IntentSymptomAnalysis, workflow.Entities{"symptoms": []any{"fever", "cough"}}, workflow.CallerContext{})

		require.NoError(t, h.Handle(context.Background(), &workflow.Request{Message: "fever and cough", CallerID: "u"}, st))
		assert.Equal(t, []workflow.Record{{"name": "fever"}, {"name": "cough"}}, st.Persist("symptoms"))
	})

	t.Run("no model", func(t *testing.T) {
		st := newState(t, routing.IntentSymptomAnalysis, workflow.Entities{"symptoms": []any{"headache"}}, workflow.CallerContext{})
		err := NewSymptomHandler(Deps{}).Handle(context.Background(), &workflow.Request{Message: "x", CallerID: "u"}, st)
		assert.ErrorIs(t, err, ErrNoModel)
		assert.Equal(t, []workflow.Record{{"name": "headache"}}, st.Persist("symptoms"))
	})

	t.Run("model error keeps entity symptoms", func(t *testing.T) {
		st := newState(t, routing.IntentSymptomAnalysis, workflow.Entities{"symptoms": []any{"headache", "fever"}}, workflow.CallerContext{})
		err := NewSymptomHandler(Deps{LLM: &fakeGenerator{err: errors.New("429")}}).
			Handle(context.Background(), &workflow.Request{Message: "headache and fever", CallerID: "u"}, st)
		assert.Error(t, err)
		assert.Empty(t, st.Fragments())
		assert.Equal(t, []workflow.Record{{"name": "headache"}, {"name": "fever"}}, st.Persist("symptoms"))
	})

	t.Run("model error without entities", func(t *testing.T) {
		st := newState(t, routing.IntentSymptomAnalysis, nil, workflow.CallerContext{})
		err := NewSymptomHandler(Deps{LLM: &fakeGenerator{err: errors.New("429")}}).
			Handle(context.Background(), &workflow.Request{Message: "x", CallerID: "u"}, st)
		assert.Error(t, err)
		assert.Empty(t, st.Persist("symptoms"))
	})
}

func TestMedicationHandler(t *testing.T) {
	t.Run("fan out with a failing provider", func(t *testing.T) {
		gen := &fakeGenerator{replies: []string{"Advil is ibuprofen.\nExtracted Data: {\"medications\": [{\"name\": \"Advil\", \"dosage\": \"200mg\"}]}"}}
		facts := &fakeFacts{fail: map[string]error{"rxnorm:Advil": errProvider}}
		h := NewMedicationHandler(Deps{LLM: gen, Facts: facts, Gather: testGather})
		st := newState(t, routing.IntentMedicationQuery, workflow.Entities{"medication": "Advil"}, workflow.CallerContext{
			Allergies: []workflow.Allergy{{Allergen: "ibuprofen"}},
		})

		require.NoError(t, h.Handle(context.Background(), &workflow.Request{Message: "Is Advil safe for me?", CallerID: "u"}, st))

		assert.ElementsMatch(t, []string{"label:Advil", "rxnorm:Advil", "interactions:Advil"}, facts.seen(), "one label fetch serves the safety score")

		calls, ok := st.Meta("external_calls")
		require.True(t, ok)
		assert.Equal(t, map[string]string{
			"fda_label":       "ok",
			"rxnorm":          string(gather.KindProviderError),
			"interactions":    "ok",
			"safety_analysis": "ok",
		}, calls)

		framing := gen.calls[0].framing
		assert.Contains(t, framing, "unavailable")
		assert.Contains(t, framing, medapi.SafetyCaution)

		assert.Equal(t, "Advil", st.Persist("medications")[0]["name"])
		assert.Equal(t, []string{"Advil is ibuprofen."}, st.Fragments())
	})

	t.Run("safety unavailable without label", func(t *testing.T) {
		facts := &fakeFacts{fail: map[string]error{"label:Advil": errProvider}}
		h := NewMedicationHandler(Deps{LLM: &fakeGenerator{}, Facts: facts, Gather: testGather})
		st := newState(t, routing.IntentMedicationQuery, workflow.Entities{"medication": "Advil"}, workflow.CallerContext{})

		require.NoError(t, h.Handle(context.Background(), &workflow.Request{Message: "Is Advil safe?", CallerID: "u"}, st))

		calls, ok := st.Meta("external_calls")
		require.True(t, ok)
		summary := calls.(map[string]string)
		assert.Equal(t, string(gather.KindProviderError), summary["fda_label"])
		assert.Equal(t, string(gather.KindProviderError), summary["safety_analysis"])
		assert.Equal(t, 1, strings.Count(strings.Join(facts.seen(), ","), "label:Advil"))
	})

	t.Run("capitalized token heuristic", func(t *testing.T) {
		facts := &fakeFacts{}
		h := NewMedicationHandler(Deps{LLM: &fakeGenerator{}, Facts: facts, Gather: testGather})
		st := newState(t, routing.IntentMedicationQuery, nil, workflow.CallerContext{})

		require.NoError(t, h.Handle(context.Background(), &workflow.Request{Message: "What is Metformin used for?", CallerID: "u"}, st))
		assert.Contains(t, facts.seen(), "rxnorm:Metformin")
	})

	t.Run("no medication named", func(t *testing.T) {
		facts := &fakeFacts{}
		gen := &fakeGenerator{}
		h := NewMedicationHandler(Deps{LLM: gen, Facts: facts, Gather: testGather})
		st := newState(t, routing.IntentMedicationQuery, nil, workflow.CallerContext{})

		require.NoError(t, h.Handle(context.Background(), &workflow.Request{Message: "can i take it with food", CallerID: "u"}, st))
		assert.Empty(t, facts.seen())
		_, ok := st.Meta("external_calls")
		assert.False(t, ok)
		assert.Equal(t, 1, gen.count())
	})
}

func TestReportHandler(t *testing.T) {
	t.Run("no uploads", func(t *testing.T) {
		gen := &fakeGenerator{}
		st := newState(t, routing.IntentReportAnalysis, nil, workflow.CallerContext{})
		require.NoError(t, NewReportHandler(Deps{LLM: gen}).Handle(context.Background(), &workflow.Request{Message: "analyze my report", CallerID: "u"}, st))
		assert.Equal(t, []string{ReportUploadInstructions}, st.Fragments())
		assert.Equal(t, 0, gen.count())
	})

	caller := workflow.CallerContext{UploadedReports: []workflow.Report{
		{ID: 1, Type: "blood_test", FileName: "cbc.pdf", ExtractedText: "Hemoglobin 11.2"},
		{ID: 2, Type: "xray", FileName: "chest.png"},
	}}

	t.Run("one fragment per report", func(t *testing.T) {
		gen := &fakeGenerator{replies: []string{"first", "second"}}
		st := newState(t, routing.IntentReportAnalysis, nil, caller)
		require.NoError(t, NewReportHandler(Deps{LLM: gen}).Handle(context.Background(), &workflow.Request{Message: "analyze my reports", CallerID: "u"}, st))

		frags := st.Fragments()
		require.Len(t, frags, 2)
		assert.Contains(t, frags[0], "cbc.pdf (blood_test)")
		assert.Contains(t, frags[0], "first")
		assert.Contains(t, frags[1], "second")
		assert.Contains(t, gen.calls[0].user, "Hemoglobin 11.2")
	})

	t.Run("referenced report only", func(t *testing.T) {
		gen := &fakeGenerator{}
		st := newState(t, routing.IntentReportAnalysis, nil, caller)
		require.NoError(t, NewReportHandler(Deps{LLM: gen}).Handle(context.Background(), &workflow.Request{Message: "Explain Report ID: 2", CallerID: "u"}, st))
		require.Len(t, st.Fragments(), 1)
		assert.Contains(t, st.Fragments()[0], "chest.png")
	})
}

func TestDiagnosisHandler(t *testing.T) {
	facts := &fakeFacts{fail: map[string]error{"icd10:nausea": errProvider}}
	gen := &fakeGenerator{replies: []string{"Possibly migraine."}}
	h := NewDiagnosisHandler(Deps{LLM: gen, Facts: facts, Gather: testGather})
	st := newState(t, routing.IntentDiagnosisAssistance,
		workflow.Entities{"symptoms": []any{"headache", "nausea"}},
		workflow.CallerContext{RecentSymptoms: []workflow.SymptomEntry{{Symptom: "Headache"}, {Symptom: "light sensitivity"}, {Symptom: "fatigue"}}},
	)

	require.NoError(t, h.Handle(context.Background(), &workflow.Request{Message: "what could this be?", CallerID: "u"}, st))

	assert.ElementsMatch(t, []string{"literature", "icd10:headache", "icd10:nausea", "icd10:light sensitivity"}, facts.seen())
	assert.Equal(t, []string{"Possibly migraine."}, st.Fragments())
	assert.Contains(t, gen.calls[0].framing, "unavailable")
}

func TestLifestyleHandler(t *testing.T) {
	facts := &fakeFacts{fail: map[string]error{"nutrition:banana": medapi.ErrNotConfigured}}
	gen := &fakeGenerator{}
	h := NewLifestyleHandler(Deps{LLM: gen, Facts: facts, Gather: testGather})
	st := newState(t, routing.IntentLifestyleAdvice, workflow.Entities{"food": []any{"apple", "banana"}}, workflow.CallerContext{HealthGoals: []string{"lose weight"}})

	require.NoError(t, h.Handle(context.Background(), &workflow.Request{Message: "are apples and bananas good snacks", CallerID: "u"}, st))
	assert.ElementsMatch(t, []string{"nutrition:apple", "nutrition:banana"}, facts.seen())
	assert.Contains(t, gen.calls[0].framing, "lose weight")
	assert.Contains(t, gen.calls[0].framing, "unavailable")
}

func TestEmergencyHandler(t *testing.T) {
	st := newState(t, routing.IntentEmergency, nil, workflow.CallerContext{})
	require.NoError(t, NewEmergencyHandler().Handle(context.Background(), &workflow.Request{Message: "help", CallerID: "u"}, st))
	assert.Equal(t, []string{EmergencyDirective}, st.Fragments())
}

func TestGeneralHandler(t *testing.T) {
	history := make([]workflow.Turn, 0, 12)
	for i := range 12 {
		history = append(history, workflow.Turn{Role: "user", Content: fmt.Sprintf("turn-%02d", i)})
	}

	tests := []struct {
		name      string
		intent    string
		degraded  bool
		message   string
		wantFixed bool
		wantModel bool
	}{
		{"non medical", routing.IntentNonMedicalQuery, false, "what's the weather today", true, false},
		{"unknown label no cue", "weather_report", false, "what's the weather today", true, false},
		{"degraded no cue", routing.IntentGeneralMedicalQuery, true, "what's the weather today", true, false},
		{"general medical", routing.IntentGeneralMedicalQuery, false, "is coffee bad for me", false, true},
		{"small talk", routing.IntentSmallTalk, false, "hello", false, true},
		{"unknown label with cue", "vaccine_schedule", false, "when is my next vaccine", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{replies: []string{"model answer"}}
			st := newState(t, tt.intent, nil, workflow.CallerContext{})
			if tt.degraded {
				st.SetMeta("classification_source", routing.SourceDegraded)
			}
			req := &workflow.Request{Message: tt.message, CallerID: "u", History: history}

			require.NoError(t, NewGeneralHandler(Deps{LLM: gen}).Handle(context.Background(), req, st))

			if tt.wantFixed {
				assert.Equal(t, []string{OutOfScopeMessage}, st.Fragments())
			}
			assert.Equal(t, tt.wantModel, gen.count() == 1)
			if tt.wantModel {
				assert.NotContains(t, gen.calls[0].framing, "turn-01")
				assert.Contains(t, gen.calls[0].framing, "turn-02")
				assert.Contains(t, gen.calls[0].framing, "turn-11")
			}
		})
	}
}

func TestSplitExtracted(t *testing.T) {
	tests := []struct {
		name         string
		in           string
		wantAnalysis string
		wantKeys     []string
	}{
		{"no block", "just text", "just text", nil},
		{"block in middle", "A\nExtracted Data: {\"symptoms\": []}\nB", "A\n\nB", []string{"symptoms"}},
		{"braces in strings", "A\nextracted data: {\"note\": \"x } y\"}", "A", []string{"note"}},
		{"malformed", "A\nExtracted Data: {\"symptoms\": [}\nB", "A\n\nB", nil},
		{"unterminated", "A\nExtracted Data: {\"symptoms\": [", "A", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analysis, data := splitExtracted(tt.in)
			assert.Equal(t, tt.wantAnalysis, analysis)
			var keys []string
			for k := range data {
				keys = append(keys, k)
			}
			assert.ElementsMatch(t, tt.wantKeys, keys)
		})
	}
}

func TestGuessMedication(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Can I take Ibuprofen with Tylenol?", "Ibuprofen"},
		{"What does Metformin do", "Metformin"},
		{"what about aspirin", ""},
		{"Should I worry", ""},
		{"Is Zyrtec OK", "Zyrtec"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, guessMedication(tt.in))
		})
	}
}
