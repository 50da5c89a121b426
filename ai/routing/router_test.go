package routing

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_Route(t *testing.T) {
	r := DefaultRouter()

	tests := []struct {
		intent string
		want   string
	}{
		{IntentSymptomAnalysis, HandlerSymptom},
		{IntentHealthTracking, HandlerSymptom},
		{IntentMedicationQuery, HandlerMedication},
		{IntentMedicationInteraction, HandlerMedication},
		{IntentReportAnalysis, HandlerReport},
		{IntentDiagnosisAssistance, HandlerDiagnosis},
		{IntentLifestyleAdvice, HandlerLifestyle},
		{IntentEmergency, HandlerEmergency},
		{IntentGeneralMedicalQuery, HandlerGeneral},
		{IntentSmallTalk, HandlerGeneral},
		{IntentNonMedicalQuery, HandlerGeneral},
		{"astrology_reading", HandlerGeneral},
		{"", HandlerGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.intent, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Route(tt.intent))
			// pure: same input, same output
			assert.Equal(t, r.Route(tt.intent), r.Route(tt.intent))
		})
	}
}

func TestRouter_RejectsUnknownHandler(t *testing.T) {
	_, err := NewRouter(map[string]string{IntentEmergency: "pagerAgent"}, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownHandler))

	_, err = NewRouter(nil, "nobody")
	assert.ErrorIs(t, err, ErrUnknownHandler)
}

func TestRouter_Targets(t *testing.T) {
	assert.ElementsMatch(t, Handlers, DefaultRouter().Targets())
}

func TestParseRouteTable(t *testing.T) {
	data := []byte(`
default: generalAgent
routes:
  treatment_planning: diagnosisAgent
synonyms:
  vitals_update: health_tracking
`)
	r, err := ParseRouteTable(data)
	require.NoError(t, err)

	assert.Equal(t, HandlerDiagnosis, r.Route(IntentTreatmentPlanning))
	assert.Equal(t, HandlerSymptom, r.Route("vitals_update"))
	assert.Equal(t, HandlerEmergency, r.Route(IntentEmergency))
	assert.Equal(t, HandlerGeneral, r.Route("unknown"))
}

func TestParseRouteTable_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad yaml", "routes: [unclosed"},
		{"unknown handler", "routes:\n  emergency: pagerAgent\n"},
		{"dangling synonym", "synonyms:\n  x: not_routed\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRouteTable([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestLoadRouteTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default: generalAgent\n"), 0o600))

	r, err := LoadRouteTable(path)
	require.NoError(t, err)
	assert.Equal(t, HandlerGeneral, r.Default())

	_, err = LoadRouteTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
