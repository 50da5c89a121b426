// Package routing classifies a message into an intent and maps the intent to a handler.
package routing

// Intent labels emitted by the classifier. Any other label is routed by the default edge.
const (
	IntentSymptomAnalysis       = "symptom_analysis"
	IntentHealthTracking        = "health_tracking"
	IntentMedicationQuery       = "medication_query"
	IntentMedicationInteraction = "medication_interaction"
	IntentReportAnalysis        = "report_analysis"
	IntentDiagnosisAssistance   = "diagnosis_assistance"
	IntentTreatmentPlanning     = "treatment_planning"
	IntentLifestyleAdvice       = "lifestyle_advice"
	IntentEmergency             = "emergency"
	IntentGeneralMedicalQuery   = "general_medical_query"
	IntentSmallTalk             = "small_talk"
	IntentDataRetrieval         = "data_retrieval"
	IntentNonMedicalQuery       = "non_medical_query"
)

// Handler names.
const (
	HandlerSymptom    = "symptomAgent"
	HandlerMedication = "medicationAgent"
	HandlerReport     = "reportAgent"
	HandlerDiagnosis  = "diagnosisAgent"
	HandlerLifestyle  = "lifestyleAgent"
	HandlerEmergency  = "emergencyAgent"
	HandlerGeneral    = "generalAgent"
)

// Intents is the closed label set offered to the model, in prompt order.
var Intents = []string{
	IntentSymptomAnalysis,
	IntentHealthTracking,
	IntentMedicationQuery,
	IntentMedicationInteraction,
	IntentReportAnalysis,
	IntentDiagnosisAssistance,
	IntentTreatmentPlanning,
	IntentLifestyleAdvice,
	IntentEmergency,
	IntentGeneralMedicalQuery,
	IntentSmallTalk,
	IntentDataRetrieval,
	IntentNonMedicalQuery,
}

// Handlers lists every handler name the router may select.
var Handlers = []string{
	HandlerSymptom,
	HandlerMedication,
	HandlerReport,
	HandlerDiagnosis,
	HandlerLifestyle,
	HandlerEmergency,
	HandlerGeneral,
}

// IsKnownIntent reports whether label belongs to the closed label set.
func IsKnownIntent(label string) bool {
	for _, i := range Intents {
		if i == label {
			return true
		}
	}
	return false
}

// IsKnownHandler reports whether name is a handler the router may select.
func IsKnownHandler(name string) bool {
	for _, h := range Handlers {
		if h == name {
			return true
		}
	}
	return false
}
