package routing

import (
	"strings"
	"unicode"

	"github.com/hrygo/medisense/ai/workflow"
)

// Terms match whole words, with an optional plural "s" or "es". A trailing "*" marks a
// stem that matches any word starting with it.
var (
	// distressPhrases describe an emergency in progress on their own.
	distressPhrases = []string{
		"can't breathe", "cannot breathe", "can not breathe", "unable to breathe", "not breathing",
		"unconscious", "unresponsive", "severe bleeding", "bleeding heavily", "overdosed",
		"suicidal", "kill myself",
	}
	// acuteEvents only count together with an acuteCue ("I'm having a stroke"), so
	// questions about them reach the model.
	acuteEvents   = []string{"stroke", "heart attack", "overdose", "seizure"}
	acuteCues     = []string{"i'm having", "i am having", "im having", "is having", "having a", "just had", "i took", "took too many"}
	breathingCues = []string{"breath", "breathe", "breathing", "short of breath"}

	symptomTerms = []string{
		"headache", "migraine", "fever", "cough", "nausea", "vomiting", "diarrhea",
		"dizziness", "dizzy", "fatigue", "tired", "rash", "chills", "sore throat",
		"runny nose", "congestion", "shortness of breath", "chest pain", "back pain",
		"stomach ache", "stomachache", "cramps", "insomnia", "itching", "swelling", "pain",
	}

	medicationCues   = []string{"medication", "medicine", "drug", "pill", "tablet", "dose", "dosage", "side effect", "prescription", "antibiotic"}
	interactionCues  = []string{"interact*", "together with", "combin*", "mix with", "at the same time"}
	diagnosisCues    = []string{"diagnos*", "what could", "what do i have", "cause of", "causing", "differential"}
	trackingCues     = []string{"log", "logged", "track*", "record*", "blood pressure", "heart rate", "glucose", "blood sugar", "my weight", "temperature was"}
	lifestyleCues    = []string{"diet", "exercise", "exercising", "workout", "sleep*", "nutrition", "calorie", "eat", "eating", "food", "lose weight", "meal"}
	treatmentCues    = []string{"treatment plan", "treat", "therapy", "how to cure", "manage my"}
	retrievalCues    = []string{"my history", "show my", "previous symptoms", "past records", "what did i log"}
	reportCues       = []string{"lab result", "test result", "blood test", "my report", "x-ray", "mri", "scan result"}
	smallTalkPhrases = []string{"hi", "hello", "hey", "thanks", "thank you", "good morning", "good evening", "bye"}
	medicalCues      = []string{
		"health", "doctor", "symptom", "medical", "hospital", "disease", "condition", "clinic",
		"nurse", "vaccin*", "allerg*", "infection", "blood", "injur*", "sick", "ill",
	}
)

// KeywordClassifier resolves intents from vocabulary alone. It backs the classifier
// when no model is configured.
type KeywordClassifier struct{}

// Classify returns the intent and any symptom entities found in text.
func (KeywordClassifier) Classify(text string) (string, workflow.Entities) {
	padded := padWords(text)
	entities := workflow.Entities{}

	symptoms := matchTerms(padded, symptomTerms)
	if len(symptoms) > 0 {
		list := make([]any, len(symptoms))
		for i, s := range symptoms {
			list[i] = s
		}
		entities["symptoms"] = list
	}

	switch {
	case IsEmergency(text):
		return IntentEmergency, entities
	case hasAny(padded, medicationCues) && hasAny(padded, interactionCues):
		return IntentMedicationInteraction, entities
	case hasAny(padded, medicationCues):
		return IntentMedicationQuery, entities
	case hasAny(padded, reportCues):
		return IntentReportAnalysis, entities
	case hasAny(padded, retrievalCues):
		return IntentDataRetrieval, entities
	case hasAny(padded, trackingCues):
		return IntentHealthTracking, entities
	case len(symptoms) > 0 && hasAny(padded, diagnosisCues):
		return IntentDiagnosisAssistance, entities
	case len(symptoms) > 0:
		return IntentSymptomAnalysis, entities
	case hasAny(padded, treatmentCues):
		return IntentTreatmentPlanning, entities
	case hasAny(padded, lifestyleCues):
		return IntentLifestyleAdvice, entities
	case isSmallTalk(padded):
		return IntentSmallTalk, entities
	case HasMedicalCue(text):
		return IntentGeneralMedicalQuery, entities
	default:
		return IntentNonMedicalQuery, entities
	}
}

// IsEmergency reports whether text describes an emergency in progress: a distress
// phrase, an acute event with a first-person or present cue, or chest pain together
// with breathing difficulty. Questions that only name an event are not emergencies.
func IsEmergency(text string) bool {
	padded := padWords(text)
	switch {
	case hasAny(padded, distressPhrases):
		return true
	case hasAny(padded, acuteEvents) && hasAny(padded, acuteCues):
		return true
	default:
		return hasTerm(padded, "chest pain") && hasAny(padded, breathingCues)
	}
}

// HasMedicalCue reports whether text mentions anything health related.
func HasMedicalCue(text string) bool {
	padded := padWords(text)
	return hasAny(padded, medicalCues) ||
		hasAny(padded, symptomTerms) ||
		hasAny(padded, medicationCues) ||
		hasAny(padded, reportCues) ||
		hasAny(padded, trackingCues) ||
		hasAny(padded, lifestyleCues)
}

// padWords lowercases text and rebuilds it as single-space separated words with a
// leading and trailing space, so terms match on word boundaries.
func padWords(text string) string {
	text = strings.ReplaceAll(strings.ToLower(text), "’", "'")
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	})
	return " " + strings.Join(fields, " ") + " "
}

func hasAny(padded string, terms []string) bool {
	for _, t := range terms {
		if hasTerm(padded, t) {
			return true
		}
	}
	return false
}

// hasTerm matches t as whole words in padded ("pain" matches "pains" but not
// "painting"). A trailing "*" turns t into a stem.
func hasTerm(padded, t string) bool {
	if stem, ok := strings.CutSuffix(t, "*"); ok {
		return strings.Contains(padded, " "+stem)
	}
	for _, suffix := range []string{" ", "s ", "es "} {
		if strings.Contains(padded, " "+t+suffix) {
			return true
		}
	}
	return false
}

// matchTerms returns matched terms in vocabulary order, skipping terms already covered
// by a longer match ("chest pain" suppresses "pain").
func matchTerms(padded string, terms []string) []string {
	var out []string
	for _, t := range terms {
		if !hasTerm(padded, t) {
			continue
		}
		covered := false
		for _, m := range out {
			if strings.Contains(m, t) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, t)
		}
	}
	return out
}

func isSmallTalk(padded string) bool {
	trimmed := strings.TrimSpace(padded)
	if len(strings.Fields(trimmed)) > 4 {
		return false
	}
	for _, p := range smallTalkPhrases {
		if trimmed == p || strings.HasPrefix(trimmed, p+" ") {
			return true
		}
	}
	return false
}
