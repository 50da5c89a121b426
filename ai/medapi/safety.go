package medapi

import "strings"

// Safety scores.
const (
	SafetySafe     = "SAFE"
	SafetyCaution  = "CAUTION"
	SafetyHighRisk = "HIGH_RISK"
)

// SafetyReport is the allergy and condition screening of one drug label.
type SafetyReport struct {
	DrugName          string   `json:"drug_name"`
	Score             string   `json:"safety_score"`
	AllergyWarnings   []string `json:"allergy_warnings"`
	ConditionWarnings []string `json:"condition_warnings"`
	Recommendation    string   `json:"overall_recommendation"`
}

// AnalyzeSafety screens a label against the caller's allergies and conditions.
// A nil label yields a SAFE report with a recommendation to check with a clinician.
func AnalyzeSafety(drugName string, label *DrugLabel, allergies, conditions []string) SafetyReport {
	r := SafetyReport{
		DrugName:          drugName,
		AllergyWarnings:   []string{},
		ConditionWarnings: []string{},
	}
	if label != nil {
		ingredient := strings.ToLower(label.ActiveIngredient)
		for _, a := range allergies {
			if a = strings.TrimSpace(a); a != "" && strings.Contains(ingredient, strings.ToLower(a)) {
				r.AllergyWarnings = append(r.AllergyWarnings, "WARNING: Active ingredient may contain "+a)
			}
		}
		warnings := strings.ToLower(label.Warnings)
		for _, c := range conditions {
			if c = strings.TrimSpace(c); c != "" && strings.Contains(warnings, strings.ToLower(c)) {
				r.ConditionWarnings = append(r.ConditionWarnings, "CAUTION: May have contraindications with "+c)
			}
		}
	}

	switch total := len(r.AllergyWarnings) + len(r.ConditionWarnings); {
	case total == 0:
		r.Score = SafetySafe
	case total <= 2:
		r.Score = SafetyCaution
	default:
		r.Score = SafetyHighRisk
	}

	switch {
	case len(r.AllergyWarnings) > 0:
		r.Recommendation = "DO NOT TAKE - Potential allergy risk. Consult your doctor immediately."
	case len(r.ConditionWarnings) > 0:
		r.Recommendation = "CAUTION - May interact with your medical conditions. Consult your doctor before use."
	default:
		r.Recommendation = "No immediate contraindications found, but always consult your healthcare provider."
	}
	return r
}
