package workflow

// Demographics describes the caller.
type Demographics struct {
	Age       int    `json:"age,omitempty"`
	Gender    string `json:"gender,omitempty"`
	BloodType string `json:"blood_type,omitempty"`
}

// Condition is a known medical condition.
type Condition struct {
	Name          string `json:"name"`
	Status        string `json:"status,omitempty"`
	DiagnosedDate string `json:"diagnosed_date,omitempty"`
}

// Medication is an active medication.
type Medication struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage,omitempty"`
	Frequency string `json:"frequency,omitempty"`
	Purpose   string `json:"purpose,omitempty"`
}

// Allergy is a flagged allergy.
type Allergy struct {
	Allergen string `json:"allergen"`
	Severity string `json:"severity,omitempty"`
	Reaction string `json:"reaction,omitempty"`
}

// SymptomEntry is a recently logged symptom.
type SymptomEntry struct {
	Symptom  string `json:"symptom"`
	Severity string `json:"severity,omitempty"`
	Date     string `json:"date,omitempty"`
}

// VitalEntry is a recent measurement.
type VitalEntry struct {
	Type  string  `json:"type"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
	Date  string  `json:"date,omitempty"`
}

// Report is a previously uploaded document excerpt.
type Report struct {
	ID             int64          `json:"id"`
	Type           string         `json:"type,omitempty"`
	FileName       string         `json:"file_name,omitempty"`
	ExtractedText  string         `json:"extracted_text,omitempty"`
	StructuredData map[string]any `json:"structured_data,omitempty"`
	ReportDate     string         `json:"report_date,omitempty"`
}

// CallerContext is the read-only bundle of facts about the requester.
type CallerContext struct {
	Demographics    Demographics   `json:"demographics"`
	Conditions      []Condition    `json:"conditions,omitempty"`
	Medications     []Medication   `json:"medications,omitempty"`
	Allergies       []Allergy      `json:"allergies,omitempty"`
	RecentSymptoms  []SymptomEntry `json:"recent_symptoms,omitempty"`
	RecentVitals    []VitalEntry   `json:"recent_vitals,omitempty"`
	HealthGoals     []string       `json:"health_goals,omitempty"`
	UploadedReports []Report       `json:"uploaded_reports,omitempty"`
	Memory          []string       `json:"memory,omitempty"`
	Extra           map[string]any `json:"extra,omitempty"`
}

// HasUploadedReports reports whether the caller supplied any documents.
func (c CallerContext) HasUploadedReports() bool {
	return len(c.UploadedReports) > 0
}

// ConditionNames returns the names of known conditions.
func (c CallerContext) ConditionNames() []string {
	names := make([]string, 0, len(c.Conditions))
	for _, cond := range c.Conditions {
		if cond.Name != "" {
			names = append(names, cond.Name)
		}
	}
	return names
}

// AllergenNames returns the flagged allergens.
func (c CallerContext) AllergenNames() []string {
	names := make([]string, 0, len(c.Allergies))
	for _, a := range c.Allergies {
		if a.Allergen != "" {
			names = append(names, a.Allergen)
		}
	}
	return names
}

// MedicationNames returns the names of active medications.
func (c CallerContext) MedicationNames() []string {
	names := make([]string, 0, len(c.Medications))
	for _, m := range c.Medications {
		if m.Name != "" {
			names = append(names, m.Name)
		}
	}
	return names
}

// RecentSymptomNames returns the names of recently logged symptoms.
func (c CallerContext) RecentSymptomNames() []string {
	names := make([]string, 0, len(c.RecentSymptoms))
	for _, s := range c.RecentSymptoms {
		if s.Symptom != "" {
			names = append(names, s.Symptom)
		}
	}
	return names
}

// Merge returns a copy of c where every empty field is filled from other.
// Fields already present in c win.
func (c CallerContext) Merge(other CallerContext) CallerContext {
	out := c.Clone()
	if out.Demographics == (Demographics{}) {
		out.Demographics = other.Demographics
	}
	if len(out.Conditions) == 0 {
		out.Conditions = append([]Condition(nil), other.Conditions...)
	}
	if len(out.Medications) == 0 {
		out.Medications = append([]Medication(nil), other.Medications...)
	}
	if len(out.Allergies) == 0 {
		out.Allergies = append([]Allergy(nil), other.Allergies...)
	}
	if len(out.RecentSymptoms) == 0 {
		out.RecentSymptoms = append([]SymptomEntry(nil), other.RecentSymptoms...)
	}
	if len(out.RecentVitals) == 0 {
		out.RecentVitals = append([]VitalEntry(nil), other.RecentVitals...)
	}
	if len(out.HealthGoals) == 0 {
		out.HealthGoals = append([]string(nil), other.HealthGoals...)
	}
	if len(out.UploadedReports) == 0 {
		out.UploadedReports = append([]Report(nil), other.UploadedReports...)
	}
	if len(out.Memory) == 0 {
		out.Memory = append([]string(nil), other.Memory...)
	}
	for k, v := range other.Extra {
		if out.Extra == nil {
			out.Extra = make(map[string]any)
		}
		if _, ok := out.Extra[k]; !ok {
			out.Extra[k] = v
		}
	}
	return out
}

// Clone returns a copy that shares no slices or maps with c.
func (c CallerContext) Clone() CallerContext {
	out := CallerContext{
		Demographics:    c.Demographics,
		Conditions:      append([]Condition(nil), c.Conditions...),
		Medications:     append([]Medication(nil), c.Medications...),
		Allergies:       append([]Allergy(nil), c.Allergies...),
		RecentSymptoms:  append([]SymptomEntry(nil), c.RecentSymptoms...),
		RecentVitals:    append([]VitalEntry(nil), c.RecentVitals...),
		HealthGoals:     append([]string(nil), c.HealthGoals...),
		UploadedReports: append([]Report(nil), c.UploadedReports...),
		Memory:          append([]string(nil), c.Memory...),
	}
	if c.Extra != nil {
		out.Extra = make(map[string]any, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = v
		}
	}
	return out
}
