package store

// Health record categories. The first three match the data-to-persist categories the
// handlers produce; conditions and allergies are maintained through the caller profile.
const (
	CategorySymptom     = "symptoms"
	CategoryVitalSign   = "vital_signs"
	CategoryMedication  = "medications"
	CategoryCondition   = "conditions"
	CategoryAllergy     = "allergies"
	CategoryObservation = "observations"
)

// Record statuses.
const (
	StatusActive   = "active"
	StatusResolved = "resolved"
)

// Caller is the stored profile of a requester.
type Caller struct {
	ID          string
	Gender      string
	BloodType   string
	HealthGoals []string
	Memory      []string
	Age         int
	CreatedTs   int64
	UpdatedTs   int64
}

// HealthRecord is one fact about a caller: a symptom, a vital sign, a medication,
// a condition, an allergy or a free-form observation.
type HealthRecord struct {
	Payload        map[string]any
	CallerID       string
	Category       string
	Name           string
	Status         string
	ConversationID string
	ID             int64
	RecordedTs     int64
}

type FindHealthRecord struct {
	Status     *string
	CallerID   string
	Categories []string
	// Limit applies per query, newest first. Zero means no limit.
	Limit int
}

type DeleteHealthRecord struct {
	CallerID string
	Category string
}

// Report is an uploaded document with its already extracted text.
type Report struct {
	StructuredData map[string]any
	CallerID       string
	Type           string
	FileName       string
	ExtractedText  string
	ReportDate     string
	ID             int64
	CreatedTs      int64
}

type FindReport struct {
	CallerID string
	IDs      []int64
	Limit    int
}
