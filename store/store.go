package store

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/medisense/ai/workflow"
	"github.com/hrygo/medisense/internal/profile"
)

const (
	recentSymptomLimit = 10
	recentVitalLimit   = 10
	recentReportLimit  = 5
)

// ErrConversationOwner is returned when a conversation uid belongs to another caller.
var ErrConversationOwner = errors.New("conversation belongs to another caller")

// Store provides database access to callers, health records, reports and conversations.
type Store struct {
	profile *profile.Profile
	driver  Driver
	now     func() time.Time
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
		now:     time.Now,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// ============================================================================
// Caller context
// ============================================================================

// FetchCallerContext assembles the stored facts about a caller. Referenced reports are
// returned when any of reportIDs match; otherwise the most recent reports are.
// An unknown caller yields an empty context.
func (s *Store) FetchCallerContext(ctx context.Context, callerID string, reportIDs []int64) (workflow.CallerContext, error) {
	var out workflow.CallerContext

	caller, err := s.driver.GetCaller(ctx, callerID)
	if err != nil {
		return out, errors.Wrap(err, "failed to get caller")
	}
	if caller != nil {
		out.Demographics = workflow.Demographics{Age: caller.Age, Gender: caller.Gender, BloodType: caller.BloodType}
		out.HealthGoals = caller.HealthGoals
		out.Memory = caller.Memory
	}

	active := StatusActive
	records, err := s.driver.ListHealthRecords(ctx, &FindHealthRecord{
		CallerID:   callerID,
		Status:     &active,
		Categories: []string{CategoryCondition, CategoryMedication, CategoryAllergy},
	})
	if err != nil {
		return out, errors.Wrap(err, "failed to list health records")
	}
	for _, r := range records {
		switch r.Category {
		case CategoryCondition:
			out.Conditions = append(out.Conditions, workflow.Condition{
				Name:          r.Name,
				Status:        r.Status,
				DiagnosedDate: payloadString(r.Payload, "diagnosed_date"),
			})
		case CategoryMedication:
			out.Medications = append(out.Medications, workflow.Medication{
				Name:      r.Name,
				Dosage:    payloadString(r.Payload, "dosage"),
				Frequency: payloadString(r.Payload, "frequency"),
				Purpose:   payloadString(r.Payload, "purpose"),
			})
		case CategoryAllergy:
			out.Allergies = append(out.Allergies, workflow.Allergy{
				Allergen: r.Name,
				Severity: payloadString(r.Payload, "severity"),
				Reaction: payloadString(r.Payload, "reaction"),
			})
		}
	}

	symptoms, err := s.driver.ListHealthRecords(ctx, &FindHealthRecord{
		CallerID:   callerID,
		Categories: []string{CategorySymptom},
		Limit:      recentSymptomLimit,
	})
	if err != nil {
		return out, errors.Wrap(err, "failed to list symptoms")
	}
	for _, r := range symptoms {
		out.RecentSymptoms = append(out.RecentSymptoms, workflow.SymptomEntry{
			Symptom:  r.Name,
			Severity: payloadString(r.Payload, "severity"),
			Date:     formatDate(r.RecordedTs),
		})
	}

	vitals, err := s.driver.ListHealthRecords(ctx, &FindHealthRecord{
		CallerID:   callerID,
		Categories: []string{CategoryVitalSign},
		Limit:      recentVitalLimit,
	})
	if err != nil {
		return out, errors.Wrap(err, "failed to list vital signs")
	}
	for _, r := range vitals {
		out.RecentVitals = append(out.RecentVitals, workflow.VitalEntry{
			Type:  r.Name,
			Value: payloadFloat(r.Payload, "value"),
			Unit:  payloadString(r.Payload, "unit"),
			Date:  formatDate(r.RecordedTs),
		})
	}

	reports, err := s.referencedReports(ctx, callerID, reportIDs)
	if err != nil {
		return out, err
	}
	for _, r := range reports {
		out.UploadedReports = append(out.UploadedReports, workflow.Report{
			ID:             r.ID,
			Type:           r.Type,
			FileName:       r.FileName,
			ExtractedText:  r.ExtractedText,
			StructuredData: r.StructuredData,
			ReportDate:     r.ReportDate,
		})
	}
	return out, nil
}

func (s *Store) referencedReports(ctx context.Context, callerID string, ids []int64) ([]*Report, error) {
	if len(ids) > 0 {
		reports, err := s.driver.ListReports(ctx, &FindReport{CallerID: callerID, IDs: ids})
		if err != nil {
			return nil, errors.Wrap(err, "failed to list referenced reports")
		}
		if len(reports) > 0 {
			return reports, nil
		}
	}
	reports, err := s.driver.ListReports(ctx, &FindReport{CallerID: callerID, Limit: recentReportLimit})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list reports")
	}
	return reports, nil
}

// SaveCallerProfile stores demographics, goals and memory, and replaces the caller's
// conditions, allergies and medications with the ones given. Empty lists leave the
// stored ones untouched.
func (s *Store) SaveCallerProfile(ctx context.Context, callerID string, cc workflow.CallerContext) error {
	now := s.now().Unix()
	if err := s.driver.UpsertCaller(ctx, &Caller{
		ID:          callerID,
		Age:         cc.Demographics.Age,
		Gender:      cc.Demographics.Gender,
		BloodType:   cc.Demographics.BloodType,
		HealthGoals: cc.HealthGoals,
		Memory:      cc.Memory,
		CreatedTs:   now,
		UpdatedTs:   now,
	}); err != nil {
		return errors.Wrap(err, "failed to upsert caller")
	}

	replace := map[string][]*HealthRecord{}
	for _, c := range cc.Conditions {
		status := c.Status
		if status == "" {
			status = StatusActive
		}
		replace[CategoryCondition] = append(replace[CategoryCondition], &HealthRecord{
			Name:    c.Name,
			Status:  status,
			Payload: compactPayload(map[string]any{"diagnosed_date": c.DiagnosedDate}),
		})
	}
	for _, a := range cc.Allergies {
		replace[CategoryAllergy] = append(replace[CategoryAllergy], &HealthRecord{
			Name:    a.Allergen,
			Payload: compactPayload(map[string]any{"severity": a.Severity, "reaction": a.Reaction}),
		})
	}
	for _, m := range cc.Medications {
		replace[CategoryMedication] = append(replace[CategoryMedication], &HealthRecord{
			Name:    m.Name,
			Payload: compactPayload(map[string]any{"dosage": m.Dosage, "frequency": m.Frequency, "purpose": m.Purpose}),
		})
	}

	for _, category := range []string{CategoryCondition, CategoryAllergy, CategoryMedication} {
		records := replace[category]
		if len(records) == 0 {
			continue
		}
		if err := s.driver.DeleteHealthRecords(ctx, &DeleteHealthRecord{CallerID: callerID, Category: category}); err != nil {
			return errors.Wrapf(err, "failed to clear %s", category)
		}
		for _, r := range records {
			r.CallerID = callerID
			r.Category = category
			r.RecordedTs = now
			if r.Status == "" {
				r.Status = StatusActive
			}
		}
		if err := s.driver.CreateHealthRecords(ctx, records); err != nil {
			return errors.Wrapf(err, "failed to save %s", category)
		}
	}
	return nil
}

// AddReport stores an uploaded report whose text was already extracted.
func (s *Store) AddReport(ctx context.Context, callerID string, r workflow.Report) (*Report, error) {
	if strings.TrimSpace(r.ExtractedText) == "" && len(r.StructuredData) == 0 {
		return nil, errors.New("report has no content")
	}
	return s.driver.CreateReport(ctx, &Report{
		CallerID:       callerID,
		Type:           r.Type,
		FileName:       r.FileName,
		ExtractedText:  r.ExtractedText,
		StructuredData: r.StructuredData,
		ReportDate:     r.ReportDate,
		CreatedTs:      s.now().Unix(),
	})
}

// ============================================================================
// Extracted data
// ============================================================================

// Persist writes the data a run extracted. Known categories map to their own record
// kind; anything else is kept as an observation tagged with its category. Records
// without a usable name are skipped. It returns the number of stored records.
func (s *Store) Persist(ctx context.Context, data map[string][]workflow.Record, callerID, conversationID string) (int, error) {
	now := s.now().Unix()
	var records []*HealthRecord

	categories := make([]string, 0, len(data))
	for category := range data {
		categories = append(categories, category)
	}
	slices.Sort(categories)

	for _, category := range categories {
		for _, rec := range data[category] {
			hr := toHealthRecord(category, rec)
			if hr == nil {
				continue
			}
			hr.CallerID = callerID
			hr.ConversationID = conversationID
			hr.RecordedTs = now
			records = append(records, hr)
		}
	}
	if len(records) == 0 {
		return 0, nil
	}
	if err := s.driver.CreateHealthRecords(ctx, records); err != nil {
		return 0, errors.Wrap(err, "failed to persist extracted data")
	}
	return len(records), nil
}

func toHealthRecord(category string, rec workflow.Record) *HealthRecord {
	payload := make(map[string]any, len(rec))
	for k, v := range rec {
		payload[k] = v
	}

	var name string
	switch category {
	case CategorySymptom:
		name = firstString(rec, "name", "symptom")
	case CategoryVitalSign:
		name = firstString(rec, "type", "name")
	case CategoryMedication, CategoryCondition:
		name = firstString(rec, "name")
	case CategoryAllergy:
		name = firstString(rec, "allergen", "name")
	default:
		payload["category"] = category
		category = CategoryObservation
		name = firstString(rec, "name", "type")
		if name == "" {
			name = payload["category"].(string)
		}
	}
	if name == "" {
		return nil
	}
	return &HealthRecord{
		Category: category,
		Name:     name,
		Status:   StatusActive,
		Payload:  payload,
	}
}

// ============================================================================
// Conversations
// ============================================================================

// GetOrCreateConversation returns the conversation with uid, creating it for callerID
// when it does not exist.
func (s *Store) GetOrCreateConversation(ctx context.Context, uid, callerID, title string) (*Conversation, error) {
	list, err := s.driver.ListConversations(ctx, &FindConversation{UID: &uid})
	if err != nil {
		return nil, errors.Wrap(err, "failed to find conversation")
	}
	if len(list) > 0 {
		if list[0].CallerID != callerID {
			return nil, ErrConversationOwner
		}
		return list[0], nil
	}
	now := s.now().Unix()
	return s.driver.CreateConversation(ctx, &Conversation{
		UID:       uid,
		CallerID:  callerID,
		Title:     title,
		CreatedTs: now,
		UpdatedTs: now,
	})
}

// GetConversation returns nil when no conversation has uid.
func (s *Store) GetConversation(ctx context.Context, uid string) (*Conversation, error) {
	list, err := s.driver.ListConversations(ctx, &FindConversation{UID: &uid})
	if err != nil {
		return nil, errors.Wrap(err, "failed to find conversation")
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// AppendMessage stores one message and bumps the conversation's update time.
func (s *Store) AppendMessage(ctx context.Context, conversationID int32, role, content string, metadata map[string]any) (*Message, error) {
	now := s.now().Unix()
	msg, err := s.driver.CreateMessage(ctx, &Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Metadata:       metadata,
		CreatedTs:      now,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create message")
	}
	if err := s.driver.TouchConversation(ctx, conversationID, now); err != nil {
		return nil, errors.Wrap(err, "failed to touch conversation")
	}
	return msg, nil
}

// ListMessages returns the latest limit messages, oldest first. Zero means all.
func (s *Store) ListMessages(ctx context.Context, conversationID int32, limit int) ([]*Message, error) {
	return s.driver.ListMessages(ctx, &FindMessage{ConversationID: conversationID, Limit: limit})
}

// ListHistory returns the latest limit messages as engine turns.
func (s *Store) ListHistory(ctx context.Context, conversationID int32, limit int) ([]workflow.Turn, error) {
	messages, err := s.ListMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}
	turns := make([]workflow.Turn, 0, len(messages))
	for _, m := range messages {
		turns = append(turns, workflow.Turn{Role: m.Role, Content: m.Content})
	}
	return turns, nil
}

// ============================================================================
// Helpers
// ============================================================================

func firstString(rec workflow.Record, keys ...string) string {
	for _, k := range keys {
		if s, ok := rec[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func payloadString(p map[string]any, key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func payloadFloat(p map[string]any, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f
	}
	return 0
}

func compactPayload(p map[string]any) map[string]any {
	for k, v := range p {
		if s, ok := v.(string); ok && s == "" {
			delete(p, k)
		}
	}
	return p
}

func formatDate(ts int64) string {
	if ts == 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format("2006-01-02")
}
