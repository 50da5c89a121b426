package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/medisense/ai/workflow"
	"github.com/hrygo/medisense/internal/profile"
	"github.com/hrygo/medisense/plugin/webhook"
	"github.com/hrygo/medisense/server"
	apiv1 "github.com/hrygo/medisense/server/router/api/v1"
	"github.com/hrygo/medisense/store"
	"github.com/hrygo/medisense/store/db"
)

type fakeEngine struct {
	mu       sync.Mutex
	requests []*workflow.Request
	err      error
	intent   string
}

func (f *fakeEngine) Run(_ context.Context, req *workflow.Request) (*workflow.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	intent := f.intent
	if intent == "" {
		intent = "symptom_report"
	}
	return &workflow.Result{
		FinalResponse: "Rest and drink fluids.",
		Intent:        intent,
		Path:          []string{"classify", "attachContext", "symptomAgent", "dataLogger", "responseSynthesizer"},
		DataToPersist: map[string][]workflow.Record{"symptoms": {{"name": "headache"}}},
		Metadata:      map[string]any{"handler": "symptomAgent", "run_id": "run-1"},
	}, nil
}

func (f *fakeEngine) last() *workflow.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestServer(t *testing.T, engine apiv1.Engine, opts ...func(*profile.Profile)) (http.Handler, *store.Store) {
	t.Helper()
	p := &profile.Profile{
		Mode:                  "dev",
		Driver:                "sqlite",
		DSN:                   filepath.Join(t.TempDir(), "server_test.db"),
		RequestTimeoutSeconds: 5,
	}
	for _, opt := range opts {
		opt(p)
	}
	driver, err := db.NewDBDriver(p)
	require.NoError(t, err)
	st := store.New(driver, p)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	s, err := server.NewServer(context.Background(), p, st, server.Options{Engine: engine, Metrics: promhttp.Handler()})
	require.NoError(t, err)
	return s.Handler(), st
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSendMessageFlow(t *testing.T) {
	engine := &fakeEngine{}
	h, st := newTestServer(t, engine)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/chat/message", map[string]any{
		"caller_id": "c1",
		"message":   "I have a headache",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp apiv1.SendMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ConversationID)
	assert.Equal(t, "Rest and drink fluids.", resp.Response)
	assert.Equal(t, "symptom_report", resp.Intent)
	assert.Equal(t, 1, resp.Persisted)
	assert.Empty(t, engine.last().History)

	// Second turn with history sees the first exchange only.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/chat/message", map[string]any{
		"caller_id":       "c1",
		"message":         "It is getting worse",
		"conversation_id": resp.ConversationID,
		"include_history": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []workflow.Turn{
		{Role: store.RoleUser, Content: "I have a headache"},
		{Role: store.RoleAssistant, Content: "Rest and drink fluids."},
	}, engine.last().History)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/chat/conversations/"+resp.ConversationID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var conv apiv1.ConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.Equal(t, "c1", conv.CallerID)
	assert.Equal(t, "I have a headache", conv.Title)
	require.Len(t, conv.Messages, 4)
	assert.Equal(t, "symptom_report", conv.Messages[1].Metadata[store.MetadataKeyIntent])
	assert.Equal(t, "symptomAgent", conv.Messages[1].Metadata[store.MetadataKeyHandler])

	cc, err := st.FetchCallerContext(context.Background(), "c1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"headache", "headache"}, cc.RecentSymptomNames())
}

func TestSendMessageErrors(t *testing.T) {
	tests := []struct {
		name   string
		engine *fakeEngine
		body   map[string]any
		want   int
	}{
		{name: "missing caller", engine: &fakeEngine{}, body: map[string]any{"message": "hi"}, want: http.StatusBadRequest},
		{name: "blank message", engine: &fakeEngine{}, body: map[string]any{"caller_id": "c1", "message": "  "}, want: http.StatusBadRequest},
		{name: "invalid request", engine: &fakeEngine{err: workflow.ErrInvalidRequest}, body: map[string]any{"caller_id": "c1", "message": "hi"}, want: http.StatusBadRequest},
		{name: "timeout", engine: &fakeEngine{err: context.DeadlineExceeded}, body: map[string]any{"caller_id": "c1", "message": "hi"}, want: http.StatusGatewayTimeout},
		{name: "engine failure", engine: &fakeEngine{err: errors.New("boom")}, body: map[string]any{"caller_id": "c1", "message": "hi"}, want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestServer(t, tt.engine)
			rec := doJSON(t, h, http.MethodPost, "/api/v1/chat/message", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestConversationOwnership(t *testing.T) {
	h, _ := newTestServer(t, &fakeEngine{})
	rec := doJSON(t, h, http.MethodPost, "/api/v1/chat/message", map[string]any{
		"caller_id": "c1", "message": "hello", "conversation_id": "shared",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/chat/message", map[string]any{
		"caller_id": "c2", "message": "hello", "conversation_id": "shared",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/chat/conversations/shared?caller_id=c2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(t, h, http.MethodGet, "/api/v1/chat/conversations/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCallerEndpoints(t *testing.T) {
	h, _ := newTestServer(t, &fakeEngine{})

	rec := doJSON(t, h, http.MethodPut, "/api/v1/callers/c1", workflow.CallerContext{
		Demographics: workflow.Demographics{Age: 30},
		Allergies:    []workflow.Allergy{{Allergen: "latex"}},
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodPost, "/api/v1/callers/c1/reports", workflow.Report{Type: "lab", ExtractedText: "HbA1c 6.1%"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created apiv1.CreateReportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Positive(t, created.ID)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/callers/c1/reports", workflow.Report{Type: "lab"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/callers/c1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cc workflow.CallerContext
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cc))
	assert.Equal(t, 30, cc.Demographics.Age)
	assert.Equal(t, []string{"latex"}, cc.AllergenNames())
	require.Len(t, cc.UploadedReports, 1)
	assert.Equal(t, created.ID, cc.UploadedReports[0].ID)
}

func TestHealthAndMetrics(t *testing.T) {
	h, _ := newTestServer(t, &fakeEngine{})

	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = doJSON(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConversationTitleMasksIdentifiers(t *testing.T) {
	h, _ := newTestServer(t, &fakeEngine{})
	rec := doJSON(t, h, http.MethodPost, "/api/v1/chat/message", map[string]any{
		"caller_id":       "c1",
		"message":         "Please email my results to jane.doe@example.com",
		"conversation_id": "titled",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/chat/conversations/titled", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var conv apiv1.ConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.NotContains(t, conv.Title, "jane.doe@example.com")
	assert.Contains(t, conv.Title, "Please email my results to")

	require.Len(t, conv.Messages, 2)
	assert.Equal(t, store.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "Please email my results to jane.doe@example.com", conv.Messages[0].Content, "stored text is not masked")
	assert.Equal(t, true, conv.Messages[0].Metadata[store.MetadataKeyContainsIdentifiers])
	assert.NotContains(t, conv.Messages[1].Metadata, store.MetadataKeyContainsIdentifiers)
}

func TestEmergencyWebhook(t *testing.T) {
	alerts := make(chan webhook.AlertPayload, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload webhook.AlertPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err == nil {
			alerts <- payload
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	h, _ := newTestServer(t, &fakeEngine{intent: "emergency"}, func(p *profile.Profile) {
		p.EmergencyWebhookURL = hook.URL
	})
	rec := doJSON(t, h, http.MethodPost, "/api/v1/chat/message", map[string]any{
		"caller_id":       "caller-9",
		"message":         "crushing chest pain",
		"conversation_id": "conv-emergency",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	select {
	case payload := <-alerts:
		assert.Equal(t, webhook.ActivityTypeEmergency, payload.ActivityType)
		assert.Equal(t, "caller-9", payload.CallerID)
		assert.Equal(t, "conv-emergency", payload.ConversationID)
		assert.Equal(t, "run-1", payload.RunID)
	case <-time.After(5 * time.Second):
		t.Fatal("no alert received")
	}
}
