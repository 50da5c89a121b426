package v1

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/medisense/ai/agents/orchestrator"
	"github.com/hrygo/medisense/ai/filter"
	"github.com/hrygo/medisense/ai/observability/logging"
	"github.com/hrygo/medisense/ai/routing"
	"github.com/hrygo/medisense/ai/workflow"
	"github.com/hrygo/medisense/internal/strutil"
	"github.com/hrygo/medisense/plugin/webhook"
	"github.com/hrygo/medisense/store"
)

const titleMaxRunes = 60

type SendMessageRequest struct {
	CallerID       string                  `json:"caller_id"`
	Message        string                  `json:"message"`
	ConversationID string                  `json:"conversation_id,omitempty"`
	IncludeHistory bool                    `json:"include_history,omitempty"`
	Context        *workflow.CallerContext `json:"context,omitempty"`
}

type SendMessageResponse struct {
	ConversationID string         `json:"conversation_id"`
	Response       string         `json:"response"`
	Intent         string         `json:"intent"`
	Path           []string       `json:"path"`
	Metadata       map[string]any `json:"metadata"`
	Persisted      int            `json:"persisted"`
}

// SendMessage runs one chat turn: the user message and the answer are stored in the
// conversation, and the data the run extracted is persisted for the caller.
func (s *APIV1Service) SendMessage(c echo.Context) error {
	var body SendMessageRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	body.CallerID = strings.TrimSpace(body.CallerID)
	if body.CallerID == "" || strings.TrimSpace(body.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "caller_id and message are required")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.Profile.RequestTimeout())
	defer cancel()
	logger := logging.FromContext(ctx)

	uid := body.ConversationID
	if uid == "" {
		uid = shortuuid.New()
	}
	conv, err := s.Store.GetOrCreateConversation(ctx, uid, body.CallerID, conversationTitle(body.Message))
	if errors.Is(err, store.ErrConversationOwner) {
		return echo.NewHTTPError(http.StatusForbidden, "conversation belongs to another caller")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to open conversation").SetInternal(err)
	}

	req := &workflow.Request{
		Message:        body.Message,
		CallerID:       body.CallerID,
		ConversationID: conv.UID,
	}
	if body.Context != nil {
		req.Context = *body.Context
	}
	// History is read before the new message is stored so it never repeats it.
	if body.IncludeHistory {
		history, err := s.Store.ListHistory(ctx, conv.ID, historyLimit)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to load history").SetInternal(err)
		}
		req.History = history
	}

	var userMeta map[string]any
	if filter.DefaultFilter().ContainsSensitive(body.Message) {
		userMeta = map[string]any{store.MetadataKeyContainsIdentifiers: true}
		logger.Info("api: message contains identifiers", "conversation_id", conv.UID)
	}
	if _, err := s.Store.AppendMessage(ctx, conv.ID, store.RoleUser, body.Message, userMeta); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save message").SetInternal(err)
	}

	result, err := s.Engine.Run(ctx, req)
	switch {
	case errors.Is(err, workflow.ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "request timed out").SetInternal(err)
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to process message").SetInternal(err)
	}

	metadata := map[string]any{
		store.MetadataKeyIntent: result.Intent,
		store.MetadataKeyPath:   result.Path,
	}
	for _, key := range []string{orchestrator.MetaHandler, orchestrator.MetaRunID, orchestrator.MetaClassificationSource} {
		if v, ok := result.Metadata[key]; ok {
			metadata[key] = v
		}
	}
	if _, err := s.Store.AppendMessage(ctx, conv.ID, store.RoleAssistant, result.FinalResponse, metadata); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save answer").SetInternal(err)
	}

	if result.Intent == routing.IntentEmergency && s.Profile.EmergencyWebhookURL != "" {
		runID, _ := result.Metadata[orchestrator.MetaRunID].(string)
		webhook.PostAsync(&webhook.AlertPayload{
			URL:            s.Profile.EmergencyWebhookURL,
			ActivityType:   webhook.ActivityTypeEmergency,
			CallerID:       body.CallerID,
			ConversationID: conv.UID,
			RunID:          runID,
			Intent:         result.Intent,
			CreatedTs:      time.Now().Unix(),
		})
	}

	persisted, err := s.Store.Persist(ctx, result.DataToPersist, body.CallerID, conv.UID)
	if err != nil {
		logger.Warn("api: extracted data not persisted", "conversation_id", conv.UID, "error", err)
	}

	return c.JSON(http.StatusOK, SendMessageResponse{
		ConversationID: conv.UID,
		Response:       result.FinalResponse,
		Intent:         result.Intent,
		Path:           result.Path,
		Metadata:       result.Metadata,
		Persisted:      persisted,
	})
}

type ConversationMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedTs int64          `json:"created_ts"`
}

type ConversationResponse struct {
	ID        string                `json:"id"`
	CallerID  string                `json:"caller_id"`
	Title     string                `json:"title"`
	CreatedTs int64                 `json:"created_ts"`
	UpdatedTs int64                 `json:"updated_ts"`
	Messages  []ConversationMessage `json:"messages"`
}

// GetConversation returns a conversation with its messages. An optional caller_id
// query parameter must match the owner.
func (s *APIV1Service) GetConversation(c echo.Context) error {
	ctx := c.Request().Context()
	conv, err := s.Store.GetConversation(ctx, c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get conversation").SetInternal(err)
	}
	if conv == nil {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	if callerID := c.QueryParam("caller_id"); callerID != "" && callerID != conv.CallerID {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}

	messages, err := s.Store.ListMessages(ctx, conv.ID, 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list messages").SetInternal(err)
	}
	resp := ConversationResponse{
		ID:        conv.UID,
		CallerID:  conv.CallerID,
		Title:     conv.Title,
		CreatedTs: conv.CreatedTs,
		UpdatedTs: conv.UpdatedTs,
		Messages:  make([]ConversationMessage, 0, len(messages)),
	}
	for _, m := range messages {
		resp.Messages = append(resp.Messages, ConversationMessage{
			Role:      m.Role,
			Content:   m.Content,
			Metadata:  m.Metadata,
			CreatedTs: m.CreatedTs,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// conversationTitle is the opening message on one line, identifiers masked.
func conversationTitle(message string) string {
	return strutil.Truncate(filter.DefaultFilter().FilterText(strutil.Squash(message)), titleMaxRunes)
}
