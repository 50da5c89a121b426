package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

var (
	// timeout is the timeout for webhook request. Default to 10 seconds.
	timeout = 10 * time.Second
)

const ActivityTypeEmergency = "emergency.detected"

// AlertPayload is posted when a run is routed to the emergency handler. The caller's
// message is not included; receivers look the conversation up by ID.
type AlertPayload struct {
	URL            string `json:"-"`
	ActivityType   string `json:"activityType"`
	CallerID       string `json:"callerId"`
	ConversationID string `json:"conversationId"`
	RunID          string `json:"runId,omitempty"`
	Intent         string `json:"intent"`
	CreatedTs      int64  `json:"createdTs"`
}

// Post posts the alert to the webhook endpoint. Any 2xx status is a success.
func Post(ctx context.Context, payload *AlertPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal webhook request to %s", payload.URL)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, payload.URL, bytes.NewBuffer(body))
	if err != nil {
		return errors.Wrapf(err, "failed to construct webhook request to %s", payload.URL)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to post webhook to %s", payload.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("failed to post webhook %s, status code: %d, response body: %s", payload.URL, resp.StatusCode, b)
	}
	return nil
}

// PostAsync posts the alert in a new goroutine detached from the request context.
// Failures are logged.
func PostAsync(payload *AlertPayload) {
	go func() {
		if err := Post(context.Background(), payload); err != nil {
			slog.Warn("webhook: dispatch failed",
				slog.String("url", payload.URL),
				slog.String("activityType", payload.ActivityType),
				slog.Any("err", err))
		}
	}()
}
