package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newFakeProvider(t *testing.T, reply string) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req capturedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		seen = append(seen, req)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"model":   req.Model,
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": reply}, "finish_reason": "stop"}},
			"usage":   map[string]any{"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), seen...)
	}
}

func TestNewService(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"nil config", nil, true},
		{"empty provider", &Config{}, true},
		{"unknown provider without base url", &Config{Provider: "unsupported", APIKey: "k", Model: "m"}, true},
		{"unknown provider with base url", &Config{Provider: "custom", APIKey: "k", Model: "m", BaseURL: "http://localhost:1"}, false},
		{"deepseek defaults", &Config{Provider: "deepseek", APIKey: "k"}, false},
		{"missing api key", &Config{Provider: "openai"}, true},
		{"ollama without key", &Config{Provider: "ollama"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewService(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, svc)
		})
	}
}

func TestService_Chat(t *testing.T) {
	srv, requests := newFakeProvider(t, "hello there")

	svc, err := NewService(&Config{
		Provider:   "openai",
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		Model:      "fast-model",
		SmartModel: "smart-model",
	})
	require.NoError(t, err)

	content, stats, err := svc.Chat(context.Background(), []Message{SystemPrompt("sys"), UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "hello there", content)
	require.NotNil(t, stats)
	assert.Equal(t, 10, stats.TotalTokens)
	assert.Equal(t, "fast-model", stats.Model)

	_, _, err = svc.Chat(context.Background(), []Message{UserMessage("hi")}, WithSmartModel(), WithTemperature(0.2))
	require.NoError(t, err)

	got := requests()
	require.Len(t, got, 2)
	assert.Equal(t, "fast-model", got[0].Model)
	require.Len(t, got[0].Messages, 2)
	assert.Equal(t, "system", got[0].Messages[0].Role)
	assert.Equal(t, "smart-model", got[1].Model)
	assert.InDelta(t, 0.2, got[1].Temperature, 0.001)
}

func TestService_ChatProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	svc, err := NewService(&Config{Provider: "openai", APIKey: "k", BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)

	_, _, err = svc.Chat(context.Background(), []Message{UserMessage("hi")})
	assert.Error(t, err)
}

func TestGenerator_MapsStyle(t *testing.T) {
	srv, requests := newFakeProvider(t, "  answer  \n")

	svc, err := NewService(&Config{Provider: "openai", APIKey: "k", BaseURL: srv.URL, Model: "fast", SmartModel: "smart"})
	require.NoError(t, err)
	obs := &callRecorder{}
	gen := NewGenerator(svc, obs)

	out, err := gen.GenerateText(context.Background(), "framing", "question", Style{Tier: TierSmart})
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
	require.Len(t, obs.tiers, 1)
	assert.Equal(t, TierSmart, obs.tiers[0])
	assert.NoError(t, obs.errs[0])

	got := requests()
	require.Len(t, got, 1)
	assert.Equal(t, "smart", got[0].Model)
	assert.Equal(t, "framing", got[0].Messages[0].Content)
	assert.Equal(t, "question", got[0].Messages[1].Content)
}

type callRecorder struct {
	tiers []Tier
	errs  []error
}

func (r *callRecorder) ObserveLLMCall(tier Tier, _ *LLMCallStats, _ time.Duration, err error) {
	r.tiers = append(r.tiers, tier)
	r.errs = append(r.errs, err)
}

func TestFormatMessages(t *testing.T) {
	msgs := FormatMessages("sys", "now", []Message{UserMessage("before"), AssistantMessage("reply")})
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[2].Role)
	assert.Equal(t, "now", msgs[3].Content)

	assert.Len(t, FormatMessages("", "only", nil), 1)
}

func TestService_WarmupNoPanic(t *testing.T) {
	srv, _ := newFakeProvider(t, "ok")
	svc, err := NewService(&Config{Provider: "openai", APIKey: "k", BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)
	svc.Warmup(context.Background())
}
