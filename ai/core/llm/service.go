// Package llm wraps OpenAI-compatible chat completion providers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// ErrNotConfigured is returned when no provider is configured.
var ErrNotConfigured = errors.New("llm: provider not configured")

// Message represents a chat message.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// LLMCallStats represents statistics for a single LLM call.
type LLMCallStats struct {
	Model            string `json:"model"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	CacheReadTokens  int    `json:"cache_read_tokens,omitempty"`
	TotalDurationMs  int64  `json:"total_duration_ms"`
}

// Service is the LLM service interface.
type Service interface {
	// Chat performs one synchronous completion. There is no retry.
	Chat(ctx context.Context, messages []Message, opts ...CallOption) (string, *LLMCallStats, error)

	// Warmup sends a lightweight ping request to establish the connection.
	Warmup(ctx context.Context)
}

// Config represents LLM service configuration.
type Config struct {
	Provider    string // deepseek, openai, siliconflow, dashscope, openrouter, ollama, zai
	Model       string // fast tier model, used for classification and short answers
	SmartModel  string // smart tier model; falls back to Model when empty
	APIKey      string
	BaseURL     string
	MaxTokens   int     // default: 2048
	Temperature float32 // default: 0.7
	Timeout     int     // Request timeout in seconds (default: 120)
}

// CallOption adjusts a single Chat call.
type CallOption func(*callOptions)

type callOptions struct {
	smart       bool
	temperature *float32
}

// WithSmartModel selects the smart tier model.
func WithSmartModel() CallOption {
	return func(o *callOptions) { o.smart = true }
}

// WithTemperature overrides the configured temperature.
func WithTemperature(t float32) CallOption {
	return func(o *callOptions) { o.temperature = &t }
}

var providerBaseURLs = map[string]string{
	"deepseek":    "https://api.deepseek.com",
	"siliconflow": "https://api.siliconflow.cn/v1",
	"zai":         "https://open.bigmodel.cn/api/paas/v4",
	"dashscope":   "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"openai":      "",
	"openrouter":  "https://openrouter.ai/api/v1",
	"ollama":      "http://localhost:11434/v1",
}

var providerDefaultModels = map[string]string{
	"deepseek":    "deepseek-chat",
	"siliconflow": "Qwen/Qwen2.5-7B-Instruct",
	"zai":         "glm-4-flash",
	"dashscope":   "qwen-turbo",
	"openai":      "gpt-4o-mini",
	"openrouter":  "openai/gpt-4o-mini",
	"ollama":      "llama3.1",
}

type service struct {
	client      *openai.Client
	model       string
	smartModel  string
	provider    string
	maxTokens   int
	temperature float32
	timeout     int // Request timeout in seconds
}

// NewService creates a new LLM Service.
// An unknown provider is accepted only with an explicit BaseURL.
func NewService(cfg *Config) (Service, error) {
	if cfg == nil || cfg.Provider == "" {
		return nil, ErrNotConfigured
	}

	baseURL, known := providerBaseURLs[cfg.Provider]
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}
	if !known {
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("unsupported llm provider %q without base url", cfg.Provider)
		}
		slog.Info("llm: using generic openai-compatible provider", "provider", cfg.Provider)
	}
	if cfg.APIKey == "" && cfg.Provider != "ollama" {
		return nil, fmt.Errorf("%w: api key required for %s", ErrNotConfigured, cfg.Provider)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	clientConfig.HTTPClient = newHTTPClient()

	model := cfg.Model
	if model == "" {
		model = providerDefaultModels[cfg.Provider]
	}
	if model == "" {
		return nil, fmt.Errorf("%w: model required for %s", ErrNotConfigured, cfg.Provider)
	}
	smart := cfg.SmartModel
	if smart == "" {
		smart = model
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = 0.7
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120
	}

	return &service{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       model,
		smartModel:  smart,
		provider:    cfg.Provider,
		maxTokens:   maxTokens,
		temperature: temperature,
		timeout:     timeout,
	}, nil
}

func (s *service) Chat(ctx context.Context, messages []Message, opts ...CallOption) (string, *LLMCallStats, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeout)*time.Second)
	defer cancel()

	model := s.model
	if o.smart {
		model = s.smartModel
	}
	temperature := s.temperature
	if o.temperature != nil {
		temperature = *o.temperature
	}

	slog.Debug("llm: chat request",
		"model", model,
		"messages_count", len(messages),
		"max_tokens", s.maxTokens,
	)

	startTime := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   s.maxTokens,
		Temperature: temperature,
		Messages:    convertMessages(messages),
	})
	if err != nil {
		slog.Warn("llm: chat request failed", "provider", s.provider, "model", model, "error", err)
		return "", nil, fmt.Errorf("llm chat failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil, errors.New("empty response from llm")
	}

	totalDuration := time.Since(startTime)
	stats := &LLMCallStats{
		Model:            model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		TotalDurationMs:  totalDuration.Milliseconds(),
	}
	if resp.Usage.PromptTokensDetails != nil && resp.Usage.PromptTokensDetails.CachedTokens > 0 {
		stats.CacheReadTokens = resp.Usage.PromptTokensDetails.CachedTokens
	}

	slog.Debug("llm: chat response received",
		"content_length", len(resp.Choices[0].Message.Content),
		"total_tokens", stats.TotalTokens,
		"duration_ms", totalDuration.Milliseconds(),
	)

	return resp.Choices[0].Message.Content, stats, nil
}

// Warmup sends a one-token request so the first user-facing call does not pay the
// connection setup cost. Failures are logged only.
func (s *service) Warmup(ctx context.Context) {
	warmupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	startTime := time.Now()
	_, err := s.client.CreateChatCompletion(warmupCtx, openai.ChatCompletionRequest{
		Model:     s.model,
		MaxTokens: 1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "Hi"},
		},
	})
	duration := time.Since(startTime)

	if err != nil {
		slog.Warn("llm: warmup ping failed",
			"provider", s.provider,
			"model", s.model,
			"error", err,
			"duration_ms", duration.Milliseconds(),
		)
		return
	}
	slog.Info("llm: connection warmed up",
		"provider", s.provider,
		"model", s.model,
		"duration_ms", duration.Milliseconds(),
	)
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case "system":
			role = openai.ChatMessageRoleSystem
		case "assistant":
			role = openai.ChatMessageRoleAssistant
		}
		out[i] = openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}
	return out
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// SystemPrompt creates a system message.
func SystemPrompt(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// FormatMessages builds a message list from a system prompt, prior turns and the user content.
func FormatMessages(systemPrompt string, userContent string, history []Message) []Message {
	messages := []Message{}
	if systemPrompt != "" {
		messages = append(messages, SystemPrompt(systemPrompt))
	}
	messages = append(messages, history...)
	messages = append(messages, UserMessage(userContent))
	return messages
}
