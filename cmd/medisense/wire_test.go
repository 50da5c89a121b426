package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/medisense/ai/agents/handlers"
	"github.com/hrygo/medisense/ai/medapi"
	"github.com/hrygo/medisense/ai/workflow"
	"github.com/hrygo/medisense/internal/profile"
)

func offlineProfile() *profile.Profile {
	return &profile.Profile{
		LLMProvider:            "openai",
		ProviderRatePerSec:     4,
		FactCacheTTLMinutes:    10,
		GatherPerCallTimeoutMs: 100,
		GatherBudgetMs:         200,
	}
}

func TestBuildAppWithoutModel(t *testing.T) {
	a, err := buildApp(context.Background(), offlineProfile(), nil)
	require.NoError(t, err)
	defer a.Close()

	res, err := a.engine.Run(context.Background(), &workflow.Request{
		Message:  "My father is unconscious and not breathing",
		CallerID: "cli",
	})
	require.NoError(t, err)
	assert.Equal(t, "emergency", res.Intent)
	assert.Equal(t, handlers.EmergencyDirective, res.FinalResponse)

	text, err := a.metrics.ExportText()
	require.NoError(t, err)
	assert.Contains(t, text, `medisense_engine_runs_total{handler="emergencyAgent",intent="emergency"} 1`)
}

func TestAppWarmup(t *testing.T) {
	var pings atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			MaxTokens int `json:"max_tokens"`
		}
		if r.URL.Path == "/chat/completions" && json.NewDecoder(r.Body).Decode(&body) == nil && body.MaxTokens == 1 {
			pings.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := offlineProfile()
	p.LLMAPIKey = "sk-test"
	p.LLMBaseURL = srv.URL
	p.LLMModel = "test-model"

	a, err := buildApp(context.Background(), p, nil)
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.llm)

	done := make(chan struct{})
	a.warmup(done)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("warmup did not finish")
	}
	assert.Equal(t, int32(1), pings.Load())

	offline, err := buildApp(context.Background(), offlineProfile(), nil)
	require.NoError(t, err)
	defer offline.Close()
	offlineDone := make(chan struct{})
	offline.warmup(offlineDone)
	<-offlineDone
}

func TestBuildAppRejectsMissingRoutesFile(t *testing.T) {
	p := offlineProfile()
	p.RoutesFile = "/nonexistent/routes.yaml"
	_, err := buildApp(context.Background(), p, nil)
	require.Error(t, err)
}

func TestFactCacheSelection(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name      string
		addr      string
		wantRedis bool
	}{
		{name: "no redis", addr: "", wantRedis: false},
		{name: "reachable redis", addr: mr.Addr(), wantRedis: true},
		{name: "unreachable redis", addr: "127.0.0.1:1", wantRedis: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := offlineProfile()
			p.RedisAddr = tt.addr
			a := &app{}
			defer a.Close()

			c := factCache(context.Background(), p, a)
			_, isRedis := c.(*medapi.RedisCache)
			assert.Equal(t, tt.wantRedis, isRedis)
			assert.Len(t, a.closers, map[bool]int{true: 1, false: 0}[tt.wantRedis])
		})
	}
}
