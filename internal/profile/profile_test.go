package profile

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"MEDISENSE_LLM_PROVIDER", "MEDISENSE_LLM_API_KEY", "MEDISENSE_LLM_BASE_URL",
	"MEDISENSE_LLM_MODEL", "MEDISENSE_LLM_SMART_MODEL", "MEDISENSE_LLM_TIMEOUT_SECONDS",
	"MEDISENSE_USDA_API_KEY", "MEDISENSE_PROVIDER_RATE_PER_SECOND", "MEDISENSE_REDIS_ADDR",
	"MEDISENSE_FACT_CACHE_TTL_MINUTES", "MEDISENSE_GATHER_PER_CALL_TIMEOUT_MS",
	"MEDISENSE_GATHER_BUDGET_MS", "MEDISENSE_GATHER_MAX_PARALLEL", "MEDISENSE_REQUEST_TIMEOUT_SECONDS",
	"MEDISENSE_EMERGENCY_WEBHOOK_URL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestProfile_FromEnvDefaults(t *testing.T) {
	clearEnv(t)

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "openai", p.LLMProvider)
	assert.False(t, p.IsAIEnabled())
	assert.Equal(t, 8*time.Second, p.PerCallTimeout())
	assert.Equal(t, 12*time.Second, p.GatherBudget())
	assert.Equal(t, 24*time.Hour, p.FactCacheTTL())
	assert.Equal(t, 90*time.Second, p.RequestTimeout())
	assert.Equal(t, 4.0, p.ProviderRatePerSec)
}

func TestProfile_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("MEDISENSE_LLM_PROVIDER", "deepseek")
	t.Setenv("MEDISENSE_LLM_API_KEY", "sk-test")
	t.Setenv("MEDISENSE_GATHER_BUDGET_MS", "3000")
	t.Setenv("MEDISENSE_GATHER_MAX_PARALLEL", "not-a-number")
	t.Setenv("MEDISENSE_REDIS_ADDR", "localhost:6379")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "deepseek", p.LLMProvider)
	assert.True(t, p.IsAIEnabled())
	assert.Equal(t, 3*time.Second, p.GatherBudget())
	assert.Equal(t, 0, p.GatherMaxParallel)
	assert.Equal(t, "localhost:6379", p.RedisAddr)
}

func TestProfile_Validate(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	tests := []struct {
		name    string
		p       Profile
		wantErr bool
		check   func(t *testing.T, p *Profile)
	}{
		{
			name: "sqlite dsn derived from data dir",
			p:    Profile{Data: dir},
			check: func(t *testing.T, p *Profile) {
				assert.Equal(t, "dev", p.Mode)
				assert.Equal(t, "sqlite", p.Driver)
				assert.Equal(t, filepath.Join(dir, "medisense_dev.db"), p.DSN)
				assert.Equal(t, "none", p.TraceExporter)
			},
		},
		{name: "missing data dir", p: Profile{Data: filepath.Join(dir, "missing")}, wantErr: true},
		{name: "postgres without dsn", p: Profile{Driver: "postgres"}, wantErr: true},
		{name: "unknown driver", p: Profile{Driver: "mysql", DSN: "x"}, wantErr: true},
		{name: "unknown exporter", p: Profile{Driver: "postgres", DSN: "x", TraceExporter: "zipkin"}, wantErr: true},
		{
			name: "postgres",
			p:    Profile{Mode: "prod", Driver: "postgres", DSN: "postgres://localhost/medisense", TraceExporter: "otlp"},
			check: func(t *testing.T, p *Profile) {
				assert.False(t, p.IsDev())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.p
			p.FromEnv()
			err := p.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, &p)
			}
		})
	}

	bad := Profile{Driver: "postgres", DSN: "x"}
	assert.Error(t, bad.Validate(), "zero aggregator bounds are rejected")

	t.Setenv("MEDISENSE_EMERGENCY_WEBHOOK_URL", "ftp://alerts.example.com/hook")
	hook := Profile{Driver: "postgres", DSN: "x"}
	hook.FromEnv()
	assert.Error(t, hook.Validate(), "webhook url must be http or https")

	t.Setenv("MEDISENSE_EMERGENCY_WEBHOOK_URL", "https://alerts.example.com/hook")
	hook = Profile{Driver: "postgres", DSN: "x"}
	hook.FromEnv()
	assert.NoError(t, hook.Validate())
}
