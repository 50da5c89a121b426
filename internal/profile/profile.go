package profile

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is configuration to start the server and build the engine.
type Profile struct {
	// LLM configuration (OpenAI-compatible protocol)
	LLMProvider   string // openai, deepseek, zai, siliconflow, dashscope, openrouter, ollama
	LLMAPIKey     string
	LLMBaseURL    string // optional, each provider has a default
	LLMModel      string // fast tier: classification and general answers
	LLMSmartModel string // smart tier: symptom, medication, report and diagnosis answers
	LLMTimeout    int    // seconds

	// External data providers
	USDAAPIKey          string
	ProviderRatePerSec  float64
	RedisAddr           string // fact cache; empty selects the in-memory cache
	FactCacheTTLMinutes int

	// Aggregator bounds
	GatherPerCallTimeoutMs int
	GatherBudgetMs         int
	GatherMaxParallel      int

	// Observability
	LogLevel      string
	LogFormat     string
	TraceExporter string // none, stdout, otlp
	TraceEndpoint string

	// Server
	Mode                  string
	Addr                  string
	Port                  int
	Data                  string
	Driver                string // sqlite, postgres
	DSN                   string
	RoutesFile            string
	RequestTimeoutSeconds int
	EmergencyWebhookURL   string // receives an alert for every emergency-routed run
	Version               string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if a model can be called.
func (p *Profile) IsAIEnabled() bool {
	return p.LLMAPIKey != "" || p.LLMProvider == "ollama"
}

// PerCallTimeout is the aggregator per-call timeout.
func (p *Profile) PerCallTimeout() time.Duration {
	return time.Duration(p.GatherPerCallTimeoutMs) * time.Millisecond
}

// GatherBudget is the aggregator overall budget.
func (p *Profile) GatherBudget() time.Duration {
	return time.Duration(p.GatherBudgetMs) * time.Millisecond
}

// RequestTimeout bounds one API request, engine run included.
func (p *Profile) RequestTimeout() time.Duration {
	return time.Duration(p.RequestTimeoutSeconds) * time.Second
}

// FactCacheTTL is how long provider lookups stay cached.
func (p *Profile) FactCacheTTL() time.Duration {
	return time.Duration(p.FactCacheTTLMinutes) * time.Minute
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		slog.Warn("profile: ignoring non-numeric value", "key", key, "value", value)
	}
	return defaultValue
}

func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		slog.Warn("profile: ignoring non-numeric value", "key", key, "value", value)
	}
	return defaultValue
}

// FromEnv loads the model, provider and aggregator settings from MEDISENSE_* variables.
func (p *Profile) FromEnv() {
	p.LLMProvider = getEnvOrDefault("MEDISENSE_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("MEDISENSE_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("MEDISENSE_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("MEDISENSE_LLM_MODEL", "")
	p.LLMSmartModel = getEnvOrDefault("MEDISENSE_LLM_SMART_MODEL", "")
	p.LLMTimeout = getEnvOrDefaultInt("MEDISENSE_LLM_TIMEOUT_SECONDS", 60)

	p.USDAAPIKey = getEnvOrDefault("MEDISENSE_USDA_API_KEY", "")
	p.ProviderRatePerSec = getEnvOrDefaultFloat("MEDISENSE_PROVIDER_RATE_PER_SECOND", 4)
	p.RedisAddr = getEnvOrDefault("MEDISENSE_REDIS_ADDR", "")
	p.FactCacheTTLMinutes = getEnvOrDefaultInt("MEDISENSE_FACT_CACHE_TTL_MINUTES", 24*60)

	p.GatherPerCallTimeoutMs = getEnvOrDefaultInt("MEDISENSE_GATHER_PER_CALL_TIMEOUT_MS", 8000)
	p.GatherBudgetMs = getEnvOrDefaultInt("MEDISENSE_GATHER_BUDGET_MS", 12000)
	p.GatherMaxParallel = getEnvOrDefaultInt("MEDISENSE_GATHER_MAX_PARALLEL", 0)

	p.RequestTimeoutSeconds = getEnvOrDefaultInt("MEDISENSE_REQUEST_TIMEOUT_SECONDS", 90)
	p.EmergencyWebhookURL = getEnvOrDefault("MEDISENSE_EMERGENCY_WEBHOOK_URL", "")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate normalizes defaults and rejects inconsistent settings.
func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}
	if p.Driver == "" {
		p.Driver = "sqlite"
	}

	switch p.Driver {
	case "sqlite":
		if p.DSN == "" {
			if p.Data == "" {
				p.Data = "."
			}
			dataDir, err := checkDataDir(p.Data)
			if err != nil {
				slog.Error("failed to check data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
				return err
			}
			p.Data = dataDir
			p.DSN = filepath.Join(dataDir, fmt.Sprintf("medisense_%s.db", p.Mode))
		}
	case "postgres":
		if p.DSN == "" {
			return errors.New("postgres driver requires --dsn")
		}
	default:
		return errors.Errorf("unsupported driver %q", p.Driver)
	}

	switch p.TraceExporter {
	case "":
		p.TraceExporter = "none"
	case "none", "stdout", "otlp":
	default:
		return errors.Errorf("unsupported trace exporter %q", p.TraceExporter)
	}

	if p.GatherPerCallTimeoutMs <= 0 || p.GatherBudgetMs <= 0 {
		return errors.New("aggregator timeouts must be positive")
	}
	if p.GatherPerCallTimeoutMs > p.GatherBudgetMs {
		slog.Warn("profile: per-call timeout exceeds the overall budget",
			"per_call_ms", p.GatherPerCallTimeoutMs, "budget_ms", p.GatherBudgetMs)
	}
	if p.EmergencyWebhookURL != "" {
		u, err := url.Parse(p.EmergencyWebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.Errorf("invalid emergency webhook url %q", p.EmergencyWebhookURL)
		}
	}
	if p.RequestTimeoutSeconds <= 0 {
		p.RequestTimeoutSeconds = 90
	}
	return nil
}
