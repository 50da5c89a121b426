// Package medapi queries public medical data providers: OpenFDA, RxNorm, PubMed,
// the NLM clinical tables ICD-10 index and USDA FoodData Central.
package medapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

var (
	// ErrNotFound is returned when a provider has no record for the query.
	ErrNotFound = errors.New("medapi: not found")
	// ErrNotConfigured is returned for providers that need a key nobody supplied.
	ErrNotConfigured = errors.New("medapi: provider not configured")
)

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("medapi: %s returned HTTP %d: %s", e.Provider, e.Code, e.Body)
}

// Endpoints holds provider base URLs.
type Endpoints struct {
	OpenFDA        string
	RxNav          string
	EUtils         string
	ClinicalTables string
	USDA           string
}

// DefaultEndpoints returns the public provider base URLs.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		OpenFDA:        "https://api.fda.gov",
		RxNav:          "https://rxnav.nlm.nih.gov",
		EUtils:         "https://eutils.ncbi.nlm.nih.gov",
		ClinicalTables: "https://clinicaltables.nlm.nih.gov",
		USDA:           "https://api.nal.usda.gov",
	}
}

// Config configures a Client.
type Config struct {
	Endpoints  Endpoints
	USDAAPIKey string
	// RatePerSecond and Burst bound requests per provider host. Defaults: 4/s, burst 4.
	RatePerSecond float64
	Burst         int
	// Timeout is the client-wide ceiling; callers normally pass shorter deadlines.
	Timeout time.Duration
	// Transport is wrapped with otelhttp. Nil uses a pooled default.
	Transport http.RoundTripper
}

// Client talks to every provider through one traced, rate-limited http.Client.
// It holds no per-run state and is safe for concurrent use.
type Client struct {
	http      *http.Client
	endpoints Endpoints
	usdaKey   string

	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient creates a Client. Empty endpoints fall back to the public URLs.
func NewClient(cfg Config) *Client {
	def := DefaultEndpoints()
	ep := cfg.Endpoints
	if ep.OpenFDA == "" {
		ep.OpenFDA = def.OpenFDA
	}
	if ep.RxNav == "" {
		ep.RxNav = def.RxNav
	}
	if ep.EUtils == "" {
		ep.EUtils = def.EUtils
	}
	if ep.ClinicalTables == "" {
		ep.ClinicalTables = def.ClinicalTables
	}
	if ep.USDA == "" {
		ep.USDA = def.USDA
	}

	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 4
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		}
	}

	return &Client{
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		endpoints: ep,
		usdaKey:   cfg.USDAAPIKey,
		rps:       rate.Limit(cfg.RatePerSecond),
		burst:     cfg.Burst,
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (c *Client) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(c.rps, c.burst)
		c.limiters[host] = l
	}
	return l
}

// getJSON issues a GET and decodes a JSON body into out. HTTP 404 maps to ErrNotFound.
func (c *Client) getJSON(ctx context.Context, provider, base, path string, params url.Values, out any) error {
	u, err := url.Parse(base + path)
	if err != nil {
		return fmt.Errorf("medapi: build %s url: %w", provider, err)
	}
	u.RawQuery = params.Encode()

	if err := c.limiter(u.Host).Wait(ctx); err != nil {
		return fmt.Errorf("medapi: %s rate limit wait: %w", provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("medapi: %s request: %w", provider, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("medapi: %s: %w", provider, err)
	}
	defer resp.Body.Close()

	slog.Debug("medapi: provider responded",
		"provider", provider,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Provider: provider, Code: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("medapi: decode %s response: %w", provider, err)
	}
	return nil
}
