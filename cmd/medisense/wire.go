package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hrygo/medisense/ai/agents/handlers"
	"github.com/hrygo/medisense/ai/agents/orchestrator"
	"github.com/hrygo/medisense/ai/core/llm"
	"github.com/hrygo/medisense/ai/gather"
	"github.com/hrygo/medisense/ai/medapi"
	"github.com/hrygo/medisense/ai/metrics"
	"github.com/hrygo/medisense/ai/routing"
	"github.com/hrygo/medisense/internal/profile"
)

const (
	factCacheCapacity = 2048
	warmupTimeout     = 10 * time.Second
)

// app holds the long-lived collaborators shared by every command.
type app struct {
	engine  *orchestrator.Engine
	metrics *metrics.PrometheusExporter
	llm     llm.Service // nil when no model is configured
	closers []func() error
}

// warmup opens the model connection in the background so the first request does not
// pay for it. done, when non-nil, is closed once the ping returns.
func (a *app) warmup(done chan<- struct{}) {
	if a.llm == nil {
		if done != nil {
			close(done)
		}
		return
	}
	go func() {
		if done != nil {
			defer close(done)
		}
		ctx, cancel := context.WithTimeout(context.Background(), warmupTimeout)
		defer cancel()
		a.llm.Warmup(ctx)
	}()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("medisense: close failed", "error", err)
		}
	}
}

// buildApp wires the model adapter, the provider client, the classifier, the handlers
// and the engine. fetcher may be nil.
func buildApp(ctx context.Context, p *profile.Profile, fetcher orchestrator.ContextFetcher) (*app, error) {
	a := &app{metrics: metrics.NewPrometheusExporter(metrics.DefaultConfig())}

	var gen llm.Generator
	if p.IsAIEnabled() {
		svc, err := llm.NewService(&llm.Config{
			Provider:   p.LLMProvider,
			Model:      p.LLMModel,
			SmartModel: p.LLMSmartModel,
			APIKey:     p.LLMAPIKey,
			BaseURL:    p.LLMBaseURL,
			Timeout:    p.LLMTimeout,
		})
		if err != nil {
			return nil, err
		}
		a.llm = svc
		gen = llm.NewGenerator(svc, a.metrics)
		slog.Info("medisense: model configured", "provider", p.LLMProvider)
	} else {
		slog.Warn("medisense: no model configured, answers fall back to keyword routing and static text")
	}

	client := medapi.NewClient(medapi.Config{
		USDAAPIKey:    p.USDAAPIKey,
		RatePerSecond: p.ProviderRatePerSec,
	})
	facts := medapi.NewCachedSource(client, factCache(ctx, p, a), p.FactCacheTTL()).WithObserver(a.metrics)

	classifier, err := routing.NewClassifier(routing.ClassifierConfig{
		Generator: gen,
		Observer:  a.metrics,
	})
	if err != nil {
		return nil, err
	}

	router := routing.DefaultRouter()
	if p.RoutesFile != "" {
		if router, err = routing.LoadRouteTable(p.RoutesFile); err != nil {
			return nil, err
		}
	}

	registry := handlers.NewDefaultRegistry(handlers.Deps{
		LLM:   gen,
		Facts: facts,
		Gather: gather.Options{
			PerCallTimeout: p.PerCallTimeout(),
			OverallBudget:  p.GatherBudget(),
			MaxParallel:    p.GatherMaxParallel,
			Observer:       a.metrics,
		},
	})

	engine, err := orchestrator.New(orchestrator.Config{
		Classifier:     classifier,
		Router:         router,
		Handlers:       registry,
		ContextFetcher: fetcher,
		Observer:       a.metrics,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine = engine
	return a, nil
}

// factCache prefers Redis when configured and reachable.
func factCache(ctx context.Context, p *profile.Profile, a *app) medapi.FactCache {
	if p.RedisAddr == "" {
		return medapi.NewMemoryCache(factCacheCapacity)
	}
	client := redis.NewClient(&redis.Options{Addr: p.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		slog.Warn("medisense: redis unavailable, using in-memory fact cache", "addr", p.RedisAddr, "error", err)
		_ = client.Close()
		return medapi.NewMemoryCache(factCacheCapacity)
	}
	a.closers = append(a.closers, client.Close)
	return medapi.NewRedisCache(client)
}
