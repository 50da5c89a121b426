package llm

import (
	"context"
	"strings"
	"time"
)

// Tier selects the model class used for a generation.
type Tier string

const (
	TierFast  Tier = "fast"
	TierSmart Tier = "smart"
)

// Style hints how a single generation should be produced.
type Style struct {
	Tier        Tier
	Temperature float32 // zero keeps the configured temperature
}

// Generator is the text-generation capability consumed by the classifier and handlers.
type Generator interface {
	GenerateText(ctx context.Context, systemFraming, userText string, style Style) (string, error)
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func(ctx context.Context, systemFraming, userText string, style Style) (string, error)

// GenerateText implements Generator.
func (f GeneratorFunc) GenerateText(ctx context.Context, systemFraming, userText string, style Style) (string, error) {
	return f(ctx, systemFraming, userText, style)
}

// CallObserver receives the stats of every model call. stats is nil when the call failed
// before the provider answered.
type CallObserver interface {
	ObserveLLMCall(tier Tier, stats *LLMCallStats, d time.Duration, err error)
}

type serviceGenerator struct {
	svc      Service
	observer CallObserver
}

// NewGenerator exposes a Service as a Generator. observer may be nil.
func NewGenerator(svc Service, observer CallObserver) Generator {
	return &serviceGenerator{svc: svc, observer: observer}
}

func (g *serviceGenerator) GenerateText(ctx context.Context, systemFraming, userText string, style Style) (string, error) {
	var opts []CallOption
	if style.Tier == TierSmart {
		opts = append(opts, WithSmartModel())
	}
	if style.Temperature > 0 {
		opts = append(opts, WithTemperature(style.Temperature))
	}
	tier := style.Tier
	if tier == "" {
		tier = TierFast
	}
	start := time.Now()
	content, stats, err := g.svc.Chat(ctx, FormatMessages(systemFraming, userText, nil), opts...)
	if g.observer != nil {
		g.observer.ObserveLLMCall(tier, stats, time.Since(start), err)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}
