package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hrygo/medisense/ai/cache"
	"github.com/hrygo/medisense/ai/core/llm"
	"github.com/hrygo/medisense/ai/workflow"
)

// Classification sources.
const (
	SourceShortcut = "shortcut"
	SourceKeyword  = "keyword"
	SourceLLM      = "llm"
	SourceCache    = "cache"
	SourceDegraded = "degraded"
)

// Classification is the classifier's verdict for one message.
type Classification struct {
	Intent   string            `json:"intent"`
	Entities workflow.Entities `json:"entities"`
	Source   string            `json:"source"`
	Rule     string            `json:"rule,omitempty"`
}

// Degraded reports whether the verdict came from a failed or unparseable model answer.
func (c Classification) Degraded() bool { return c.Source == SourceDegraded }

// Observer receives one notification per classification.
type Observer interface {
	ObserveClassification(source string, intent string)
}

// ClassifierConfig configures a Classifier.
type ClassifierConfig struct {
	// Generator is optional. Without it the keyword classifier answers.
	Generator llm.Generator
	// Rules replaces DefaultShortcutRules when non-nil.
	Rules []ShortcutRule
	// CacheSize and CacheTTL bound the model-answer cache; zero values fall back to
	// 500 entries and 30 minutes.
	CacheSize int
	CacheTTL  time.Duration
	Observer  Observer
}

// Classifier assigns an intent and entities to a request.
type Classifier struct {
	gen      llm.Generator
	rules    []compiledRule
	keywords KeywordClassifier
	cache    *cache.LRUCache[string, Classification]
	observer Observer
}

// NewClassifier compiles the shortcut rules and builds a classifier.
func NewClassifier(cfg ClassifierConfig) (*Classifier, error) {
	rules := cfg.Rules
	if rules == nil {
		rules = DefaultShortcutRules()
	}
	compiled, err := compileRules(rules)
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 500
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	return &Classifier{
		gen:      cfg.Generator,
		rules:    compiled,
		cache:    cache.NewLRUCache[string, Classification](cfg.CacheSize, cfg.CacheTTL),
		observer: cfg.Observer,
	}, nil
}

// Classify resolves the intent of req. Deterministic rules run first and never call the
// model. A model failure degrades to general_medical_query instead of failing the run.
func (c *Classifier) Classify(ctx context.Context, req *workflow.Request) (Classification, error) {
	if req == nil {
		return Classification{}, errors.New("classify: nil request")
	}
	result := c.classify(ctx, req)
	if c.observer != nil {
		c.observer.ObserveClassification(result.Source, result.Intent)
	}
	slog.Debug("classifier: resolved intent",
		"intent", result.Intent,
		"source", result.Source,
		"rule", result.Rule,
	)
	return result, nil
}

func (c *Classifier) classify(ctx context.Context, req *workflow.Request) Classification {
	text := req.Message

	if rule, ok := matchRules(c.rules, text, req.Context.HasUploadedReports()); ok {
		return Classification{Intent: rule.Intent, Entities: workflow.Entities{}, Source: SourceShortcut, Rule: rule.Name}
	}

	if IsEmergency(text) {
		_, entities := c.keywords.Classify(text)
		return Classification{Intent: IntentEmergency, Entities: entities, Source: SourceShortcut, Rule: "emergency_guard"}
	}

	if c.gen == nil {
		intent, entities := c.keywords.Classify(text)
		return Classification{Intent: intent, Entities: entities, Source: SourceKeyword}
	}

	key := cacheKey(text)
	if cached, ok := c.cache.Get(key); ok {
		cached.Entities = cloneEntities(cached.Entities)
		cached.Source = SourceCache
		return cached
	}

	raw, err := c.gen.GenerateText(ctx, classificationPrompt, text, llm.Style{Tier: llm.TierFast, Temperature: 0.1})
	if err != nil {
		slog.Warn("classifier: model call failed, degrading", "error", err)
		return Classification{Intent: IntentGeneralMedicalQuery, Entities: workflow.Entities{}, Source: SourceDegraded}
	}

	intent, entities, degraded := ParseClassification(raw)
	if degraded {
		slog.Warn("classifier: model answer could not be parsed", "intent", intent)
		return Classification{Intent: intent, Entities: entities, Source: SourceDegraded}
	}
	if !IsKnownIntent(intent) {
		slog.Info("classifier: model returned an unlisted label", "label", intent)
	}

	result := Classification{Intent: intent, Entities: entities, Source: SourceLLM}
	c.cache.Set(key, Classification{Intent: intent, Entities: cloneEntities(entities), Source: SourceLLM}, 0)
	return result
}

func cacheKey(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func cloneEntities(e workflow.Entities) workflow.Entities {
	out := make(workflow.Entities, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

var classificationPrompt = fmt.Sprintf(`You are a medical intent classifier.
Classify the user's message into exactly one of these intents:
%s

Also extract any medical entities you find: symptoms, medications, conditions,
body_parts, duration, severity, vital_signs, food.

Answer with exactly two lines and nothing else:
Intent: <one intent label from the list>
Entities: <a single-line JSON object, {} when nothing was found>`, "- "+strings.Join(Intents, "\n- "))
