package handlers

import (
	"context"
	"errors"
	"sync"

	"github.com/hrygo/medisense/ai/core/llm"
	"github.com/hrygo/medisense/ai/medapi"
)

type generatorCall struct {
	framing string
	user    string
	style   llm.Style
}

type fakeGenerator struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   []generatorCall
}

func (g *fakeGenerator) GenerateText(_ context.Context, framing, user string, style llm.Style) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, generatorCall{framing: framing, user: user, style: style})
	if g.err != nil {
		return "", g.err
	}
	if len(g.replies) == 0 {
		return "ok", nil
	}
	r := g.replies[0]
	if len(g.replies) > 1 {
		g.replies = g.replies[1:]
	}
	return r, nil
}

func (g *fakeGenerator) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type fakeFacts struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	label *medapi.DrugLabel
}

func (f *fakeFacts) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.fail[call]
}

func (f *fakeFacts) DrugLabel(_ context.Context, name string) (*medapi.DrugLabel, error) {
	if err := f.record("label:" + name); err != nil {
		return nil, err
	}
	if f.label != nil {
		return f.label, nil
	}
	return &medapi.DrugLabel{BrandName: name, ActiveIngredient: "ibuprofen"}, nil
}

func (f *fakeFacts) DrugInteractions(_ context.Context, name string) (*medapi.DrugInteractions, error) {
	if err := f.record("interactions:" + name); err != nil {
		return nil, err
	}
	return &medapi.DrugInteractions{DrugName: name, Interactions: "none listed"}, nil
}

func (f *fakeFacts) RxNorm(_ context.Context, name string) (*medapi.RxNormResult, error) {
	if err := f.record("rxnorm:" + name); err != nil {
		return nil, err
	}
	return &medapi.RxNormResult{DrugName: name}, nil
}

func (f *fakeFacts) SearchLiterature(_ context.Context, query string, _ int) ([]medapi.Article, error) {
	if err := f.record("literature"); err != nil {
		return nil, err
	}
	return []medapi.Article{{Title: query}}, nil
}

func (f *fakeFacts) ICD10(_ context.Context, term string) ([]medapi.ICD10Code, error) {
	if err := f.record("icd10:" + term); err != nil {
		return nil, err
	}
	return []medapi.ICD10Code{{Code: "R51", Description: term}}, nil
}

func (f *fakeFacts) Nutrition(_ context.Context, food string) (*medapi.Nutrition, error) {
	if err := f.record("nutrition:" + food); err != nil {
		return nil, err
	}
	return &medapi.Nutrition{FoodName: food}, nil
}

func (f *fakeFacts) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

var errProvider = errors.New("provider down")
