package agent

import (
	"context"

	"github.com/relayforge/contentpipeline/internal/domain"
)

type fakeResearchSource struct {
	sources  []domain.Source
	snippets []string
	err      error
}

func (f fakeResearchSource) Search(context.Context, string, int) ([]domain.Source, []string, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.sources, f.snippets, nil
}

type fakeLLM struct {
	raw string
	err error
}

func (f fakeLLM) GenerateJSON(context.Context, string, string, int) (string, domain.TokenUsage, error) {
	if f.err != nil {
		return "", domain.TokenUsage{}, f.err
	}
	return f.raw, domain.TokenUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150, Model: "fake", Provider: "fake"}, nil
}

func (f fakeLLM) EstimateTokens(s string) int { return len(s) / 4 }

func (f fakeLLM) CalculateCost(domain.TokenUsage) float64 { return 0.01 }
