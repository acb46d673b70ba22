package llm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/contentpipeline/internal/domain"
)

func TestStubProvider_PicksPayloadByAgentKeyword(t *testing.T) {
	s := NewStubProvider()
	cases := map[string]string{
		"You are a meticulous web research assistant.":      "keyword",
		"You are an SEO specialist.":                        "meta_title",
		"You are the Quality Assurance reviewer.":            "passed",
		"You are the project manager assembling the article": "word_count",
		"You are a skilled content writer.":                  "summary",
	}
	for systemPrompt, wantKey := range cases {
		raw, usage, err := s.GenerateJSON(context.Background(), systemPrompt, "", 100)
		require.NoError(t, err)
		var out map[string]any
		require.NoError(t, json.Unmarshal([]byte(raw), &out))
		_, ok := out[wantKey]
		assert.True(t, ok, "expected key %q in payload for prompt %q, got %v", wantKey, systemPrompt, out)
		assert.Equal(t, "stub", usage.Model)
		assert.Greater(t, usage.TotalTokens, 0)
	}
}

func TestStubProvider_CalculateCostIsAlwaysZero(t *testing.T) {
	s := NewStubProvider()
	cost := s.CalculateCost(domain.TokenUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30})
	assert.Equal(t, float64(0), cost)
}

func TestStubProvider_EstimateTokensCountsWords(t *testing.T) {
	s := NewStubProvider()
	assert.Equal(t, 3, s.EstimateTokens("hello there world"))
}
