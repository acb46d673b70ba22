package llm

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/relayforge/contentpipeline/internal/domain"
)

// StubProvider is a fast, deterministic domain.LLMProvider for local
// development and tests, avoiding real Groq/OpenRouter calls. It inspects
// the system prompt to decide which agent is calling and returns a fixed
// payload matching that agent's expected output shape.
type StubProvider struct{}

// NewStubProvider creates a stub provider.
func NewStubProvider() *StubProvider { return &StubProvider{} }

// GenerateJSON returns a canned, schema-matching JSON payload after a small
// simulated delay, picked by sniffing keywords in systemPrompt.
func (s *StubProvider) GenerateJSON(_ domain.Context, systemPrompt, _ string, _ int) (string, domain.TokenUsage, error) {
	time.Sleep(20 * time.Millisecond)

	payload := s.payloadFor(strings.ToLower(systemPrompt))
	b, err := json.Marshal(payload)
	if err != nil {
		return "", domain.TokenUsage{}, err
	}

	usage := domain.TokenUsage{PromptTokens: 200, CompletionTokens: 150, TotalTokens: 350, Model: "stub", Provider: "stub"}
	return string(b), usage, nil
}

func (s *StubProvider) payloadFor(systemPrompt string) map[string]any {
	switch {
	case strings.Contains(systemPrompt, "research"):
		return map[string]any{
			"keyword":         "stub keyword",
			"search_intent":   "informational",
			"key_facts":       []string{"fact one", "fact two", "fact three"},
			"related_terms":   []string{"related term one", "related term two"},
			"competitor_gaps": []string{"missing pricing comparison"},
			"sources":         []map[string]string{{"title": "Example Source", "url": "https://example.com"}},
		}
	case strings.Contains(systemPrompt, "seo"):
		return map[string]any{
			"meta_title":       "Stub Meta Title",
			"meta_description": "Stub meta description for a generated article.",
			"slug":             "stub-article-slug",
			"headings":         []string{"Introduction", "Key Points", "Conclusion"},
			"keywords":         []string{"stub keyword", "related term"},
			"revised_body":     "This is the revised article body with SEO improvements applied throughout.",
		}
	case strings.Contains(systemPrompt, "quality assurance"), strings.Contains(systemPrompt, "qa "), strings.HasPrefix(systemPrompt, "qa"):
		return map[string]any{
			"score":    82.5,
			"passed":   true,
			"issues":   []map[string]string{},
			"feedback": "Article meets quality bar; no blocking issues found.",
		}
	case strings.Contains(systemPrompt, "project manager"), strings.Contains(systemPrompt, "editor"):
		return map[string]any{
			"title":             "Stub Article Title",
			"body":              "This is the final assembled article body.",
			"meta_title":        "Stub Meta Title",
			"meta_description":  "Stub meta description for a generated article.",
			"slug":              "stub-article-slug",
			"keywords":          []string{"stub keyword"},
			"word_count":        1200,
			"qa_score":          82.5,
			"iterations_used":   1,
			"validation_errors": []string{},
			"recommendations":   []string{},
		}
	default: // writer
		return map[string]any{
			"title":      "Stub Article Title",
			"body":       "This is a deterministic stub article body used for local development and tests.",
			"word_count": 1200,
			"summary":    "A short stub summary of the article.",
		}
	}
}

// EstimateTokens returns a rough word-based estimate.
func (s *StubProvider) EstimateTokens(text string) int {
	return len(strings.Fields(text))
}

// CalculateCost always returns zero; the stub never incurs real usage.
func (s *StubProvider) CalculateCost(_ domain.TokenUsage) float64 { return 0 }
