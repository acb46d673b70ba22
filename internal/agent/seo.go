package agent

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/relayforge/contentpipeline/internal/domain"
)

var headingPattern = regexp.MustCompile(`(?m)^#{2,4}\s+(.+)$`)

// SEOInput is the SEO agent's decoded step input.
type SEOInput struct {
	Keyword  string               `json:"keyword"`
	Article  domain.WriterOutput  `json:"article"`
	Research domain.ResearchOutput `json:"research_data"`
}

// SEOAgent optimizes the draft's metadata and heading structure via a
// single LLM call.
type SEOAgent struct {
	llm domain.LLMProvider
}

// NewSEOAgent constructs an SEOAgent over the given LLM provider.
func NewSEOAgent(llm domain.LLMProvider) *SEOAgent {
	return &SEOAgent{llm: llm}
}

// Name implements domain.Agent.
func (a *SEOAgent) Name() domain.AgentName { return domain.AgentSEO }

// Execute implements domain.Agent.
func (a *SEOAgent) Execute(ctx domain.Context, job domain.Job, input map[string]any) (map[string]any, error) {
	var in SEOInput
	if err := decodeInput(input, &in); err != nil {
		return nil, fmt.Errorf("op=agent.SEO.Execute: %w: %v", domain.ErrSchemaInvalid, err)
	}
	if strings.TrimSpace(in.Article.Body) == "" {
		return nil, fmt.Errorf("op=agent.SEO.Execute: %w: article body required", domain.ErrInvalidArgument)
	}

	slog.Info("seo agent starting", slog.String("job_id", job.ID), slog.String("keyword", in.Keyword))

	headings := headingPattern.FindAllStringSubmatch(in.Article.Body, -1)
	headingTexts := make([]string, 0, len(headings))
	for _, h := range headings {
		headingTexts = append(headingTexts, strings.TrimSpace(h[1]))
	}

	systemPrompt := "You are an SEO specialist. Respond with valid JSON only, matching this shape exactly: " +
		`{"meta_title":"...(<=60 chars)","meta_description":"...(<=160 chars)","slug":"...","headings":["..."],"keywords":["..."],"revised_body":"...",` +
		`"heading_analysis":{"is_valid":true,"issues":["..."],"suggestions":["..."]},` +
		`"keyword_density":{"percentage":0,"analysis":"..."},` +
		`"schema_markup":{"@context":"https://schema.org","@type":"Article"},` +
		`"internal_links":[{"anchor_text":"...","suggested_path":"...","reason":"..."}],` +
		`"optimization_score":0}. ` +
		"revised_body should be the article body lightly edited for keyword density, otherwise unchanged. optimization_score is 0-100. No code fences, no prose outside JSON."

	var userPrompt strings.Builder
	fmt.Fprintf(&userPrompt, "Keyword: %s\n", in.Keyword)
	fmt.Fprintf(&userPrompt, "Title: %s\n", in.Article.Title)
	fmt.Fprintf(&userPrompt, "Existing headings: %s\n", strings.Join(headingTexts, "; "))
	if len(in.Research.RelatedTerms) > 0 {
		fmt.Fprintf(&userPrompt, "Related terms: %s\n", strings.Join(in.Research.RelatedTerms, ", "))
	}
	userPrompt.WriteString("\nArticle body:\n")
	userPrompt.WriteString(in.Article.Body)

	raw, usage, err := a.llm.GenerateJSON(ctx, systemPrompt, userPrompt.String(), 4096)
	if err != nil {
		return nil, fmt.Errorf("op=agent.SEO.Execute: %w", err)
	}

	var out domain.SEOOutput
	if err := unmarshalJSON(raw, &out); err != nil {
		return nil, fmt.Errorf("op=agent.SEO.Execute: %w: %v", domain.ErrSchemaInvalid, err)
	}
	out.MetaTitle = truncate(out.MetaTitle, 60)
	out.MetaDescription = truncate(out.MetaDescription, 160)
	if out.Slug == "" {
		out.Slug = Slugify(in.Article.Title)
	}
	if out.RevisedBody == "" {
		out.RevisedBody = in.Article.Body
	}
	if out.SchemaMarkup == nil {
		out.SchemaMarkup = map[string]any{"@context": "https://schema.org", "@type": "Article"}
	}
	if out.OptimizationScore == 0 {
		out.OptimizationScore = estimateOptimizationScore(out)
	}

	slog.Info("seo agent completed",
		slog.String("job_id", job.ID),
		slog.Int("heading_count", len(out.Headings)),
		slog.Float64("optimization_score", out.OptimizationScore),
		slog.Int("total_tokens", usage.TotalTokens))

	result, err := encodeOutput(out)
	if err != nil {
		return nil, err
	}
	result[usageKey] = usage
	return result, nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// estimateOptimizationScore is the deterministic fallback used when the LLM
// response omits optimization_score: a simple rubric over metadata presence,
// keyword coverage, and heading validity.
func estimateOptimizationScore(out domain.SEOOutput) float64 {
	score := 0.0
	if out.MetaTitle != "" {
		score += 25
	}
	if out.MetaDescription != "" {
		score += 25
	}
	if len(out.Keywords) > 0 {
		score += 25
	}
	if out.HeadingAnalysis.IsValid {
		score += 25
	}
	return score
}

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases the input, replaces non-alphanumeric runs with a single
// hyphen, and trims leading/trailing hyphens.
func Slugify(title string) string {
	lower := strings.ToLower(title)
	slug := nonAlphanumeric.ReplaceAllString(lower, "-")
	return strings.Trim(slug, "-")
}
