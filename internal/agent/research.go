package agent

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/relayforge/contentpipeline/internal/domain"
)

// stopWords lists common function words that extractRelatedTerms never
// reports as related terms.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "is": true,
	"are": true, "to": true, "of": true, "in": true, "for": true, "on": true,
	"what": true, "how": true, "why": true, "do": true, "does": true, "can": true,
}

// ResearchInput is the Research agent's decoded step input.
type ResearchInput struct {
	Keyword         string `json:"keyword"`
	Context         string `json:"context,omitempty"`
	TargetWordCount int    `json:"target_word_count,omitempty"`
}

// ResearchAgent fetches keyword facts and related terms from a research
// data source. It makes no LLM calls, so token usage is always zero.
type ResearchAgent struct {
	source domain.ResearchDataSource
}

// NewResearchAgent constructs a ResearchAgent over the given data source.
func NewResearchAgent(source domain.ResearchDataSource) *ResearchAgent {
	return &ResearchAgent{source: source}
}

// Name implements domain.Agent.
func (a *ResearchAgent) Name() domain.AgentName { return domain.AgentResearch }

// Execute implements domain.Agent.
func (a *ResearchAgent) Execute(ctx domain.Context, job domain.Job, input map[string]any) (map[string]any, error) {
	var in ResearchInput
	if err := decodeInput(input, &in); err != nil {
		return nil, fmt.Errorf("op=agent.Research.Execute: %w: %v", domain.ErrSchemaInvalid, err)
	}
	if strings.TrimSpace(in.Keyword) == "" {
		return nil, fmt.Errorf("op=agent.Research.Execute: %w: keyword required", domain.ErrInvalidArgument)
	}

	slog.Info("research agent starting", slog.String("job_id", job.ID), slog.String("keyword", in.Keyword))

	sources, snippets, err := a.source.Search(ctx, in.Keyword, 10)
	if err != nil {
		return nil, fmt.Errorf("op=agent.Research.Execute: %w", err)
	}

	keyFacts := extractKeyFacts(snippets, 8)
	relatedTerms := extractRelatedTerms(in.Keyword, snippets, 8)
	gaps := competitorGaps(in.Keyword, snippets)

	intent := "informational"
	lower := strings.ToLower(in.Keyword)
	switch {
	case strings.HasPrefix(lower, "buy ") || strings.Contains(lower, "price") || strings.Contains(lower, "cost"):
		intent = "transactional"
	case strings.HasPrefix(lower, "best ") || strings.Contains(lower, "vs ") || strings.Contains(lower, "review"):
		intent = "commercial"
	}

	out := domain.ResearchOutput{
		Keyword:        in.Keyword,
		SearchIntent:   intent,
		KeyFacts:       keyFacts,
		RelatedTerms:   relatedTerms,
		CompetitorGaps: gaps,
		Sources:        sources,
	}

	slog.Info("research agent completed",
		slog.String("job_id", job.ID),
		slog.Int("source_count", len(sources)),
		slog.Int("fact_count", len(keyFacts)))

	return encodeOutput(out)
}

// extractKeyFacts picks sentences of 20 to 220 bytes out of the retrieved
// snippets, in snippet order, skipping duplicates, up to limit. Sentences
// are not ranked by content.
func extractKeyFacts(snippets []string, limit int) []string {
	var facts []string
	seen := map[string]bool{}
	for _, snippet := range snippets {
		for _, sentence := range splitSentences(snippet) {
			s := strings.TrimSpace(sentence)
			if len(s) < 20 || len(s) > 220 {
				continue
			}
			if seen[s] {
				continue
			}
			seen[s] = true
			facts = append(facts, s)
			if len(facts) >= limit {
				return facts
			}
		}
	}
	return facts
}

func splitSentences(text string) []string {
	replaced := strings.NewReplacer("! ", ".\x00", "? ", ".\x00").Replace(text)
	parts := strings.Split(replaced, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.ReplaceAll(p, "\x00", ""))
	}
	return out
}

// extractRelatedTerms collects distinct single words of five or more
// characters from the snippets, lowercased and stripped of punctuation,
// skipping stop words and the keyword itself, up to limit. Words are not
// checked for overlap with the keyword.
func extractRelatedTerms(keyword string, snippets []string, limit int) []string {
	seen := map[string]bool{strings.ToLower(keyword): true}
	var terms []string
	for _, snippet := range snippets {
		for _, word := range strings.Fields(snippet) {
			w := strings.ToLower(strings.Trim(word, ".,!?:;\"'()"))
			if len(w) < 5 || stopWords[w] || seen[w] {
				continue
			}
			seen[w] = true
			terms = append(terms, w)
			if len(terms) >= limit {
				return terms
			}
		}
	}
	return terms
}

// competitorGaps reports each entry of a fixed list of candidate topics
// whose first word does not appear anywhere in the retrieved snippets.
func competitorGaps(keyword string, snippets []string) []string {
	joined := strings.ToLower(strings.Join(snippets, " "))
	candidates := []string{
		"pricing comparison",
		"step-by-step setup guide",
		"common mistakes to avoid",
		"beginner vs advanced use cases",
	}
	var gaps []string
	for _, c := range candidates {
		if !strings.Contains(joined, strings.Split(c, " ")[0]) {
			gaps = append(gaps, fmt.Sprintf("missing %s for %q", c, keyword))
		}
	}
	return gaps
}
