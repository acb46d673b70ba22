package agent

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/relayforge/contentpipeline/internal/domain"
)

// WriterInput is the Writer agent's decoded step input.
type WriterInput struct {
	Keyword         string               `json:"keyword"`
	Research        domain.ResearchOutput `json:"research_data"`
	TargetWordCount int                  `json:"target_word_count"`
	QAFeedback      string               `json:"qa_feedback,omitempty"`
	IssuesToFix     []domain.Issue       `json:"issues_to_fix,omitempty"`
	PreviousArticle string               `json:"previous_article,omitempty"`
	Iteration       int                  `json:"iteration,omitempty"`
	Tone            string               `json:"tone,omitempty"`
	Persona         domain.Persona       `json:"persona"`
}

// WriterAgent drafts (or revises) the article body via the LLM provider.
type WriterAgent struct {
	llm domain.LLMProvider
}

// NewWriterAgent constructs a WriterAgent over the given LLM provider.
func NewWriterAgent(llm domain.LLMProvider) *WriterAgent {
	return &WriterAgent{llm: llm}
}

// Name implements domain.Agent.
func (a *WriterAgent) Name() domain.AgentName { return domain.AgentWriter }

// Execute implements domain.Agent.
func (a *WriterAgent) Execute(ctx domain.Context, job domain.Job, input map[string]any) (map[string]any, error) {
	var in WriterInput
	if err := decodeInput(input, &in); err != nil {
		return nil, fmt.Errorf("op=agent.Writer.Execute: %w: %v", domain.ErrSchemaInvalid, err)
	}
	if strings.TrimSpace(in.Keyword) == "" {
		return nil, fmt.Errorf("op=agent.Writer.Execute: %w: keyword required", domain.ErrInvalidArgument)
	}
	if in.TargetWordCount <= 0 {
		in.TargetWordCount = 1200
	}

	slog.Info("writer agent starting",
		slog.String("job_id", job.ID),
		slog.Int("iteration", in.Iteration),
		slog.Int("target_word_count", in.TargetWordCount))

	systemPrompt := writerSystemPrompt(in.Persona, in.Tone)
	userPrompt := writerUserPrompt(in)

	maxTokens := 4096
	if in.TargetWordCount > 2000 {
		maxTokens = 8192
	}

	raw, usage, err := a.llm.GenerateJSON(ctx, systemPrompt, userPrompt, maxTokens)
	if err != nil {
		return nil, fmt.Errorf("op=agent.Writer.Execute: %w", err)
	}

	var out domain.WriterOutput
	if err := unmarshalJSON(raw, &out); err != nil {
		return nil, fmt.Errorf("op=agent.Writer.Execute: %w: %v", domain.ErrSchemaInvalid, err)
	}
	if out.WordCount == 0 {
		out.WordCount = len(strings.Fields(out.Body))
	}
	if out.Slug == "" {
		out.Slug = Slugify(out.Title)
	}
	if out.Excerpt == "" {
		out.Excerpt = truncate(out.Summary, 160)
	}
	if len(out.Headings) == 0 {
		out.Headings = extractHeadings(out.Body)
	}

	slog.Info("writer agent completed",
		slog.String("job_id", job.ID),
		slog.Int("word_count", out.WordCount),
		slog.Int("total_tokens", usage.TotalTokens))

	result, err := encodeOutput(out)
	if err != nil {
		return nil, err
	}
	result[usageKey] = usage
	return result, nil
}

// extractHeadings parses markdown ##-#### headings out of body, used as a
// fallback when the LLM response omits the headings field.
func extractHeadings(body string) []domain.Heading {
	matches := headingPattern.FindAllStringSubmatch(body, -1)
	headings := make([]domain.Heading, 0, len(matches))
	for _, m := range matches {
		level := strings.Count(strings.Split(m[0], " ")[0], "#")
		headings = append(headings, domain.Heading{Level: level, Text: strings.TrimSpace(m[1])})
	}
	return headings
}

func writerSystemPrompt(persona domain.Persona, tone string) string {
	var b strings.Builder
	b.WriteString("You are a professional content writer producing a publishable article. ")
	b.WriteString("Respond with valid JSON only, matching this shape exactly: ")
	b.WriteString(`{"title":"...","slug":"...","body":"... markdown ...","excerpt":"...(<=160 chars)","word_count":0,"summary":"...","headings":[{"level":2,"text":"..."}]}. `)
	b.WriteString("No code fences, no prose outside the JSON object.")
	if persona.Name != "" {
		b.WriteString(fmt.Sprintf(" Write in the voice of %q: %s", persona.Name, persona.Description))
		if len(persona.Vocabulary) > 0 {
			b.WriteString(" Favor vocabulary such as: " + strings.Join(persona.Vocabulary, ", ") + ".")
		}
		if len(persona.AvoidedPhrases) > 0 {
			b.WriteString(" Avoid these phrases entirely: " + strings.Join(persona.AvoidedPhrases, ", ") + ".")
		}
	}
	if tone != "" {
		b.WriteString(fmt.Sprintf(" Overall tone: %s.", tone))
	}
	b.WriteString(" Never use emojis, em-dashes, or sensational words like 'amazing' or 'incredible'.")
	return b.String()
}

func writerUserPrompt(in WriterInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Keyword: %s\n", in.Keyword)
	fmt.Fprintf(&b, "Target word count: %d\n", in.TargetWordCount)
	fmt.Fprintf(&b, "Search intent: %s\n", in.Research.SearchIntent)

	if len(in.Research.KeyFacts) > 0 {
		b.WriteString("\nKey facts to incorporate:\n")
		for _, f := range in.Research.KeyFacts {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	if len(in.Research.RelatedTerms) > 0 {
		fmt.Fprintf(&b, "\nRelated terms to weave in naturally: %s\n", strings.Join(in.Research.RelatedTerms, ", "))
	}
	if len(in.Research.CompetitorGaps) > 0 {
		b.WriteString("\nContent gaps competitors have missed (address these):\n")
		for _, g := range in.Research.CompetitorGaps {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}

	if in.Iteration > 1 && in.PreviousArticle != "" {
		b.WriteString("\n--- REVISION REQUEST ---\n")
		b.WriteString("This is a revision of a previous draft. Preserve all content not called out below.\n\n")
		b.WriteString("Previous article:\n")
		b.WriteString(in.PreviousArticle)
		b.WriteString("\n\n")
		if in.QAFeedback != "" {
			fmt.Fprintf(&b, "Reviewer feedback: %s\n\n", in.QAFeedback)
		}
		if len(in.IssuesToFix) > 0 {
			b.WriteString(revisionDirective(in.IssuesToFix))
		}
	}

	return b.String()
}

// revisionDirective groups issues by severity, highest first, and marks
// anything recurring across iterations as must-fix, per the feedback-loop
// escalation rule.
func revisionDirective(issues []domain.Issue) string {
	order := map[string]int{"critical": 0, "high": 1, "medium": 2, "low": 3}
	sorted := make([]domain.Issue, len(issues))
	copy(sorted, issues)
	sort.SliceStable(sorted, func(i, j int) bool { return order[sorted[i].Severity] < order[sorted[j].Severity] })

	var b strings.Builder
	b.WriteString("Issues to fix, grouped by severity:\n")
	for _, iss := range sorted {
		suffix := ""
		if strings.Contains(iss.Description, "must fix") {
			suffix = " (must fix: this issue persisted across iterations)"
		}
		fmt.Fprintf(&b, "- [%s] %s%s\n", iss.Severity, iss.Description, suffix)
	}
	return b.String()
}
