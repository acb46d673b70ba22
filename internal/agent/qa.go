package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/relayforge/contentpipeline/internal/domain"
)

// sensationalWordList is the fixed, case-insensitive list of "sensational"
// words the prohibited-pattern detector flags as a medium-severity issue.
var sensationalWordList = []string{"amazing", "incredible", "unbelievable", "game-changing", "mind-blowing", "revolutionary"}

var emDashPattern = regexp.MustCompile(`\x{2014}`)

// QAInput is the QA agent's decoded step input.
type QAInput struct {
	Keyword        string          `json:"keyword"`
	Article        string          `json:"article"`
	Iteration      int             `json:"iteration"`
	PreviousIssues []domain.Issue  `json:"previous_issues,omitempty"`
}

// QAAgent scores a draft against five equally-weighted dimensions, penalizes
// deterministically-detected prohibited content, and tracks which issues
// persist across iterations.
type QAAgent struct {
	llm       domain.LLMProvider
	threshold float64
}

// NewQAAgent constructs a QAAgent over the given LLM provider. threshold is
// the minimum overallScore (0-100) required to pass, absent a critical issue.
func NewQAAgent(llm domain.LLMProvider, threshold float64) *QAAgent {
	if threshold <= 0 {
		threshold = 70
	}
	return &QAAgent{llm: llm, threshold: threshold}
}

// Name implements domain.Agent.
func (a *QAAgent) Name() domain.AgentName { return domain.AgentQA }

// Execute implements domain.Agent.
func (a *QAAgent) Execute(ctx domain.Context, job domain.Job, input map[string]any) (map[string]any, error) {
	var in QAInput
	if err := decodeInput(input, &in); err != nil {
		return nil, fmt.Errorf("op=agent.QA.Execute: %w: %v", domain.ErrSchemaInvalid, err)
	}
	if strings.TrimSpace(in.Article) == "" {
		return nil, fmt.Errorf("op=agent.QA.Execute: %w: article required", domain.ErrInvalidArgument)
	}

	slog.Info("qa agent starting", slog.String("job_id", job.ID), slog.Int("iteration", in.Iteration))

	prohibited := DetectProhibitedPatterns(in.Article)

	systemPrompt := "You are a strict technical QA reviewer scoring an article draft. Respond with valid JSON only, matching this shape exactly: " +
		`{"readability":0,"seo":0,"accuracy":0,"engagement":0,"brand_voice":0,"feedback":"...","issues":[{"category":"...","severity":"low|medium|high|critical","description":"...","suggestion":"..."}]}. ` +
		"Each dimension is scored 0-100. No code fences, no prose outside JSON."
	userPrompt := fmt.Sprintf("Keyword: %s\n\nArticle:\n%s", in.Keyword, in.Article)

	raw, usage, err := a.llm.GenerateJSON(ctx, systemPrompt, userPrompt, 2048)
	if err != nil {
		return nil, fmt.Errorf("op=agent.QA.Execute: %w", err)
	}

	var scored struct {
		Readability float64        `json:"readability"`
		SEO         float64        `json:"seo"`
		Accuracy    float64        `json:"accuracy"`
		Engagement  float64        `json:"engagement"`
		BrandVoice  float64        `json:"brand_voice"`
		Feedback    string         `json:"feedback"`
		Issues      []domain.Issue `json:"issues"`
	}
	if err := unmarshalJSON(raw, &scored); err != nil {
		return nil, fmt.Errorf("op=agent.QA.Execute: %w: %v", domain.ErrSchemaInvalid, err)
	}

	overallScore := (scored.Readability + scored.SEO + scored.Accuracy + scored.Engagement + scored.BrandVoice) / 5
	dimensions := domain.DimensionScores{
		Readability: scored.Readability,
		SEO:         scored.SEO,
		Accuracy:    scored.Accuracy,
		Engagement:  scored.Engagement,
		BrandVoice:  scored.BrandVoice,
	}

	allIssues := append(append([]domain.Issue{}, prohibited...), scored.Issues...)
	for i := range allIssues {
		if allIssues[i].ID == "" {
			allIssues[i].ID = fingerprintIssue(allIssues[i])
		}
	}
	allIssues = markPersisting(allIssues, in.PreviousIssues)
	fixedIDs, persistingIDs := diffIssues(allIssues, in.PreviousIssues)

	var criticalCount int
	var highCount int
	var mediumCount int
	for _, iss := range allIssues {
		switch iss.Severity {
		case "critical":
			criticalCount++
		case "high":
			highCount++
		case "medium":
			mediumCount++
		}
	}
	overallScore -= float64(criticalCount)*20 + float64(highCount)*8 + float64(mediumCount)*3
	if overallScore < 0 {
		overallScore = 0
	}
	if overallScore > 100 {
		overallScore = 100
	}

	passed := overallScore >= a.threshold && criticalCount == 0

	out := domain.QAOutput{
		Score:              overallScore,
		DimensionScores:    dimensions,
		Passed:             passed,
		Issues:             allIssues,
		Feedback:           scored.Feedback,
		FixedIssueIds:      fixedIDs,
		PersistingIssueIds: persistingIDs,
	}

	slog.Info("qa agent completed",
		slog.String("job_id", job.ID),
		slog.Float64("score", overallScore),
		slog.Bool("passed", passed),
		slog.Int("issue_count", len(allIssues)))

	result, err := encodeOutput(out)
	if err != nil {
		return nil, err
	}
	result[usageKey] = usage
	return result, nil
}

// DetectProhibitedPatterns deterministically scans article content for
// emojis (critical), em-dashes (high), and sensational words (medium),
// before any LLM scoring happens.
func DetectProhibitedPatterns(article string) []domain.Issue {
	var issues []domain.Issue

	if hasEmoji(article) {
		issues = append(issues, domain.Issue{
			Category:    "prohibited_pattern",
			Severity:    "critical",
			Description: "article contains emoji characters",
			Suggestion:  "remove all emoji characters from the article body",
		})
	}

	if emDashPattern.MatchString(article) {
		issues = append(issues, domain.Issue{
			Category:    "prohibited_pattern",
			Severity:    "high",
			Description: "article contains an em-dash (U+2014)",
			Suggestion:  "replace em-dashes with a period, comma, or parentheses",
		})
	}

	if word, ok := findSensationalWord(article); ok {
		issues = append(issues, domain.Issue{
			Category:    "prohibited_pattern",
			Severity:    "medium",
			Description: fmt.Sprintf("article contains sensational word %q", word),
			Suggestion:  "replace with a more measured, specific claim",
		})
	}

	for i := range issues {
		issues[i].ID = fingerprintIssue(issues[i])
	}
	return issues
}

func hasEmoji(s string) bool {
	for _, r := range s {
		if isEmojiRune(r) {
			return true
		}
	}
	return false
}

// isEmojiRune reports whether r falls in one of the common Unicode emoji
// blocks. This is a pragmatic subset, not the full Unicode emoji property
// table.
func isEmojiRune(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF: // misc symbols, pictographs, emoticons, transport, supplemental
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols & dingbats
		return true
	case r == 0x2764: // heavy black heart
		return true
	case unicode.Is(unicode.So, r) && r > 0x2000:
		return true
	}
	return false
}

var wordBoundary = regexp.MustCompile(`[a-zA-Z'-]+`)

func findSensationalWord(article string) (string, bool) {
	words := wordBoundary.FindAllString(article, -1)
	for _, w := range words {
		lower := strings.ToLower(w)
		for _, banned := range sensationalWordList {
			if lower == banned {
				return lower, true
			}
		}
	}
	return "", false
}

// fingerprintIssue computes a stable issue ID as sha256(category +
// normalized-description), so the same defect reported across iterations
// maps to the same ID.
func fingerprintIssue(iss domain.Issue) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(iss.Description), " "))
	h := sha256.Sum256([]byte(iss.Category + "|" + normalized))
	return hex.EncodeToString(h[:])[:16]
}

// markPersisting compares the current issue set against the previous
// iteration's, escalating the description of any issue whose ID appears in
// both (so a downstream revision directive can flag it "must fix" once it
// has persisted at least once) and carrying forward its persist count.
func markPersisting(current, previous []domain.Issue) []domain.Issue {
	prevByID := make(map[string]domain.Issue, len(previous))
	for _, p := range previous {
		prevByID[p.ID] = p
	}
	for i := range current {
		prev, ok := prevByID[current[i].ID]
		if !ok {
			current[i].PersistCount = 1
			continue
		}
		current[i].PersistCount = prev.PersistCount + 1
		if !strings.Contains(current[i].Description, "must fix") {
			current[i].Description = current[i].Description + " (must fix: persisted from a previous iteration)"
		}
	}
	return current
}

// diffIssues splits previous's issue IDs into those no longer present in
// current (fixed) and those still present (persisting). Both sets are
// subsets of previous's IDs and are disjoint by construction.
func diffIssues(current, previous []domain.Issue) (fixed, persisting []string) {
	currentIDs := make(map[string]bool, len(current))
	for _, c := range current {
		currentIDs[c.ID] = true
	}
	for _, p := range previous {
		if currentIDs[p.ID] {
			persisting = append(persisting, p.ID)
		} else {
			fixed = append(fixed, p.ID)
		}
	}
	return fixed, persisting
}
