package agent

import (
	"fmt"
	"strings"

	"github.com/relayforge/contentpipeline/internal/domain"
	"github.com/relayforge/contentpipeline/pkg/textx"
)

// PMInput is the Project Manager agent's decoded step input.
type PMInput struct {
	Keyword  string              `json:"keyword"`
	Writer   domain.WriterOutput `json:"writer"`
	SEO      domain.SEOOutput    `json:"seo"`
	QA       domain.QAOutput     `json:"qa"`
	Settings domain.JobSettings  `json:"settings"`
	Iteration int                `json:"iterations_used"`
}

// ProjectManagerAgent deterministically assembles the final article from
// the Writer/SEO/QA outputs. It makes no LLM calls and uses zero tokens.
type ProjectManagerAgent struct{}

// NewProjectManagerAgent constructs a ProjectManagerAgent.
func NewProjectManagerAgent() *ProjectManagerAgent { return &ProjectManagerAgent{} }

// Name implements domain.Agent.
func (a *ProjectManagerAgent) Name() domain.AgentName { return domain.AgentProjectManager }

// Execute implements domain.Agent.
func (a *ProjectManagerAgent) Execute(_ domain.Context, _ domain.Job, input map[string]any) (map[string]any, error) {
	var in PMInput
	if err := decodeInput(input, &in); err != nil {
		return nil, fmt.Errorf("op=agent.ProjectManager.Execute: %w: %v", domain.ErrSchemaInvalid, err)
	}

	seoPresent := in.SEO.MetaTitle != "" || in.SEO.MetaDescription != "" || in.SEO.OptimizationScore != 0 || len(in.SEO.Keywords) > 0
	qaPresent := in.QA.Feedback != "" || in.QA.Score != 0 || in.QA.Passed || len(in.QA.Issues) > 0

	title := textx.SanitizeText(in.Writer.Title)
	body := in.Writer.Body
	if in.SEO.RevisedBody != "" {
		body = in.SEO.RevisedBody
	}
	body = textx.SanitizeText(body)

	slug := in.SEO.Slug
	if slug == "" {
		slug = in.Writer.Slug
	}
	if slug == "" {
		slug = Slugify(title)
	}

	metaTitle := in.SEO.MetaTitle
	if metaTitle == "" {
		metaTitle = truncate(title, 60)
	}
	metaDescription := in.SEO.MetaDescription
	if metaDescription == "" {
		metaDescription = truncate(in.Writer.Excerpt, 160)
	}

	schemaMarkup := in.SEO.SchemaMarkup
	if schemaMarkup == nil {
		schemaMarkup = map[string]any{"@context": "https://schema.org", "@type": "Article"}
	}

	template := in.Settings.Template
	if template == "" {
		template = "article"
	}

	status := domain.ArticleDraft
	if in.Settings.AutoPost {
		status = domain.ArticlePublished
	}

	wordCount := in.Writer.WordCount
	if wordCount == 0 {
		wordCount = len(strings.Fields(body))
	}

	out := domain.ArticleOutput{
		Title:           title,
		Body:            body,
		MetaTitle:       metaTitle,
		MetaDescription: metaDescription,
		Slug:            slug,
		Excerpt:         in.Writer.Excerpt,
		Keywords:        in.SEO.Keywords,
		SchemaMarkup:    schemaMarkup,
		FocusKeyword:    in.Keyword,
		Template:        template,
		Status:          status,
		WordCount:       wordCount,
		QAScore:         in.QA.Score,
		IterationsUsed:  in.Iteration,
	}

	var validationErrors []string
	if strings.TrimSpace(title) == "" {
		validationErrors = append(validationErrors, "missing title")
	}
	if strings.TrimSpace(body) == "" {
		validationErrors = append(validationErrors, "missing content")
	}
	if wordCount < 300 {
		validationErrors = append(validationErrors, "too short")
	}
	if qaPresent && !in.QA.Passed {
		validationErrors = append(validationErrors, "QA check failed")
	}
	out.ValidationErrors = validationErrors
	out.ReadyForPublish = len(validationErrors) == 0

	var recommendations []string
	if seoPresent && in.SEO.OptimizationScore < 70 {
		recommendations = append(recommendations, "Improve SEO")
	}
	if len(in.SEO.InternalLinks) == 0 {
		recommendations = append(recommendations, "consider internal links")
	}
	if qaPresent && !in.QA.Passed {
		recommendations = append(recommendations, "address QA feedback")
	}
	if wordCount < 500 {
		recommendations = append(recommendations, "consider expanding")
	}
	out.Recommendations = recommendations

	out.Summary = buildSummary(title, in.SEO.OptimizationScore, seoPresent, in.QA.Score, qaPresent)

	return encodeOutput(out)
}

// buildSummary composes the Project Manager's human-readable wrap-up:
// always the title, plus the SEO and QA scores when those agents ran.
func buildSummary(title string, seoScore float64, seoPresent bool, qaScore float64, qaPresent bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%q is ready for review.", title)
	if seoPresent {
		fmt.Fprintf(&b, " SEO optimization score: %.0f.", seoScore)
	}
	if qaPresent {
		fmt.Fprintf(&b, " QA score: %.0f.", qaScore)
	}
	return b.String()
}
