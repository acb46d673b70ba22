// Package domain defines core entities, ports, and domain-specific errors.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrRateLimited        = errors.New("rate limited")
	ErrUpstreamTimeout    = errors.New("upstream timeout")
	ErrUpstreamRateLimit  = errors.New("upstream rate limit")
	ErrSchemaInvalid      = errors.New("schema invalid")
	ErrInternal           = errors.New("internal error")
	ErrIllegalTransition  = errors.New("illegal job state transition")
	ErrAgentNotFound      = errors.New("agent not found")
	ErrPersonaNotFound    = errors.New("persona not found")
	ErrJobCancelled       = errors.New("job cancelled")
	ErrMaxIterationsSpent = errors.New("max iterations reached")
)

// JobStatus captures the lifecycle state of a content-generation job.
type JobStatus string

// Job status values.
const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// AgentName identifies one of the fixed pipeline stages.
type AgentName string

// Fixed pipeline agents, executed in this order on a fresh job.
const (
	AgentResearch      AgentName = "research"
	AgentWriter        AgentName = "writer"
	AgentSEO           AgentName = "seo"
	AgentQA            AgentName = "qa"
	AgentProjectManager AgentName = "project_manager"
)

// validTransitions enumerates the job status edges CanTransition allows.
// Pending->Failed covers a job the orchestrator refuses to start (e.g. a
// settings validation error) before it ever reaches processing.
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobPending:    {JobProcessing: true, JobCancelled: true, JobFailed: true},
	JobProcessing: {JobCompleted: true, JobFailed: true, JobCancelled: true, JobProcessing: true},
	JobCompleted:  {},
	JobFailed:     {JobPending: true}, // retry
	JobCancelled:  {},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal job
// status transition.
func CanTransition(from, to JobStatus) bool {
	edges, ok := validTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// JobSettings captures the per-job knobs a caller may override at creation time.
type JobSettings struct {
	MaxIterations    int                  `json:"max_iterations"`
	QAScoreThreshold float64              `json:"qa_score_threshold"`
	TargetWordCount  int                  `json:"target_word_count"`
	Tone             string               `json:"tone"`
	Persona          string               `json:"persona,omitempty"`
	AutoPost         bool                 `json:"auto_post,omitempty"`
	Template         string               `json:"template,omitempty"`
	Context          string               `json:"context,omitempty"` // free-form brief, capped at 2000 chars
	SkipAgents       map[AgentName]bool   `json:"skip_agents,omitempty"`
	PersonaOverrides map[AgentName]string `json:"persona_overrides,omitempty"`
}

// DefaultJobSettings returns the settings applied when a request omits them.
func DefaultJobSettings() JobSettings {
	return JobSettings{
		MaxIterations:    5,
		QAScoreThreshold: 70,
		TargetWordCount:  1200,
		Tone:             "informative",
	}
}

// Job is the domain model for a content-generation job.
type Job struct {
	ID               string
	Keyword          string
	Status           JobStatus
	CurrentAgent     AgentName
	CurrentIteration int
	Settings         JobSettings
	TotalTokensUsed  int64
	EstimatedCostUSD float64
	ProgressPercent  int
	Priority         int
	FinalOutput      *ArticleOutput
	PageID           *string
	LastError        string
	IdemKey          *string
	CreatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// Step is one execution of one agent within one iteration of a job.
type Step struct {
	ID          string
	JobID       string
	Agent       AgentName
	Iteration   int
	Input       map[string]any
	Output      map[string]any
	TokensUsed  int
	CostUSD     float64
	DurationMS  int64
	Status      string // "succeeded", "failed"
	ErrorMsg    string
	CreatedAt   time.Time
}

// DimensionScores breaks a QA evaluation down into its five equally-weighted
// scoring dimensions, each 0-100.
type DimensionScores struct {
	Readability float64 `json:"readability"`
	SEO         float64 `json:"seo"`
	Accuracy    float64 `json:"accuracy"`
	Engagement  float64 `json:"engagement"`
	BrandVoice  float64 `json:"brand_voice"`
}

// Eval is a QA agent's evaluation of a Writer draft within one iteration,
// linked to the step that produced it.
type Eval struct {
	ID              string
	JobID           string
	StepID          string
	Iteration       int
	Score           float64
	DimensionScores DimensionScores
	Passed          bool
	Issues          []Issue
	Feedback        string
	CreatedAt       time.Time
}

// Issue is one QA-detected defect in a draft. ID is a stable fingerprint of
// category+description so the same defect reported across iterations maps
// to the same issue.
type Issue struct {
	ID           string `json:"id"`
	Category     string `json:"category"` // e.g. "prohibited_pattern", "factual", "structure", "tone"
	Severity     string `json:"severity"` // "low", "medium", "high", "critical"
	Description  string `json:"description"`
	Location     string `json:"location,omitempty"`
	Suggestion   string `json:"suggestion,omitempty"`
	PersistCount int    `json:"persist_count,omitempty"` // number of consecutive QA passes this issue has been seen in, >=1
}

// Persona describes a writing voice loaded from the persona catalog.
type Persona struct {
	Name          string   `yaml:"name" json:"name"`
	Description   string   `yaml:"description" json:"description"`
	Tone          string   `yaml:"tone" json:"tone"`
	Vocabulary    []string `yaml:"vocabulary" json:"vocabulary"`
	AvoidedPhrases []string `yaml:"avoided_phrases" json:"avoided_phrases"`
}

// ResearchOutput is the Research agent's structured result.
type ResearchOutput struct {
	Keyword        string    `json:"keyword"`
	SearchIntent   string    `json:"search_intent"`
	KeyFacts       []string  `json:"key_facts"`
	RelatedTerms   []string  `json:"related_terms"`
	CompetitorGaps []string  `json:"competitor_gaps"`
	Sources        []Source  `json:"sources"`
}

// Source is a single research citation.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Heading is one parsed heading from a Writer draft; Level is the markdown
// heading depth (2-4).
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// WriterOutput is the Writer agent's structured result.
type WriterOutput struct {
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	Body      string    `json:"body"` // markdown
	Excerpt   string    `json:"excerpt"`
	WordCount int       `json:"word_count"`
	Summary   string    `json:"summary"`
	Headings  []Heading `json:"headings,omitempty"`
}

// HeadingAnalysis is the SEO agent's structural review of the draft's
// heading hierarchy.
type HeadingAnalysis struct {
	IsValid     bool     `json:"is_valid"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// KeywordDensity is the SEO agent's measurement of focus-keyword usage.
type KeywordDensity struct {
	Percentage float64 `json:"percentage"`
	Analysis   string  `json:"analysis"`
}

// InternalLink is one suggested internal link the SEO agent recommends
// adding to the draft.
type InternalLink struct {
	AnchorText    string `json:"anchor_text"`
	SuggestedPath string `json:"suggested_path"`
	Reason        string `json:"reason"`
}

// SEOOutput is the SEO agent's structured result.
type SEOOutput struct {
	MetaTitle         string          `json:"meta_title"`
	MetaDescription   string          `json:"meta_description"`
	Slug              string          `json:"slug"`
	Headings          []string        `json:"headings"`
	Keywords          []string        `json:"keywords"`
	RevisedBody       string          `json:"revised_body"`
	HeadingAnalysis   HeadingAnalysis `json:"heading_analysis"`
	KeywordDensity    KeywordDensity  `json:"keyword_density"`
	SchemaMarkup      map[string]any  `json:"schema_markup,omitempty"`
	InternalLinks     []InternalLink  `json:"internal_links,omitempty"`
	OptimizationScore float64         `json:"optimization_score"`
}

// QAOutput is the QA agent's structured result.
type QAOutput struct {
	Score              float64         `json:"score"`
	DimensionScores    DimensionScores `json:"dimension_scores"`
	Passed             bool            `json:"passed"`
	Issues             []Issue         `json:"issues"`
	Feedback           string          `json:"feedback"`
	FixedIssueIds      []string        `json:"fixed_issue_ids,omitempty"`
	PersistingIssueIds []string        `json:"persisting_issue_ids,omitempty"`
}

// Article status values the Project Manager assigns to its final artifact.
const (
	ArticleDraft     = "draft"
	ArticlePublished = "published"
)

// ArticleOutput is the Project Manager agent's final assembled artifact.
type ArticleOutput struct {
	Title            string         `json:"title"`
	Body             string         `json:"body"`
	MetaTitle        string         `json:"meta_title"`
	MetaDescription  string         `json:"meta_description"`
	Slug             string         `json:"slug"`
	Excerpt          string         `json:"excerpt"`
	Keywords         []string       `json:"keywords"`
	SchemaMarkup     map[string]any `json:"schema_markup,omitempty"`
	FocusKeyword     string         `json:"focus_keyword,omitempty"`
	Template         string         `json:"template"`
	Status           string         `json:"status"`
	WordCount        int            `json:"word_count"`
	QAScore          float64        `json:"qa_score"`
	IterationsUsed   int            `json:"iterations_used"`
	ReadyForPublish  bool           `json:"ready_for_publish"`
	Summary          string         `json:"summary"`
	ValidationErrors []string       `json:"validation_errors,omitempty"`
	Recommendations  []string       `json:"recommendations,omitempty"`
}

// Repositories (ports)

// JobRepository is responsible for managing content-pipeline jobs and their
// execution history.
type JobRepository interface {
	Create(ctx Context, j Job) (string, error)
	Get(ctx Context, id string) (Job, error)
	FindByIdempotencyKey(ctx Context, key string) (Job, error)
	List(ctx Context, offset, limit int, status string) ([]Job, error)
	Count(ctx Context) (int64, error)
	CountByStatus(ctx Context, status JobStatus) (int64, error)
	ListWithFilters(ctx Context, offset, limit int, search, status string) ([]Job, error)
	CountWithFilters(ctx Context, search, status string) (int64, error)
	GetAverageProcessingTime(ctx Context) (float64, error)

	// UpdateProgress persists the agent/iteration/progress bookkeeping for a
	// running job without changing its status.
	UpdateProgress(ctx Context, id string, agent AgentName, iteration, progressPercent int, tokensDelta int64, costDelta float64) error
	// Transition moves a job to a new status, validating against domain.CanTransition.
	Transition(ctx Context, id string, to JobStatus, errMsg *string) error
	// Complete finalizes a job with its assembled article.
	Complete(ctx Context, id string, output ArticleOutput, pageID *string) error
	// Cancel requests cooperative cancellation of a running job.
	Cancel(ctx Context, id string) error
	// IsCancelled reports whether cancellation has been requested for a job.
	IsCancelled(ctx Context, id string) (bool, error)
	// Retry resets a failed job back to pending for reprocessing.
	Retry(ctx Context, id string) error

	// ClaimNext atomically claims the next eligible pending job for a worker,
	// ordered by priority then age, skipping rows already locked by other
	// workers. Returns domain.ErrNotFound when no job is eligible.
	ClaimNext(ctx Context) (Job, error)

	AppendStep(ctx Context, step Step) (string, error)
	UpdateStep(ctx Context, stepID string, output map[string]any, tokensUsed int, costUSD float64, durationMS int64, status, errMsg string) error
	ListSteps(ctx Context, jobID string) ([]Step, error)

	InsertEval(ctx Context, e Eval) (string, error)
	ListEvals(ctx Context, jobID string) ([]Eval, error)

	AppendLog(ctx Context, jobID, level, message string) error
	ListLogs(ctx Context, jobID string) ([]SystemLogEntry, error)
}

// SystemLogEntry is one structured log line attached to a job, surfaced via
// the job logs endpoint and the SSE progress stream.
type SystemLogEntry struct {
	ID        string
	JobID     string
	Level     string
	Message   string
	CreatedAt time.Time
}

// PersonaRepository loads the static persona catalog.
type PersonaRepository interface {
	Get(ctx Context, name string) (Persona, error)
	List(ctx Context) ([]Persona, error)
}

// Agent executes one stage of the content pipeline.
type Agent interface {
	Name() AgentName
	Execute(ctx Context, job Job, input map[string]any) (map[string]any, error)
}

// LLMProvider abstracts the chat-completion backend used by agents.
type LLMProvider interface {
	// GenerateJSON sends a system+user prompt pair and returns a response that
	// has already been repaired/validated into syntactically valid JSON.
	GenerateJSON(ctx Context, systemPrompt, userPrompt string, maxTokens int) (string, TokenUsage, error)
	// EstimateTokens returns an approximate token count for the given text.
	EstimateTokens(text string) int
	// CalculateCost converts a token usage into an estimated USD cost for the
	// provider's current model.
	CalculateCost(usage TokenUsage) float64
}

// TokenUsage captures prompt/completion token counts for one LLM call.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Model            string
	Provider         string
}

// ResearchDataSource abstracts the external source of facts used by the
// Research agent (e.g. a search API, or a deterministic stub in tests).
type ResearchDataSource interface {
	Search(ctx Context, query string, limit int) ([]Source, []string, error)
}

// Context is a type alias to stdlib context.Context for convenience across layers.
type Context = context.Context
