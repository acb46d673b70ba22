// Package orchestrator drives a single job through the fixed
// research/writer/seo/qa/project_manager pipeline, with a QA-driven
// feedback loop back to the writer and cooperative cancellation at step
// boundaries.
package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/relayforge/contentpipeline/internal/agent"
	"github.com/relayforge/contentpipeline/internal/domain"
)

// agentWeights are the per-agent progress shares from spec, summing to 100.
var agentWeights = map[domain.AgentName]int{
	domain.AgentResearch:       15,
	domain.AgentWriter:         35,
	domain.AgentSEO:            15,
	domain.AgentQA:             15,
	domain.AgentProjectManager: 20,
}

// progressCeiling is the cap applied until the Project Manager completes, so
// the UI never reports 100% while the job is still running.
const progressCeiling = 95

// defaultPersonaName is the catalog persona resolved when a job sets no
// job-wide or per-agent persona override.
const defaultPersonaName = "default"

// Orchestrator runs one job end to end.
type Orchestrator struct {
	jobs        domain.JobRepository
	personas    domain.PersonaRepository
	registry    *agent.Registry
	llm         domain.LLMProvider
	onCancelled func(jobID string)
}

// New constructs an Orchestrator.
func New(jobs domain.JobRepository, personas domain.PersonaRepository, registry *agent.Registry, llm domain.LLMProvider) *Orchestrator {
	return &Orchestrator{jobs: jobs, personas: personas, registry: registry, llm: llm}
}

// SetOnCancelled registers a callback invoked exactly once whenever Run ends
// a job via cancellation, after the job's status has been transitioned.
func (o *Orchestrator) SetOnCancelled(fn func(jobID string)) {
	o.onCancelled = fn
}

// Run executes the pipeline for jobID to completion, failure, or
// cancellation. It recovers from panics inside agent or step code and
// converts them into a failed job, matching the HTTP layer's own
// panic-to-error boundary.
func (o *Orchestrator) Run(ctx domain.Context, jobID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("internal orchestrator error",
				slog.String("job_id", jobID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			msg := "internal orchestrator error"
			_ = o.jobs.Transition(ctx, jobID, domain.JobFailed, &msg)
			err = fmt.Errorf("op=orchestrator.Run: %w: %v", domain.ErrInternal, r)
		}
	}()

	tracer := otel.Tracer("orchestrator")
	ctx, span := tracer.Start(ctx, "Orchestrator.Run")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("op=orchestrator.Run: %w", err)
	}

	if cancelled, cerr := o.jobs.IsCancelled(ctx, jobID); cerr == nil && cancelled {
		slog.Info("job cancelled before start", slog.String("job_id", jobID))
		return o.cancel(ctx, jobID)
	}

	if err := validateSkipAgents(job.Settings.SkipAgents); err != nil {
		msg := err.Error()
		_ = o.jobs.Transition(ctx, jobID, domain.JobFailed, &msg)
		return fmt.Errorf("op=orchestrator.Run: %w", err)
	}

	if err := o.jobs.Transition(ctx, jobID, domain.JobProcessing, nil); err != nil {
		return fmt.Errorf("op=orchestrator.Run: %w", err)
	}
	job.Status = domain.JobProcessing

	run := &jobRun{o: o, job: job}
	return run.execute(ctx)
}

// validateSkipAgents refuses a job whose settings skip every pipeline agent,
// since there would be nothing left to produce a final article.
func validateSkipAgents(skip map[domain.AgentName]bool) error {
	if len(skip) == 0 {
		return nil
	}
	for _, name := range agent.Pipeline() {
		if !skip[name] {
			return nil
		}
	}
	return fmt.Errorf("%w: skip_agents excludes every pipeline agent", domain.ErrInvalidArgument)
}

// cancel transitions jobID to cancelled and fires the onCancelled callback,
// if set. Every cancellation-detecting call site returns immediately after
// calling this, so it runs at most once per Run call.
func (o *Orchestrator) cancel(ctx domain.Context, jobID string) error {
	if err := o.jobs.Transition(ctx, jobID, domain.JobCancelled, nil); err != nil {
		return fmt.Errorf("op=orchestrator.cancel: %w", err)
	}
	if o.onCancelled != nil {
		o.onCancelled(jobID)
	}
	return domain.ErrJobCancelled
}

// jobRun holds the mutable state of one execution (current agent outputs,
// accumulated progress) so Orchestrator itself stays a read-only singleton.
type jobRun struct {
	o   *Orchestrator
	job domain.Job

	iteration int

	research domain.ResearchOutput
	writer   domain.WriterOutput
	seo      domain.SEOOutput
	qa       domain.QAOutput

	issuesToFix     []domain.Issue
	qaFeedback      string
	previousArticle string

	completedWeight int
}

func (r *jobRun) execute(ctx domain.Context) error {
	r.iteration = 1

	if err := r.checkCancelled(ctx); err != nil {
		return err
	}
	if !r.skipped(domain.AgentResearch) {
		if err := r.runResearch(ctx); err != nil {
			return r.handleStepErr(ctx, err)
		}
	}

	for {
		qaRan := false

		if err := r.checkCancelled(ctx); err != nil {
			return err
		}
		if !r.skipped(domain.AgentWriter) {
			if err := r.runWriter(ctx); err != nil {
				return r.handleStepErr(ctx, err)
			}
		}

		if err := r.checkCancelled(ctx); err != nil {
			return err
		}
		if !r.skipped(domain.AgentSEO) {
			if err := r.runSEO(ctx); err != nil {
				return r.handleStepErr(ctx, err)
			}
		}

		if err := r.checkCancelled(ctx); err != nil {
			return err
		}
		if !r.skipped(domain.AgentQA) {
			if err := r.runQA(ctx); err != nil {
				return r.handleStepErr(ctx, err)
			}
			qaRan = true
		}

		if qaRan && !r.qa.Passed && r.iteration < maxIterations(r.job) {
			r.iteration++
			r.issuesToFix = r.qa.Issues
			r.qaFeedback = r.qa.Feedback
			r.previousArticle = r.writer.Body
			r.completedWeight = agentWeights[domain.AgentResearch] // reset; writer/seo/qa weights re-apply
			continue
		}
		break
	}

	if err := r.runProjectManager(ctx); err != nil {
		return r.handleStepErr(ctx, err)
	}

	slog.Info("job completed", slog.String("job_id", r.job.ID), slog.Int("iterations", r.iteration))
	return nil
}

// skipped reports whether the job's settings exclude name from the pipeline.
func (r *jobRun) skipped(name domain.AgentName) bool {
	return r.job.Settings.SkipAgents[name]
}

// handleStepErr routes a step failure to fail() unless it is a cancellation,
// which has already transitioned the job and must propagate as-is.
func (r *jobRun) handleStepErr(ctx domain.Context, err error) error {
	if errors.Is(err, domain.ErrJobCancelled) {
		return err
	}
	return r.fail(ctx, err)
}

func maxIterations(job domain.Job) int {
	if job.Settings.MaxIterations <= 0 {
		return domain.DefaultJobSettings().MaxIterations
	}
	return job.Settings.MaxIterations
}

func (r *jobRun) checkCancelled(ctx domain.Context) error {
	cancelled, err := r.o.jobs.IsCancelled(ctx, r.job.ID)
	if err != nil {
		slog.Warn("cancellation check failed, proceeding", slog.String("job_id", r.job.ID), slog.Any("error", err))
		return nil
	}
	if !cancelled {
		return nil
	}
	slog.Info("job cancellation observed", slog.String("job_id", r.job.ID))
	return r.o.cancel(ctx, r.job.ID)
}

func (r *jobRun) fail(ctx domain.Context, err error) error {
	msg := err.Error()
	if terr := r.o.jobs.Transition(ctx, r.job.ID, domain.JobFailed, &msg); terr != nil {
		slog.Error("failed to transition job to failed", slog.String("job_id", r.job.ID), slog.Any("error", terr))
	}
	slog.Error("job failed", slog.String("job_id", r.job.ID), slog.Any("error", err))
	return err
}

// resolvePersona resolves the writing persona for one pipeline agent:
// settings.personaOverrides[name], falling back to the job-wide
// settings.persona, falling back to the catalog's "default" persona. A
// persona named by either override that is absent from the catalog fails
// the job with domain.ErrPersonaNotFound rather than silently defaulting.
func (r *jobRun) resolvePersona(ctx domain.Context, name domain.AgentName) (domain.Persona, error) {
	personaName := r.job.Settings.PersonaOverrides[name]
	if personaName == "" {
		personaName = r.job.Settings.Persona
	}
	if personaName == "" {
		personaName = defaultPersonaName
	}
	p, err := r.o.personas.Get(ctx, personaName)
	if err != nil {
		return domain.Persona{}, fmt.Errorf("op=orchestrator.resolvePersona: agent %s: %w", name, err)
	}
	return p, nil
}

// runAgentStep resolves the agent's persona, records, invokes and persists
// one pipeline step, returning its decoded output and step id. It re-checks
// cancellation immediately after the step row is inserted (but before the
// agent runs), so a job cancelled while this step is "in flight" has that
// step marked failed with a cancelled marker rather than left running.
func (r *jobRun) runAgentStep(ctx domain.Context, name domain.AgentName, input map[string]any) (map[string]any, string, error) {
	tracer := otel.Tracer("orchestrator")
	ctx, span := tracer.Start(ctx, "jobRun.runAgentStep")
	defer span.End()
	span.SetAttributes(attribute.String("agent.name", string(name)), attribute.Int("iteration", r.iteration))

	persona, err := r.resolvePersona(ctx, name)
	if err != nil {
		return nil, "", err
	}
	if input == nil {
		input = map[string]any{}
	}
	input["persona"] = persona

	a, err := r.o.registry.Get(name)
	if err != nil {
		return nil, "", fmt.Errorf("op=orchestrator.runAgentStep: %w", err)
	}

	stepID, err := r.o.jobs.AppendStep(ctx, domain.Step{
		JobID:     r.job.ID,
		Agent:     name,
		Iteration: r.iteration,
		Input:     input,
		Status:    "running",
		CreatedAt: time.Now(),
	})
	if err != nil {
		return nil, "", fmt.Errorf("op=orchestrator.runAgentStep: append step: %w", err)
	}

	if cancelled, cerr := r.o.jobs.IsCancelled(ctx, r.job.ID); cerr == nil && cancelled {
		_ = r.o.jobs.UpdateStep(ctx, stepID, nil, 0, 0, 0, "failed", "cancelled")
		cancelErr := r.o.cancel(ctx, r.job.ID)
		return nil, stepID, cancelErr
	}

	start := time.Now()
	output, execErr := a.Execute(ctx, r.job, input)
	duration := time.Since(start)

	if execErr != nil {
		_ = r.o.jobs.UpdateStep(ctx, stepID, nil, 0, 0, duration.Milliseconds(), "failed", execErr.Error())
		return nil, stepID, fmt.Errorf("op=orchestrator.runAgentStep: agent %s: %w", name, execErr)
	}

	usage, clean := agent.ExtractUsage(output)
	cost := 0.0
	if usage.TotalTokens > 0 && r.o.llm != nil {
		cost = r.o.llm.CalculateCost(usage)
	}

	if err := r.o.jobs.UpdateStep(ctx, stepID, clean, usage.TotalTokens, cost, duration.Milliseconds(), "succeeded", ""); err != nil {
		slog.Warn("failed to persist step output", slog.String("job_id", r.job.ID), slog.Any("error", err))
	}

	r.completedWeight += agentWeights[name]
	progress := r.completedWeight * 100 / 100
	if name != domain.AgentProjectManager && progress > progressCeiling {
		progress = progressCeiling
	}
	if err := r.o.jobs.UpdateProgress(ctx, r.job.ID, name, r.iteration, progress, int64(usage.TotalTokens), cost); err != nil {
		slog.Warn("failed to persist progress", slog.String("job_id", r.job.ID), slog.Any("error", err))
	}

	return clean, stepID, nil
}

func decode(output map[string]any, dst any) error {
	b, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("encode step output: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decode step output: %w", err)
	}
	return nil
}

func (r *jobRun) runResearch(ctx domain.Context) error {
	out, _, err := r.runAgentStep(ctx, domain.AgentResearch, map[string]any{
		"keyword":           r.job.Keyword,
		"target_word_count": r.job.Settings.TargetWordCount,
	})
	if err != nil {
		return err
	}
	return decode(out, &r.research)
}

func (r *jobRun) runWriter(ctx domain.Context) error {
	out, _, err := r.runAgentStep(ctx, domain.AgentWriter, map[string]any{
		"keyword":           r.job.Keyword,
		"research_data":     r.research,
		"target_word_count": r.job.Settings.TargetWordCount,
		"qa_feedback":       r.qaFeedback,
		"issues_to_fix":     r.issuesToFix,
		"previous_article":  r.previousArticle,
		"iteration":         r.iteration,
		"tone":              r.job.Settings.Tone,
	})
	if err != nil {
		return err
	}
	return decode(out, &r.writer)
}

func (r *jobRun) runSEO(ctx domain.Context) error {
	out, _, err := r.runAgentStep(ctx, domain.AgentSEO, map[string]any{
		"keyword":       r.job.Keyword,
		"article":       r.writer,
		"research_data": r.research,
	})
	if err != nil {
		return err
	}
	return decode(out, &r.seo)
}

func (r *jobRun) runQA(ctx domain.Context) error {
	article := r.seo.RevisedBody
	if article == "" {
		article = r.writer.Body
	}
	previousIssues := r.qa.Issues

	out, stepID, err := r.runAgentStep(ctx, domain.AgentQA, map[string]any{
		"keyword":         r.job.Keyword,
		"article":         article,
		"iteration":       r.iteration,
		"previous_issues": previousIssues,
	})
	if err != nil {
		return err
	}
	if err := decode(out, &r.qa); err != nil {
		return err
	}

	eval := domain.Eval{
		JobID:           r.job.ID,
		StepID:          stepID,
		Iteration:       r.iteration,
		Score:           r.qa.Score,
		DimensionScores: r.qa.DimensionScores,
		Passed:          r.qa.Passed,
		Issues:          r.qa.Issues,
		Feedback:        r.qa.Feedback,
	}
	if _, ierr := r.o.jobs.InsertEval(ctx, eval); ierr != nil {
		slog.Warn("failed to record qa eval", slog.String("job_id", r.job.ID), slog.Any("error", ierr))
	}
	return nil
}

func (r *jobRun) runProjectManager(ctx domain.Context) error {
	input := map[string]any{
		"keyword":         r.job.Keyword,
		"writer":          r.writer,
		"seo":             r.seo,
		"qa":              r.qa,
		"settings":        r.job.Settings,
		"iterations_used": r.iteration,
	}

	var out map[string]any
	if r.skipped(domain.AgentProjectManager) {
		// The Project Manager is a deterministic, non-LLM assembly step: even
		// when the caller skips it, a final article is still required to
		// complete the job, so it runs directly without step bookkeeping.
		a, err := r.o.registry.Get(domain.AgentProjectManager)
		if err != nil {
			return fmt.Errorf("op=orchestrator.runProjectManager: %w", err)
		}
		out, err = a.Execute(ctx, r.job, input)
		if err != nil {
			return fmt.Errorf("op=orchestrator.runProjectManager: %w", err)
		}
	} else {
		var err error
		out, _, err = r.runAgentStep(ctx, domain.AgentProjectManager, input)
		if err != nil {
			return err
		}
	}

	var article domain.ArticleOutput
	if err := decode(out, &article); err != nil {
		return err
	}

	if err := r.o.jobs.Complete(ctx, r.job.ID, article, nil); err != nil {
		return fmt.Errorf("op=orchestrator.runProjectManager: %w", err)
	}
	return nil
}
