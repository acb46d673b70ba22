package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/relayforge/contentpipeline/internal/domain"
)

// AppendStep inserts a new agent execution step and returns its id.
func (r *JobRepo) AppendStep(ctx domain.Context, step domain.Step) (string, error) {
	tracer := otel.Tracer("repo.steps")
	ctx, span := tracer.Start(ctx, "steps.Append")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "INSERT"), attribute.String("db.sql.table", "steps"))

	id := step.ID
	if id == "" {
		id = uuid.New().String()
	}
	input, err := json.Marshal(step.Input)
	if err != nil {
		return "", fmt.Errorf("op=step.append: %w", err)
	}
	output, err := json.Marshal(step.Output)
	if err != nil {
		return "", fmt.Errorf("op=step.append: %w", err)
	}

	q := `INSERT INTO steps (id, job_id, agent, iteration, input, output, tokens_used, cost_usd, duration_ms, status, error_msg, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err = r.Pool.Exec(ctx, q, id, step.JobID, step.Agent, step.Iteration, input, output, step.TokensUsed, step.CostUSD, step.DurationMS, step.Status, step.ErrorMsg, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("op=step.append: %w", err)
	}
	return id, nil
}

// UpdateStep records the outcome of a previously appended step.
func (r *JobRepo) UpdateStep(ctx domain.Context, stepID string, output map[string]any, tokensUsed int, costUSD float64, durationMS int64, status, errMsg string) error {
	b, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("op=step.update: %w", err)
	}
	q := `UPDATE steps SET output=$2, tokens_used=$3, cost_usd=$4, duration_ms=$5, status=$6, error_msg=$7 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, stepID, b, tokensUsed, costUSD, durationMS, status, errMsg); err != nil {
		return fmt.Errorf("op=step.update: %w", err)
	}
	return nil
}

// ListSteps returns all steps for a job ordered by creation time.
func (r *JobRepo) ListSteps(ctx domain.Context, jobID string) ([]domain.Step, error) {
	q := `SELECT id, job_id, agent, iteration, input, output, tokens_used, cost_usd, duration_ms, status, error_msg, created_at
		FROM steps WHERE job_id=$1 ORDER BY created_at ASC`
	rows, err := r.Pool.Query(ctx, q, jobID)
	if err != nil {
		return nil, fmt.Errorf("op=step.list: %w", err)
	}
	defer rows.Close()

	var steps []domain.Step
	for rows.Next() {
		var s domain.Step
		var input, output []byte
		if err := rows.Scan(&s.ID, &s.JobID, &s.Agent, &s.Iteration, &input, &output, &s.TokensUsed, &s.CostUSD, &s.DurationMS, &s.Status, &s.ErrorMsg, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=step.list_scan: %w", err)
		}
		_ = json.Unmarshal(input, &s.Input)
		_ = json.Unmarshal(output, &s.Output)
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=step.list_rows: %w", err)
	}
	return steps, nil
}

// InsertEval records one QA evaluation pass, linked to its step, and returns
// its id.
func (r *JobRepo) InsertEval(ctx domain.Context, e domain.Eval) (string, error) {
	id := e.ID
	if id == "" {
		id = uuid.New().String()
	}
	issues, err := json.Marshal(e.Issues)
	if err != nil {
		return "", fmt.Errorf("op=eval.insert: %w", err)
	}
	q := `INSERT INTO evals (id, job_id, step_id, iteration, score, readability, seo_score, accuracy, engagement, brand_voice, passed, issues, feedback, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
	_, err = r.Pool.Exec(ctx, q, id, e.JobID, nullableString(e.StepID), e.Iteration, e.Score,
		e.DimensionScores.Readability, e.DimensionScores.SEO, e.DimensionScores.Accuracy, e.DimensionScores.Engagement, e.DimensionScores.BrandVoice,
		e.Passed, issues, e.Feedback, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("op=eval.insert: %w", err)
	}
	return id, nil
}

// nullableString converts an empty string to nil so it is stored as SQL NULL
// rather than an empty string, matching the steps table's FK convention.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ListEvals returns all QA evaluations for a job ordered by iteration.
func (r *JobRepo) ListEvals(ctx domain.Context, jobID string) ([]domain.Eval, error) {
	q := `SELECT id, job_id, COALESCE(step_id, ''), iteration, score, readability, seo_score, accuracy, engagement, brand_voice, passed, issues, feedback, created_at
		FROM evals WHERE job_id=$1 ORDER BY iteration ASC`
	rows, err := r.Pool.Query(ctx, q, jobID)
	if err != nil {
		return nil, fmt.Errorf("op=eval.list: %w", err)
	}
	defer rows.Close()

	var evals []domain.Eval
	for rows.Next() {
		var e domain.Eval
		var issues []byte
		if err := rows.Scan(&e.ID, &e.JobID, &e.StepID, &e.Iteration, &e.Score,
			&e.DimensionScores.Readability, &e.DimensionScores.SEO, &e.DimensionScores.Accuracy, &e.DimensionScores.Engagement, &e.DimensionScores.BrandVoice,
			&e.Passed, &issues, &e.Feedback, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=eval.list_scan: %w", err)
		}
		_ = json.Unmarshal(issues, &e.Issues)
		evals = append(evals, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=eval.list_rows: %w", err)
	}
	return evals, nil
}

// AppendLog records a system log line associated with a job, surfaced over
// the job's logs endpoint and SSE stream.
func (r *JobRepo) AppendLog(ctx domain.Context, jobID, level, message string) error {
	q := `INSERT INTO system_logs (id, job_id, level, message, created_at) VALUES ($1,$2,$3,$4,$5)`
	_, err := r.Pool.Exec(ctx, q, uuid.New().String(), jobID, level, message, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=log.append: %w", err)
	}
	return nil
}

// ListLogs returns all system log lines for a job ordered by creation time.
func (r *JobRepo) ListLogs(ctx domain.Context, jobID string) ([]domain.SystemLogEntry, error) {
	q := `SELECT id, job_id, level, message, created_at FROM system_logs WHERE job_id=$1 ORDER BY created_at ASC`
	rows, err := r.Pool.Query(ctx, q, jobID)
	if err != nil {
		return nil, fmt.Errorf("op=log.list: %w", err)
	}
	defer rows.Close()

	var entries []domain.SystemLogEntry
	for rows.Next() {
		var e domain.SystemLogEntry
		if err := rows.Scan(&e.ID, &e.JobID, &e.Level, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=log.list_scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=log.list_rows: %w", err)
	}
	return entries, nil
}
