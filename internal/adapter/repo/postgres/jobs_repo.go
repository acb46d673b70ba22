// Package postgres provides PostgreSQL database adapters.
//
// It implements repository interfaces for data persistence.
// The package provides type-safe database operations with
// connection pooling and transaction support.
package postgres

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/relayforge/contentpipeline/internal/domain"
)

// JobRepo persists and loads content-pipeline jobs from PostgreSQL using a
// minimal pgx pool.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

// Create inserts a new pending job and returns its id.
func (r *JobRepo) Create(ctx domain.Context, j domain.Job) (string, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "INSERT"), attribute.String("db.sql.table", "jobs"))

	id := j.ID
	if id == "" {
		id = uuid.New().String()
	}
	settings, err := json.Marshal(j.Settings)
	if err != nil {
		return "", fmt.Errorf("op=job.create: %w", err)
	}

	now := time.Now().UTC()
	q := `INSERT INTO jobs (id, keyword, status, current_agent, current_iteration, settings, total_tokens_used,
		estimated_cost_usd, progress_percent, priority, last_error, idempotency_key, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`
	_, err = r.Pool.Exec(ctx, q, id, j.Keyword, domain.JobPending, "", 0, settings, int64(0), float64(0), 0, j.Priority, "", j.IdemKey, j.CreatedBy, now, now)
	if err != nil {
		return "", fmt.Errorf("op=job.create: %w", err)
	}
	return id, nil
}

const jobColumns = `id, keyword, status, current_agent, current_iteration, settings, total_tokens_used,
	estimated_cost_usd, progress_percent, priority, final_output, page_id, last_error, idempotency_key,
	created_by, created_at, updated_at, started_at, completed_at`

func scanJob(row pgx.Row) (domain.Job, error) {
	var j domain.Job
	var settings []byte
	var finalOutput []byte
	var pageID *string
	var idem *string
	if err := row.Scan(&j.ID, &j.Keyword, &j.Status, &j.CurrentAgent, &j.CurrentIteration, &settings,
		&j.TotalTokensUsed, &j.EstimatedCostUSD, &j.ProgressPercent, &j.Priority, &finalOutput, &pageID,
		&j.LastError, &idem, &j.CreatedBy, &j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
		return domain.Job{}, err
	}
	if len(settings) > 0 {
		_ = json.Unmarshal(settings, &j.Settings)
	}
	if len(finalOutput) > 0 {
		var out domain.ArticleOutput
		if err := json.Unmarshal(finalOutput, &out); err == nil {
			j.FinalOutput = &out
		}
	}
	j.PageID = pageID
	j.IdemKey = idem
	return j, nil
}

// Get loads a job by id.
func (r *JobRepo) Get(ctx domain.Context, id string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"), attribute.String("db.sql.table", "jobs"))

	row := r.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1`, id)
	j, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Job{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.get: %w", err)
	}
	return j, nil
}

// FindByIdempotencyKey loads a job by idempotency key.
func (r *JobRepo) FindByIdempotencyKey(ctx domain.Context, key string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.FindByIdempotencyKey")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"), attribute.String("db.sql.table", "jobs"))

	row := r.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE idempotency_key=$1 LIMIT 1`, key)
	j, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Job{}, fmt.Errorf("op=job.find_idem: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.find_idem: %w", err)
	}
	return j, nil
}

// Count returns the total number of jobs.
func (r *JobRepo) Count(ctx domain.Context) (int64, error) {
	row := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs`)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("op=job.count: %w", err)
	}
	return count, nil
}

// CountByStatus returns the number of jobs in the given status.
func (r *JobRepo) CountByStatus(ctx domain.Context, status domain.JobStatus) (int64, error) {
	row := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE status = $1`, status)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("op=job.count_by_status: %w", err)
	}
	return count, nil
}

// List returns a paginated list of jobs, optionally filtered by status.
func (r *JobRepo) List(ctx domain.Context, offset, limit int, status string) ([]domain.Job, error) {
	return r.ListWithFilters(ctx, offset, limit, "", status)
}

// ListWithFilters returns a paginated list of jobs with search and status filtering.
func (r *JobRepo) ListWithFilters(ctx domain.Context, offset, limit int, search, status string) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ListWithFilters")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"), attribute.String("db.sql.table", "jobs"))

	query := `SELECT ` + jobColumns + ` FROM jobs`
	where, args := buildJobFilter(search, status)
	query += where + fmt.Sprintf(" ORDER BY priority DESC, created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("op=job.list_with_filters: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("op=job.list_with_filters_scan: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.list_with_filters_rows: %w", err)
	}
	return jobs, nil
}

// CountWithFilters returns the total count of jobs matching search/status.
func (r *JobRepo) CountWithFilters(ctx domain.Context, search, status string) (int64, error) {
	where, args := buildJobFilter(search, status)
	row := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs`+where, args...)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("op=job.count_with_filters: %w", err)
	}
	return count, nil
}

func buildJobFilter(search, status string) (string, []interface{}) {
	where := ""
	var args []interface{}
	idx := 1
	if status != "" {
		where += fmt.Sprintf(" WHERE status = $%d", idx)
		args = append(args, status)
		idx++
	}
	if search != "" {
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		where += fmt.Sprintf("(id ILIKE $%d OR keyword ILIKE $%d)", idx, idx+1)
		pattern := "%" + search + "%"
		args = append(args, pattern, pattern)
	}
	return where, args
}

// GetAverageProcessingTime returns the average wall-clock duration, in
// seconds, of completed jobs from start to completion.
func (r *JobRepo) GetAverageProcessingTime(ctx domain.Context) (float64, error) {
	q := `SELECT AVG(EXTRACT(EPOCH FROM (completed_at - started_at))) FROM jobs WHERE status = $1 AND started_at IS NOT NULL AND completed_at IS NOT NULL`
	row := r.Pool.QueryRow(ctx, q, domain.JobCompleted)
	var avg *float64
	if err := row.Scan(&avg); err != nil {
		return 0, fmt.Errorf("op=job.avg_processing_time: %w", err)
	}
	if avg == nil {
		return 0, nil
	}
	return *avg, nil
}

// UpdateProgress advances a job's current agent/iteration/progress and
// accrues token and cost usage. Marks started_at on first call.
func (r *JobRepo) UpdateProgress(ctx domain.Context, id string, agent domain.AgentName, iteration, progressPercent int, tokensDelta int64, costDelta float64) error {
	q := `UPDATE jobs SET current_agent=$2, current_iteration=$3, progress_percent=$4,
		total_tokens_used = total_tokens_used + $5, estimated_cost_usd = estimated_cost_usd + $6,
		updated_at=$7, started_at = COALESCE(started_at, $7)
		WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, id, agent, iteration, progressPercent, tokensDelta, costDelta, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=job.update_progress: %w", err)
	}
	return nil
}

// Transition moves a job to a new status inside an explicit transaction,
// enforcing domain.CanTransition before committing.
func (r *JobRepo) Transition(ctx domain.Context, id string, to domain.JobStatus, errMsg *string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Transition")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"), attribute.String("db.sql.table", "jobs"))

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=job.transition.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rerr := tx.Rollback(ctx); rerr != nil {
				slog.Error("failed to rollback job transition", slog.String("job_id", id), slog.Any("error", rerr))
			}
		}
	}()

	var current domain.JobStatus
	if err := tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id=$1 FOR UPDATE`, id).Scan(&current); err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("op=job.transition: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("op=job.transition.select: %w", err)
	}
	if !domain.CanTransition(current, to) {
		return fmt.Errorf("op=job.transition: %w: %s -> %s", domain.ErrIllegalTransition, current, to)
	}

	errVal := ""
	if errMsg != nil {
		errVal = *errMsg
	}
	now := time.Now().UTC()
	q := `UPDATE jobs SET status=$2, last_error=$3, updated_at=$4,
		started_at = CASE WHEN $2 = 'processing' THEN COALESCE(started_at, $4) ELSE started_at END,
		completed_at = CASE WHEN $2 IN ('completed','failed','cancelled') THEN $4 ELSE completed_at END
		WHERE id=$1`
	if _, err := tx.Exec(ctx, q, id, to, errVal, now); err != nil {
		return fmt.Errorf("op=job.transition.exec: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=job.transition.commit: %w", err)
	}
	committed = true
	return nil
}

// Complete records the final article output and transitions the job to completed.
func (r *JobRepo) Complete(ctx domain.Context, id string, output domain.ArticleOutput, pageID *string) error {
	b, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("op=job.complete: %w", err)
	}
	now := time.Now().UTC()
	q := `UPDATE jobs SET status=$2, final_output=$3, page_id=$4, progress_percent=100, updated_at=$5, completed_at=$5 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, domain.JobCompleted, b, pageID, now); err != nil {
		return fmt.Errorf("op=job.complete: %w", err)
	}
	return nil
}

// Cancel flags a job as cancellation-requested without blocking on the
// running worker; the worker observes it via IsCancelled on its next check.
func (r *JobRepo) Cancel(ctx domain.Context, id string) error {
	q := `UPDATE jobs SET cancel_requested = true, updated_at = $2 WHERE id = $1`
	if _, err := r.Pool.Exec(ctx, q, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=job.cancel: %w", err)
	}
	return nil
}

// IsCancelled reports whether cancellation has been requested for id.
func (r *JobRepo) IsCancelled(ctx domain.Context, id string) (bool, error) {
	row := r.Pool.QueryRow(ctx, `SELECT cancel_requested OR status = 'cancelled' FROM jobs WHERE id=$1`, id)
	var cancelled bool
	if err := row.Scan(&cancelled); err != nil {
		if err == pgx.ErrNoRows {
			return false, fmt.Errorf("op=job.is_cancelled: %w", domain.ErrNotFound)
		}
		return false, fmt.Errorf("op=job.is_cancelled: %w", err)
	}
	return cancelled, nil
}

// Retry resets a failed job back to pending for the worker pool to reclaim.
func (r *JobRepo) Retry(ctx domain.Context, id string) error {
	return r.Transition(ctx, id, domain.JobPending, nil)
}

// ClaimNext atomically claims the next pending job, highest priority and
// oldest first, using SELECT ... FOR UPDATE SKIP LOCKED so multiple worker
// processes can poll the same table without contending on the same row.
func (r *JobRepo) ClaimNext(ctx domain.Context) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ClaimNext")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=job.claim_next.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = 'pending'
		ORDER BY priority DESC, created_at ASC LIMIT 1 FOR UPDATE SKIP LOCKED`)
	j, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Job{}, fmt.Errorf("op=job.claim_next: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.claim_next.select: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE jobs SET status='processing', started_at=COALESCE(started_at,$2), updated_at=$2 WHERE id=$1`, j.ID, now); err != nil {
		return domain.Job{}, fmt.Errorf("op=job.claim_next.update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Job{}, fmt.Errorf("op=job.claim_next.commit: %w", err)
	}
	committed = true

	j.Status = domain.JobProcessing
	return j, nil
}
