// Package httpserver contains HTTP handlers and middleware.
//
// It provides REST API endpoints for the application including job
// submission, progress streaming, and result retrieval. The package
// follows clean architecture principles and provides a clear separation
// between HTTP concerns and business logic.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/relayforge/contentpipeline/internal/config"
	"github.com/relayforge/contentpipeline/internal/domain"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg      config.Config
	Jobs     domain.JobRepository
	Personas domain.PersonaRepository
	DBCheck  func(ctx context.Context) error
	LLMCheck func(ctx context.Context) error
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// NewServer wires a Server with its dependencies.
func NewServer(cfg config.Config, jobs domain.JobRepository, personas domain.PersonaRepository, dbCheck, llmCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Jobs: jobs, Personas: personas, DBCheck: dbCheck, LLMCheck: llmCheck}
}

// createJobRequest is the POST /jobs payload. The pipeline only ever runs
// one job type (keyword -> article), so unlike a general task queue there
// is no jobType discriminator; keyword is the sole required input.
type createJobRequest struct {
	Keyword  string `json:"keyword" validate:"required,min=2,max=200"`
	Priority int    `json:"priority" validate:"omitempty,min=0,max=10"`
	Settings *struct {
		MaxIterations    int               `json:"max_iterations" validate:"omitempty,min=1,max=20"`
		QAScoreThreshold float64           `json:"qa_score_threshold" validate:"omitempty,min=0,max=100"`
		TargetWordCount  int               `json:"target_word_count" validate:"omitempty,min=300,max=10000"`
		Tone             string            `json:"tone" validate:"omitempty,max=50"`
		Persona          string            `json:"persona" validate:"omitempty,max=100"`
		AutoPost         bool              `json:"auto_post"`
		Template         string            `json:"template" validate:"omitempty,max=50"`
		Context          string            `json:"context" validate:"omitempty,max=2000"`
		SkipAgents       []string          `json:"skip_agents" validate:"omitempty,max=5"`
		PersonaOverrides map[string]string `json:"persona_overrides" validate:"omitempty,max=5"`
	} `json:"settings"`
}

func jobResponse(j domain.Job) map[string]any {
	m := map[string]any{
		"id":                j.ID,
		"keyword":           j.Keyword,
		"status":            string(j.Status),
		"current_agent":     j.CurrentAgent,
		"current_iteration": j.CurrentIteration,
		"progress_percent":  j.ProgressPercent,
		"priority":          j.Priority,
		"total_tokens_used": j.TotalTokensUsed,
		"estimated_cost_usd": j.EstimatedCostUSD,
		"settings":          j.Settings,
		"created_at":        j.CreatedAt.Format(time.RFC3339),
		"updated_at":        j.UpdatedAt.Format(time.RFC3339),
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(time.RFC3339)
	}
	if j.LastError != "" {
		m["last_error"] = j.LastError
	}
	if j.PageID != nil {
		m["page_id"] = *j.PageID
	}
	if j.FinalOutput != nil {
		m["final_output"] = j.FinalOutput
	}
	return m
}

// CreateJobHandler handles POST /jobs.
func (s *Server) CreateJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req createJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			verrs := map[string]string{}
			var ve validator.ValidationErrors
			if errors.As(err, &ve) {
				for _, fe := range ve {
					verrs[fe.Field()] = fe.Tag()
				}
			}
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
			return
		}

		settings := domain.DefaultJobSettings()
		if req.Settings != nil {
			if req.Settings.MaxIterations > 0 {
				settings.MaxIterations = req.Settings.MaxIterations
			}
			if req.Settings.QAScoreThreshold > 0 {
				settings.QAScoreThreshold = req.Settings.QAScoreThreshold
			}
			if req.Settings.TargetWordCount > 0 {
				settings.TargetWordCount = req.Settings.TargetWordCount
			}
			if req.Settings.Tone != "" {
				settings.Tone = req.Settings.Tone
			}
			if req.Settings.Persona != "" {
				settings.Persona = req.Settings.Persona
			}
			settings.AutoPost = req.Settings.AutoPost
			if req.Settings.Template != "" {
				settings.Template = req.Settings.Template
			}
			if req.Settings.Context != "" {
				settings.Context = req.Settings.Context
			}
			if len(req.Settings.SkipAgents) > 0 {
				settings.SkipAgents = make(map[domain.AgentName]bool, len(req.Settings.SkipAgents))
				for _, name := range req.Settings.SkipAgents {
					settings.SkipAgents[domain.AgentName(name)] = true
				}
			}
			if len(req.Settings.PersonaOverrides) > 0 {
				settings.PersonaOverrides = make(map[domain.AgentName]string, len(req.Settings.PersonaOverrides))
				for agentName, persona := range req.Settings.PersonaOverrides {
					settings.PersonaOverrides[domain.AgentName(agentName)] = persona
				}
			}
		}

		ctx := r.Context()
		idemKey := r.Header.Get("Idempotency-Key")
		if idemKey != "" {
			if existing, err := s.Jobs.FindByIdempotencyKey(ctx, idemKey); err == nil {
				writeJSON(w, http.StatusOK, jobResponse(existing))
				return
			}
		}

		job := domain.Job{
			ID:        uuid.NewString(),
			Keyword:   req.Keyword,
			Status:    domain.JobPending,
			Settings:  settings,
			Priority:  req.Priority,
			CreatedBy: getSSOUsernameFromHeaders(r),
		}
		if idemKey != "" {
			job.IdemKey = &idemKey
		}

		id, err := s.Jobs.Create(ctx, job)
		if err != nil {
			writeError(w, r, fmt.Errorf("create job: %w", err), nil)
			return
		}
		created, err := s.Jobs.Get(ctx, id)
		if err != nil {
			writeError(w, r, fmt.Errorf("fetch created job: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, jobResponse(created))
	}
}

// ListJobsHandler handles GET /jobs.
func (s *Server) ListJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		status := SanitizeString(q.Get("status"))
		if validation := ValidateStatus(status); !validation.Valid {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"code": "VALIDATION_ERROR", "message": "invalid status", "details": validation.Errors}})
			return
		}
		limit := 20
		if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 100 {
			limit = l
		}
		offset := 0
		if o, err := strconv.Atoi(q.Get("offset")); err == nil && o >= 0 {
			offset = o
		}

		ctx := r.Context()
		jobs, err := s.Jobs.List(ctx, offset, limit, status)
		if err != nil {
			writeError(w, r, fmt.Errorf("list jobs: %w", err), nil)
			return
		}
		total, err := s.Jobs.Count(ctx)
		if err != nil {
			writeError(w, r, fmt.Errorf("count jobs: %w", err), nil)
			return
		}
		out := make([]map[string]any, len(jobs))
		for i, j := range jobs {
			out[i] = jobResponse(j)
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": out, "total": total})
	}
}

// GetJobHandler handles GET /jobs/{id}.
func (s *Server) GetJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := SanitizeJobID(chi.URLParam(r, "id"))
		job, err := s.Jobs.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, jobResponse(job))
	}
}

// CancelJobHandler handles POST /jobs/{id}/cancel.
func (s *Server) CancelJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := SanitizeJobID(chi.URLParam(r, "id"))
		ctx := r.Context()
		job, err := s.Jobs.Get(ctx, id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if job.Status != domain.JobPending && job.Status != domain.JobProcessing {
			writeError(w, r, fmt.Errorf("%w: Cannot cancel a job in status %s", domain.ErrIllegalTransition, job.Status), nil)
			return
		}
		if err := s.Jobs.Cancel(ctx, id); err != nil {
			writeError(w, r, fmt.Errorf("cancel job: %w", err), nil)
			return
		}
		updated, err := s.Jobs.Get(ctx, id)
		if err != nil {
			writeError(w, r, fmt.Errorf("fetch cancelled job: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, jobResponse(updated))
	}
}

// RetryJobHandler handles POST /jobs/{id}/retry.
func (s *Server) RetryJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := SanitizeJobID(chi.URLParam(r, "id"))
		ctx := r.Context()
		job, err := s.Jobs.Get(ctx, id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if job.Status != domain.JobFailed {
			writeError(w, r, fmt.Errorf("%w: Can only retry failed jobs", domain.ErrIllegalTransition), nil)
			return
		}
		if err := s.Jobs.Retry(ctx, id); err != nil {
			writeError(w, r, fmt.Errorf("retry job: %w", err), nil)
			return
		}
		updated, err := s.Jobs.Get(ctx, id)
		if err != nil {
			writeError(w, r, fmt.Errorf("fetch retried job: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, jobResponse(updated))
	}
}

// JobLogsHandler handles GET /jobs/{id}/logs, returning up to the last 100
// system-log rows for the job.
func (s *Server) JobLogsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := SanitizeJobID(chi.URLParam(r, "id"))
		ctx := r.Context()
		if _, err := s.Jobs.Get(ctx, id); err != nil {
			writeError(w, r, err, nil)
			return
		}
		logs, err := s.Jobs.ListLogs(ctx, id)
		if err != nil {
			writeError(w, r, fmt.Errorf("list logs: %w", err), nil)
			return
		}
		if len(logs) > 100 {
			logs = logs[len(logs)-100:]
		}
		out := make([]map[string]any, len(logs))
		for i, l := range logs {
			out[i] = map[string]any{
				"id":         l.ID,
				"level":      l.Level,
				"message":    l.Message,
				"created_at": l.CreatedAt.Format(time.RFC3339),
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"logs": out})
	}
}

// ReadyzHandler probes the database and LLM provider for readiness.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 2)
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				checks = append(checks, check{Name: "db", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "db", OK: true})
			}
		}
		if s.LLMCheck != nil {
			if err := s.LLMCheck(ctx); err != nil {
				checks = append(checks, check{Name: "llm", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "llm", OK: true})
			}
		}
		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}

// HealthzHandler is a liveness probe that never depends on downstream state.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}

// MountAdmin mounts the read-only admin API surface behind AdminAPIGuard.
func (s *Server) MountAdmin(r chi.Router) {
	if !s.Cfg.AdminEnabled() {
		return
	}
	adminServer := NewAdminServer(s.Cfg, s)
	r.Post("/admin/login", adminServer.AdminLoginHandler())
	r.Post("/admin/logout", adminServer.AdminLogoutHandler())
	r.Group(func(gr chi.Router) {
		gr.Use(s.AdminAPIGuard())
		gr.Get("/admin/api/stats", adminServer.AdminStatsHandler())
		gr.Get("/admin/api/jobs", adminServer.AdminJobsHandler())
		gr.Get("/admin/api/jobs/{id}", adminServer.AdminJobDetailsHandler())
	})
}

// getDashboardStats returns aggregate job counters for the admin dashboard.
func (s *Server) getDashboardStats(ctx context.Context) map[string]any {
	total, err := s.Jobs.Count(ctx)
	if err != nil {
		return map[string]any{"error": map[string]any{"code": "JOBS_COUNT_ERROR", "message": err.Error()}}
	}
	completed, err := s.Jobs.CountByStatus(ctx, domain.JobCompleted)
	if err != nil {
		return map[string]any{"error": map[string]any{"code": "JOBS_COUNT_ERROR", "message": err.Error()}}
	}
	failed, err := s.Jobs.CountByStatus(ctx, domain.JobFailed)
	if err != nil {
		return map[string]any{"error": map[string]any{"code": "JOBS_COUNT_ERROR", "message": err.Error()}}
	}
	processing, err := s.Jobs.CountByStatus(ctx, domain.JobProcessing)
	if err != nil {
		return map[string]any{"error": map[string]any{"code": "JOBS_COUNT_ERROR", "message": err.Error()}}
	}
	avgTime, err := s.Jobs.GetAverageProcessingTime(ctx)
	if err != nil {
		avgTime = 0
	}
	return map[string]any{
		"total":      total,
		"completed":  completed,
		"failed":     failed,
		"processing": processing,
		"avg_time_seconds": avgTime,
	}
}

// getJobs returns a paginated, filtered job list for the admin dashboard.
func (s *Server) getJobs(ctx context.Context, page, limit, search, status string) map[string]any {
	pageNum := 1
	limitNum := 10
	if p, err := strconv.Atoi(page); err == nil && p > 0 {
		pageNum = p
	}
	if l, err := strconv.Atoi(limit); err == nil && l > 0 && l <= 100 {
		limitNum = l
	}
	offset := (pageNum - 1) * limitNum

	jobs, err := s.Jobs.ListWithFilters(ctx, offset, limitNum, search, status)
	if err != nil {
		return map[string]any{
			"error": map[string]any{"code": "DATABASE_ERROR", "message": err.Error()},
			"jobs":  []map[string]any{},
			"pagination": map[string]any{"page": pageNum, "limit": limitNum, "total": 0},
		}
	}
	total, err := s.Jobs.CountWithFilters(ctx, search, status)
	if err != nil {
		total = int64(len(jobs))
	}
	list := make([]map[string]any, len(jobs))
	for i, j := range jobs {
		list[i] = jobResponse(j)
	}
	return map[string]any{
		"jobs":       list,
		"pagination": map[string]any{"page": pageNum, "limit": limitNum, "total": total},
	}
}

// getJobDetails returns one job's full detail, including steps and evals,
// for the admin dashboard.
func (s *Server) getJobDetails(ctx context.Context, jobID string) map[string]any {
	job, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return map[string]any{"error": map[string]any{"code": "JOB_NOT_FOUND", "message": "job not found", "details": map[string]any{"job_id": jobID}}}
	}
	steps, _ := s.Jobs.ListSteps(ctx, jobID)
	evals, _ := s.Jobs.ListEvals(ctx, jobID)

	detail := jobResponse(job)
	detail["steps"] = steps
	detail["evals"] = evals
	return detail
}
