package httpserver_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	httpserver "github.com/relayforge/contentpipeline/internal/adapter/httpserver"
	"github.com/relayforge/contentpipeline/internal/config"
	"github.com/relayforge/contentpipeline/internal/domain"
)

// fakeJobRepo is a minimal in-memory domain.JobRepository for handler tests.
type fakeJobRepo struct {
	mu      sync.Mutex
	jobs    map[string]domain.Job
	idemKey map[string]string
	logs    map[string][]domain.SystemLogEntry
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{
		jobs:    map[string]domain.Job{},
		idemKey: map[string]string{},
		logs:    map[string][]domain.SystemLogEntry{},
	}
}

func (r *fakeJobRepo) Create(_ domain.Context, j domain.Job) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	j.CreatedAt, j.UpdatedAt = now, now
	r.jobs[j.ID] = j
	if j.IdemKey != nil {
		r.idemKey[*j.IdemKey] = j.ID
	}
	return j.ID, nil
}

func (r *fakeJobRepo) Get(_ domain.Context, id string) (domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return j, nil
}

func (r *fakeJobRepo) FindByIdempotencyKey(_ domain.Context, key string) (domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.idemKey[key]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return r.jobs[id], nil
}

func (r *fakeJobRepo) List(_ domain.Context, _, _ int, _ string) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (r *fakeJobRepo) Count(_ domain.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.jobs)), nil
}

func (r *fakeJobRepo) CountByStatus(domain.Context, domain.JobStatus) (int64, error) { return 0, nil }
func (r *fakeJobRepo) ListWithFilters(domain.Context, int, int, string, string) ([]domain.Job, error) {
	return nil, nil
}
func (r *fakeJobRepo) CountWithFilters(domain.Context, string, string) (int64, error) { return 0, nil }
func (r *fakeJobRepo) GetAverageProcessingTime(domain.Context) (float64, error)        { return 0, nil }
func (r *fakeJobRepo) UpdateProgress(domain.Context, string, domain.AgentName, int, int, int64, float64) error {
	return nil
}

func (r *fakeJobRepo) Transition(_ domain.Context, id string, to domain.JobStatus, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.Status = to
	if errMsg != nil {
		j.LastError = *errMsg
	}
	r.jobs[id] = j
	return nil
}

func (r *fakeJobRepo) Complete(domain.Context, string, domain.ArticleOutput, *string) error { return nil }

func (r *fakeJobRepo) Cancel(_ domain.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.Status = domain.JobCancelled
	r.jobs[id] = j
	return nil
}

func (r *fakeJobRepo) IsCancelled(domain.Context, string) (bool, error) { return false, nil }

func (r *fakeJobRepo) Retry(_ domain.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.Status = domain.JobPending
	r.jobs[id] = j
	return nil
}

func (r *fakeJobRepo) ClaimNext(domain.Context) (domain.Job, error) { return domain.Job{}, domain.ErrNotFound }

func (r *fakeJobRepo) AppendStep(domain.Context, domain.Step) (string, error) { return "", nil }
func (r *fakeJobRepo) UpdateStep(domain.Context, string, map[string]any, int, float64, int64, string, string) error {
	return nil
}
func (r *fakeJobRepo) ListSteps(domain.Context, string) ([]domain.Step, error) { return nil, nil }
func (r *fakeJobRepo) InsertEval(domain.Context, domain.Eval) (string, error)  { return "", nil }
func (r *fakeJobRepo) ListEvals(domain.Context, string) ([]domain.Eval, error) { return nil, nil }
func (r *fakeJobRepo) AppendLog(domain.Context, string, string, string) error  { return nil }

func (r *fakeJobRepo) ListLogs(_ domain.Context, jobID string) ([]domain.SystemLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logs[jobID], nil
}

type fakePersonaRepo struct{}

func (fakePersonaRepo) Get(_ domain.Context, name string) (domain.Persona, error) {
	return domain.Persona{Name: name}, nil
}
func (fakePersonaRepo) List(domain.Context) ([]domain.Persona, error) { return nil, nil }

func newTestServer(t *testing.T) (*httpserver.Server, *fakeJobRepo) {
	t.Helper()
	repo := newFakeJobRepo()
	srv := httpserver.NewServer(config.Config{Port: 8080, AppEnv: "dev"}, repo, fakePersonaRepo{}, nil, nil)
	return srv, repo
}

func mux(srv *httpserver.Server) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/v1/jobs", srv.CreateJobHandler())
	r.Get("/v1/jobs", srv.ListJobsHandler())
	r.Get("/v1/jobs/{id}", srv.GetJobHandler())
	r.Post("/v1/jobs/{id}/cancel", srv.CancelJobHandler())
	r.Post("/v1/jobs/{id}/retry", srv.RetryJobHandler())
	r.Get("/v1/jobs/{id}/logs", srv.JobLogsHandler())
	return r
}

func TestCreateJobHandler_RejectsShortKeyword(t *testing.T) {
	srv, _ := newTestServer(t)
	body := bytes.NewBufferString(`{"keyword":"a"}`)
	r := httptest.NewRequest(http.MethodPost, "/v1/jobs", body)
	w := httptest.NewRecorder()
	mux(srv).ServeHTTP(w, r)
	require.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
}

func TestCreateJobHandler_CreatesJobWithDefaults(t *testing.T) {
	srv, repo := newTestServer(t)
	body := bytes.NewBufferString(`{"keyword":"golang concurrency"}`)
	r := httptest.NewRequest(http.MethodPost, "/v1/jobs", body)
	w := httptest.NewRecorder()
	mux(srv).ServeHTTP(w, r)
	resp := w.Result()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	b, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(b, &out))
	require.Equal(t, "golang concurrency", out["keyword"])
	require.Equal(t, string(domain.JobPending), out["status"])
	require.Len(t, repo.jobs, 1)
}

func TestCreateJobHandler_IdempotencyKeyReturnsExisting(t *testing.T) {
	srv, _ := newTestServer(t)
	r1 := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString(`{"keyword":"golang concurrency"}`))
	r1.Header.Set("Idempotency-Key", "abc-123")
	w1 := httptest.NewRecorder()
	mux(srv).ServeHTTP(w1, r1)
	var first map[string]any
	b1, _ := io.ReadAll(w1.Result().Body)
	require.NoError(t, json.Unmarshal(b1, &first))

	r2 := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString(`{"keyword":"golang concurrency"}`))
	r2.Header.Set("Idempotency-Key", "abc-123")
	w2 := httptest.NewRecorder()
	mux(srv).ServeHTTP(w2, r2)
	var second map[string]any
	b2, _ := io.ReadAll(w2.Result().Body)
	require.NoError(t, json.Unmarshal(b2, &second))

	require.Equal(t, first["id"], second["id"])
}

func TestGetJobHandler_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/v1/jobs/missing", nil)
	w := httptest.NewRecorder()
	mux(srv).ServeHTTP(w, r)
	require.Equal(t, http.StatusNotFound, w.Result().StatusCode)
}

func TestCancelJobHandler_RejectsTerminalJob(t *testing.T) {
	srv, repo := newTestServer(t)
	_, _ = repo.Create(nil, domain.Job{ID: "job-1", Status: domain.JobCompleted, Settings: domain.DefaultJobSettings()})
	r := httptest.NewRequest(http.MethodPost, "/v1/jobs/job-1/cancel", nil)
	w := httptest.NewRecorder()
	mux(srv).ServeHTTP(w, r)
	require.Equal(t, http.StatusConflict, w.Result().StatusCode)
}

func TestCancelJobHandler_CancelsPendingJob(t *testing.T) {
	srv, repo := newTestServer(t)
	_, _ = repo.Create(nil, domain.Job{ID: "job-1", Status: domain.JobPending, Settings: domain.DefaultJobSettings()})
	r := httptest.NewRequest(http.MethodPost, "/v1/jobs/job-1/cancel", nil)
	w := httptest.NewRecorder()
	mux(srv).ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Result().StatusCode)
	job, err := repo.Get(nil, "job-1")
	require.NoError(t, err)
	require.Equal(t, domain.JobCancelled, job.Status)
}

func TestRetryJobHandler_RejectsNonFailedJob(t *testing.T) {
	srv, repo := newTestServer(t)
	_, _ = repo.Create(nil, domain.Job{ID: "job-1", Status: domain.JobProcessing, Settings: domain.DefaultJobSettings()})
	r := httptest.NewRequest(http.MethodPost, "/v1/jobs/job-1/retry", nil)
	w := httptest.NewRecorder()
	mux(srv).ServeHTTP(w, r)
	require.Equal(t, http.StatusConflict, w.Result().StatusCode)
}

func TestRetryJobHandler_ResetsFailedJobToPending(t *testing.T) {
	srv, repo := newTestServer(t)
	_, _ = repo.Create(nil, domain.Job{ID: "job-1", Status: domain.JobFailed, Settings: domain.DefaultJobSettings()})
	r := httptest.NewRequest(http.MethodPost, "/v1/jobs/job-1/retry", nil)
	w := httptest.NewRecorder()
	mux(srv).ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Result().StatusCode)
	job, err := repo.Get(nil, "job-1")
	require.NoError(t, err)
	require.Equal(t, domain.JobPending, job.Status)
}

func TestListJobsHandler_RejectsInvalidStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/v1/jobs?status=not-a-status", nil)
	w := httptest.NewRecorder()
	mux(srv).ServeHTTP(w, r)
	require.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
}

func TestListJobsHandler_ReturnsTotal(t *testing.T) {
	srv, repo := newTestServer(t)
	_, _ = repo.Create(nil, domain.Job{ID: "job-1", Status: domain.JobPending, Settings: domain.DefaultJobSettings()})
	_, _ = repo.Create(nil, domain.Job{ID: "job-2", Status: domain.JobCompleted, Settings: domain.DefaultJobSettings()})
	r := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	w := httptest.NewRecorder()
	mux(srv).ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Result().StatusCode)
	var out map[string]any
	b, _ := io.ReadAll(w.Result().Body)
	require.NoError(t, json.Unmarshal(b, &out))
	require.EqualValues(t, 2, out["total"])
}

func TestJobLogsHandler_Returns404ForMissingJob(t *testing.T) {
	srv, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/v1/jobs/missing/logs", nil)
	w := httptest.NewRecorder()
	mux(srv).ServeHTTP(w, r)
	require.Equal(t, http.StatusNotFound, w.Result().StatusCode)
}

func TestJobLogsHandler_CapsAtHundred(t *testing.T) {
	srv, repo := newTestServer(t)
	_, _ = repo.Create(nil, domain.Job{ID: "job-1", Status: domain.JobCompleted, Settings: domain.DefaultJobSettings()})
	logs := make([]domain.SystemLogEntry, 150)
	for i := range logs {
		logs[i] = domain.SystemLogEntry{ID: string(rune(i)), Level: "info", Message: "step"}
	}
	repo.logs["job-1"] = logs
	r := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1/logs", nil)
	w := httptest.NewRecorder()
	mux(srv).ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Result().StatusCode)
	var out map[string]any
	b, _ := io.ReadAll(w.Result().Body)
	require.NoError(t, json.Unmarshal(b, &out))
	require.Len(t, out["logs"], 100)
}

func TestCreateJobHandler_RejectsInvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	mux(srv).ServeHTTP(w, r)
	require.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
}
