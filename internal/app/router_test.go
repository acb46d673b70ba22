package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	httpserver "github.com/relayforge/contentpipeline/internal/adapter/httpserver"
	"github.com/relayforge/contentpipeline/internal/app"
	"github.com/relayforge/contentpipeline/internal/config"
	"github.com/relayforge/contentpipeline/internal/domain"
)

type noopJobRepo struct{}

func (noopJobRepo) Create(domain.Context, domain.Job) (string, error) { return "", nil }
func (noopJobRepo) Get(domain.Context, string) (domain.Job, error)    { return domain.Job{}, domain.ErrNotFound }
func (noopJobRepo) FindByIdempotencyKey(domain.Context, string) (domain.Job, error) {
	return domain.Job{}, domain.ErrNotFound
}
func (noopJobRepo) List(domain.Context, int, int, string) ([]domain.Job, error) { return nil, nil }
func (noopJobRepo) Count(domain.Context) (int64, error)                        { return 0, nil }
func (noopJobRepo) CountByStatus(domain.Context, domain.JobStatus) (int64, error) {
	return 0, nil
}
func (noopJobRepo) ListWithFilters(domain.Context, int, int, string, string) ([]domain.Job, error) {
	return nil, nil
}
func (noopJobRepo) CountWithFilters(domain.Context, string, string) (int64, error) { return 0, nil }
func (noopJobRepo) GetAverageProcessingTime(domain.Context) (float64, error)        { return 0, nil }
func (noopJobRepo) UpdateProgress(domain.Context, string, domain.AgentName, int, int, int64, float64) error {
	return nil
}
func (noopJobRepo) Transition(domain.Context, string, domain.JobStatus, *string) error { return nil }
func (noopJobRepo) Complete(domain.Context, string, domain.ArticleOutput, *string) error {
	return nil
}
func (noopJobRepo) Cancel(domain.Context, string) error              { return nil }
func (noopJobRepo) IsCancelled(domain.Context, string) (bool, error) { return false, nil }
func (noopJobRepo) Retry(domain.Context, string) error                { return nil }
func (noopJobRepo) ClaimNext(domain.Context) (domain.Job, error) {
	return domain.Job{}, domain.ErrNotFound
}
func (noopJobRepo) AppendStep(domain.Context, domain.Step) (string, error) { return "", nil }
func (noopJobRepo) UpdateStep(domain.Context, string, map[string]any, int, float64, int64, string, string) error {
	return nil
}
func (noopJobRepo) ListSteps(domain.Context, string) ([]domain.Step, error) { return nil, nil }
func (noopJobRepo) InsertEval(domain.Context, domain.Eval) (string, error)  { return "", nil }
func (noopJobRepo) ListEvals(domain.Context, string) ([]domain.Eval, error) { return nil, nil }
func (noopJobRepo) AppendLog(domain.Context, string, string, string) error  { return nil }
func (noopJobRepo) ListLogs(domain.Context, string) ([]domain.SystemLogEntry, error) {
	return nil, nil
}

type noopPersonaRepo struct{}

func (noopPersonaRepo) Get(domain.Context, string) (domain.Persona, error) {
	return domain.Persona{}, domain.ErrPersonaNotFound
}
func (noopPersonaRepo) List(domain.Context) ([]domain.Persona, error) { return nil, nil }

func TestBuildRouter_Healthz_And_Readyz(t *testing.T) {
	cfg := config.Config{Port: 8080}
	srv := httpserver.NewServer(cfg, noopJobRepo{}, noopPersonaRepo{},
		func(context.Context) error { return nil },
		func(context.Context) error { return nil },
	)
	h := app.BuildRouter(cfg, srv)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Result().StatusCode != http.StatusOK {
		t.Fatalf("/healthz: want 200, got %d", rec.Result().StatusCode)
	}

	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec2.Result().StatusCode != http.StatusOK {
		t.Fatalf("/readyz: want 200, got %d", rec2.Result().StatusCode)
	}
}
