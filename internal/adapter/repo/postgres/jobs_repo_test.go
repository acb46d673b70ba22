package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/contentpipeline/internal/adapter/repo/postgres"
	"github.com/relayforge/contentpipeline/internal/domain"
)

func scanJobRow(j domain.Job) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*string)) = j.ID
		*(dest[1].(*string)) = j.Keyword
		*(dest[2].(*domain.JobStatus)) = j.Status
		*(dest[3].(*domain.AgentName)) = j.CurrentAgent
		*(dest[4].(*int)) = j.CurrentIteration
		*(dest[5].(*[]byte)) = []byte(`{}`)
		*(dest[6].(*int64)) = j.TotalTokensUsed
		*(dest[7].(*float64)) = j.EstimatedCostUSD
		*(dest[8].(*int)) = j.ProgressPercent
		*(dest[9].(*int)) = j.Priority
		*(dest[10].(*[]byte)) = nil
		*(dest[11].(**string)) = nil
		*(dest[12].(*string)) = j.LastError
		*(dest[13].(**string)) = nil
		*(dest[14].(*string)) = j.CreatedBy
		*(dest[15].(*time.Time)) = j.CreatedAt
		*(dest[16].(*time.Time)) = j.UpdatedAt
		*(dest[17].(**time.Time)) = nil
		*(dest[18].(**time.Time)) = nil
		return nil
	}
}

func TestJobRepo_Create_AssignsIDWhenMissing(t *testing.T) {
	pool := &poolStub{}
	repo := postgres.NewJobRepo(pool)
	id, err := repo.Create(context.Background(), domain.Job{Keyword: "golang tutorials"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestJobRepo_Create_PropagatesExecError(t *testing.T) {
	pool := &poolStub{execErr: errors.New("conn refused")}
	repo := postgres.NewJobRepo(pool)
	_, err := repo.Create(context.Background(), domain.Job{Keyword: "golang tutorials"})
	assert.Error(t, err)
}

func TestJobRepo_Get_ScansRow(t *testing.T) {
	want := domain.Job{ID: "job-1", Keyword: "golang tutorials", Status: domain.JobProcessing, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	pool := &poolStub{row: rowStub{scan: scanJobRow(want)}}
	repo := postgres.NewJobRepo(pool)
	got, err := repo.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Keyword, got.Keyword)
	assert.Equal(t, want.Status, got.Status)
}

func TestJobRepo_Get_NotFoundMapsToDomainErr(t *testing.T) {
	pool := &poolStub{row: rowStub{scan: func(_ ...any) error { return pgx.ErrNoRows }}}
	repo := postgres.NewJobRepo(pool)
	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobRepo_FindByIdempotencyKey_NotFound(t *testing.T) {
	pool := &poolStub{row: rowStub{scan: func(_ ...any) error { return pgx.ErrNoRows }}}
	repo := postgres.NewJobRepo(pool)
	_, err := repo.FindByIdempotencyKey(context.Background(), "idem-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobRepo_Count_ReturnsScannedValue(t *testing.T) {
	pool := &poolStub{row: rowStub{scan: func(dest ...any) error {
		*(dest[0].(*int64)) = 42
		return nil
	}}}
	repo := postgres.NewJobRepo(pool)
	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestJobRepo_GetAverageProcessingTime_NullAverageIsZero(t *testing.T) {
	pool := &poolStub{row: rowStub{scan: func(dest ...any) error {
		*(dest[0].(**float64)) = nil
		return nil
	}}}
	repo := postgres.NewJobRepo(pool)
	avg, err := repo.GetAverageProcessingTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float64(0), avg)
}

func TestJobRepo_UpdateProgress_PropagatesExecError(t *testing.T) {
	pool := &poolStub{execErr: errors.New("deadline exceeded")}
	repo := postgres.NewJobRepo(pool)
	err := repo.UpdateProgress(context.Background(), "job-1", domain.AgentWriter, 1, 50, 100, 0.01)
	assert.Error(t, err)
}

func TestJobRepo_Complete_MarshalsOutputAndUpdates(t *testing.T) {
	pool := &poolStub{}
	repo := postgres.NewJobRepo(pool)
	err := repo.Complete(context.Background(), "job-1", domain.ArticleOutput{Title: "Go Guide"}, nil)
	assert.NoError(t, err)
}

func TestJobRepo_Cancel_SetsFlag(t *testing.T) {
	pool := &poolStub{}
	repo := postgres.NewJobRepo(pool)
	assert.NoError(t, repo.Cancel(context.Background(), "job-1"))
}

func TestJobRepo_IsCancelled_ReadsFlag(t *testing.T) {
	pool := &poolStub{row: rowStub{scan: func(dest ...any) error {
		*(dest[0].(*bool)) = true
		return nil
	}}}
	repo := postgres.NewJobRepo(pool)
	cancelled, err := repo.IsCancelled(context.Background(), "job-1")
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestJobRepo_Transition_RejectsIllegalTransition(t *testing.T) {
	pool := &poolStub{tx: txStub{row: rowStub{scan: func(dest ...any) error {
		*(dest[0].(*domain.JobStatus)) = domain.JobCompleted
		return nil
	}}}}
	repo := postgres.NewJobRepo(pool)
	err := repo.Transition(context.Background(), "job-1", domain.JobProcessing, nil)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestJobRepo_Transition_CommitsOnLegalTransition(t *testing.T) {
	pool := &poolStub{tx: txStub{row: rowStub{scan: func(dest ...any) error {
		*(dest[0].(*domain.JobStatus)) = domain.JobPending
		return nil
	}}}}
	repo := postgres.NewJobRepo(pool)
	err := repo.Transition(context.Background(), "job-1", domain.JobProcessing, nil)
	assert.NoError(t, err)
}

func TestJobRepo_Transition_NotFoundWhenRowMissing(t *testing.T) {
	pool := &poolStub{tx: txStub{row: rowStub{scan: func(_ ...any) error { return pgx.ErrNoRows }}}}
	repo := postgres.NewJobRepo(pool)
	err := repo.Transition(context.Background(), "missing", domain.JobProcessing, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobRepo_Retry_TransitionsToPending(t *testing.T) {
	pool := &poolStub{tx: txStub{row: rowStub{scan: func(dest ...any) error {
		*(dest[0].(*domain.JobStatus)) = domain.JobFailed
		return nil
	}}}}
	repo := postgres.NewJobRepo(pool)
	assert.NoError(t, repo.Retry(context.Background(), "job-1"))
}

func TestJobRepo_ClaimNext_ReturnsProcessingJob(t *testing.T) {
	want := domain.Job{ID: "job-1", Keyword: "golang tutorials", Status: domain.JobPending, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	pool := &poolStub{tx: txStub{row: rowStub{scan: scanJobRow(want)}}}
	repo := postgres.NewJobRepo(pool)
	got, err := repo.ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.JobProcessing, got.Status)
}

func TestJobRepo_ClaimNext_NotFoundWhenQueueEmpty(t *testing.T) {
	pool := &poolStub{tx: txStub{row: rowStub{scan: func(_ ...any) error { return pgx.ErrNoRows }}}}
	repo := postgres.NewJobRepo(pool)
	_, err := repo.ClaimNext(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobRepo_ListWithFilters_ScansAllRows(t *testing.T) {
	jobs := []domain.Job{
		{ID: "job-1", Keyword: "golang tutorials", Status: domain.JobPending, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()},
		{ID: "job-2", Keyword: "react hooks", Status: domain.JobCompleted, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()},
	}
	scans := make([]func(dest ...any) error, len(jobs))
	for i, j := range jobs {
		scans[i] = scanJobRow(j)
	}
	pool := &poolStub{rows: &rowsStub{scans: scans}}
	repo := postgres.NewJobRepo(pool)
	got, err := repo.ListWithFilters(context.Background(), 0, 10, "", "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "job-1", got[0].ID)
	assert.Equal(t, "job-2", got[1].ID)
}

func TestJobRepo_ListWithFilters_PropagatesQueryError(t *testing.T) {
	pool := &poolStub{queryErr: errors.New("syntax error")}
	repo := postgres.NewJobRepo(pool)
	_, err := repo.ListWithFilters(context.Background(), 0, 10, "", "")
	assert.Error(t, err)
}

func TestJobRepo_CountWithFilters_AppliesSearchAndStatus(t *testing.T) {
	pool := &poolStub{row: rowStub{scan: func(dest ...any) error {
		*(dest[0].(*int64)) = 1
		return nil
	}}}
	repo := postgres.NewJobRepo(pool)
	n, err := repo.CountWithFilters(context.Background(), "golang", "pending")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
