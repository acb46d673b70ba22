// Package worker runs a bounded-concurrency pool that claims pending jobs
// from the job repository and drives each through the orchestrator.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/relayforge/contentpipeline/internal/domain"
)

// Runner executes a single claimed job to completion. *orchestrator.Orchestrator
// satisfies this.
type Runner interface {
	Run(ctx domain.Context, jobID string) error
}

// Pool polls domain.JobRepository.ClaimNext on an interval and fans claimed
// jobs out to a bounded set of concurrent goroutines.
type Pool struct {
	jobs         domain.JobRepository
	runner       Runner
	concurrency  int
	pollInterval time.Duration

	sem chan struct{}
	wg  sync.WaitGroup
}

// New constructs a worker Pool. concurrency and pollInterval fall back to
// sane defaults when given non-positive values.
func New(jobs domain.JobRepository, runner Runner, concurrency int, pollInterval time.Duration) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Pool{
		jobs:         jobs,
		runner:       runner,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		sem:          make(chan struct{}, concurrency),
	}
}

// Run polls for claimable jobs until ctx is cancelled, then waits for
// in-flight jobs to finish before returning.
func (p *Pool) Run(ctx context.Context) {
	slog.Info("worker pool starting", slog.Int("concurrency", p.concurrency), slog.Duration("poll_interval", p.pollInterval))
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker pool stopping, waiting for in-flight jobs")
			p.wg.Wait()
			return
		case <-ticker.C:
			p.claimAndDispatch(ctx)
		}
	}
}

// claimAndDispatch drains as many claimable jobs as available slots permit,
// without blocking past the current tick on a full pool.
func (p *Pool) claimAndDispatch(ctx context.Context) {
	for {
		select {
		case p.sem <- struct{}{}:
		default:
			return // pool saturated, wait for next tick
		}

		job, err := p.jobs.ClaimNext(ctx)
		if err != nil {
			<-p.sem
			if !errors.Is(err, domain.ErrNotFound) {
				slog.Error("claim next job failed", slog.Any("error", err))
			}
			return
		}

		p.wg.Add(1)
		go p.process(ctx, job)
	}
}

func (p *Pool) process(ctx context.Context, job domain.Job) {
	defer p.wg.Done()
	defer func() { <-p.sem }()

	tracer := otel.Tracer("worker")
	ctx, span := tracer.Start(ctx, "Pool.process")
	defer span.End()

	slog.Info("processing job", slog.String("job_id", job.ID), slog.String("keyword", job.Keyword))
	if err := p.runner.Run(ctx, job.ID); err != nil && !errors.Is(err, domain.ErrJobCancelled) {
		slog.Error("job processing ended with error", slog.String("job_id", job.ID), slog.Any("error", err))
		return
	}
	slog.Info("job processing finished", slog.String("job_id", job.ID))
}
