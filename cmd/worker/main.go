// Package main provides the worker application entry point.
// The worker claims pending content-pipeline jobs and drives each through
// the research/writer/seo/qa/project_manager agent pipeline.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/relayforge/contentpipeline/internal/adapter/observability"
	"github.com/relayforge/contentpipeline/internal/adapter/repo/personas"
	"github.com/relayforge/contentpipeline/internal/adapter/repo/postgres"
	"github.com/relayforge/contentpipeline/internal/agent"
	"github.com/relayforge/contentpipeline/internal/app"
	"github.com/relayforge/contentpipeline/internal/config"
	"github.com/relayforge/contentpipeline/internal/domain"
	"github.com/relayforge/contentpipeline/internal/llm"
	"github.com/relayforge/contentpipeline/internal/orchestrator"
	"github.com/relayforge/contentpipeline/internal/research"
	"github.com/relayforge/contentpipeline/internal/service/ratelimiter"
	"github.com/relayforge/contentpipeline/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.SetAppEnv(cfg.AppEnv)
	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	jobRepo := postgres.NewJobRepo(pool)

	personaRepo, err := personas.Load("personas.yaml")
	if err != nil {
		slog.Error("persona catalog load failed", slog.Any("error", err))
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{})
	if opt, perr := redis.ParseURL(cfg.RedisURL); perr == nil {
		rdb = redis.NewClient(opt)
	} else {
		slog.Warn("redis url parse failed, using default client options", slog.Any("error", perr))
	}
	limiter := ratelimiter.NewRedisLuaLimiter(rdb, pool, map[string]ratelimiter.BucketConfig{
		"llm":      ratelimiter.NewBucketConfigFromPerMinute(cfg.LLMRateLimitPerMin),
		"research": ratelimiter.NewBucketConfigFromPerMinute(cfg.LLMRateLimitPerMin),
	})

	var llmProvider domain.LLMProvider
	if cfg.GroqAPIKey != "" || cfg.OpenRouterAPIKey != "" {
		llmProvider = llm.NewProvider(cfg, limiter)
	} else {
		slog.Warn("no LLM provider credentials configured, using stub provider")
		llmProvider = llm.NewStubProvider()
	}

	if cfg.ResearchAPIKey == "" {
		slog.Warn("no research API key configured, research agent will fail closed")
	}
	researchSource := research.New(cfg, limiter)

	registry := agent.NewRegistry(
		agent.NewResearchAgent(researchSource),
		agent.NewWriterAgent(llmProvider),
		agent.NewSEOAgent(llmProvider),
		agent.NewQAAgent(llmProvider, cfg.DefaultQAScoreThreshold),
		agent.NewProjectManagerAgent(),
	)

	orch := orchestrator.New(jobRepo, personaRepo, registry, llmProvider)
	orch.SetOnCancelled(func(jobID string) {
		slog.Info("job cancelled", slog.String("job_id", jobID))
	})

	sweeper := app.NewStuckJobSweeper(jobRepo, cfg.JobTimeout(), 0)
	runCtx, cancelRun := context.WithCancel(ctx)
	if sweeper != nil {
		go sweeper.Run(runCtx)
	}

	workerPool := worker.New(jobRepo, orch, cfg.MaxConcurrentJobs, cfg.JobPollInterval)
	go workerPool.Run(runCtx)

	slog.Info("worker started successfully, waiting for shutdown signal",
		slog.Int("max_concurrent_jobs", cfg.MaxConcurrentJobs),
		slog.Duration("poll_interval", cfg.JobPollInterval))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	cancelRun()
	time.Sleep(200 * time.Millisecond)
	slog.Info("worker stopped")
}
