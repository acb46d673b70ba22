// Command server starts the content pipeline HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	httpserver "github.com/relayforge/contentpipeline/internal/adapter/httpserver"
	"github.com/relayforge/contentpipeline/internal/adapter/observability"
	"github.com/relayforge/contentpipeline/internal/adapter/repo/personas"
	"github.com/relayforge/contentpipeline/internal/adapter/repo/postgres"
	"github.com/relayforge/contentpipeline/internal/app"
	"github.com/relayforge/contentpipeline/internal/config"
	"github.com/relayforge/contentpipeline/internal/domain"
	"github.com/relayforge/contentpipeline/internal/llm"
	"github.com/relayforge/contentpipeline/internal/service/ratelimiter"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.SetAppEnv(cfg.AppEnv)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	jobRepo := postgres.NewJobRepo(pool)

	if cfg.DataRetentionDays > 0 {
		cleanupSvc := postgres.NewCleanupService(pool, cfg.DataRetentionDays)
		go cleanupSvc.RunPeriodic(ctx, cfg.CleanupInterval)
		slog.Info("cleanup service started", slog.Int("retention_days", cfg.DataRetentionDays), slog.Duration("interval", cfg.CleanupInterval))
	}

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

	dbCheck, llmCheck := app.BuildReadinessChecks(pool, llmProvider)

	srv := httpserver.NewServer(cfg, jobRepo, personaRepo, dbCheck, llmCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
