package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CleanupService retires old, terminal-state jobs once they have aged past
// the configured retention window. Steps, evals, and system_logs cascade
// from the jobs table and need no separate deletion.
type CleanupService struct {
	Pool          *pgxpool.Pool
	RetentionDays int
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(pool *pgxpool.Pool, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &CleanupService{Pool: pool, RetentionDays: retentionDays}
}

// CleanupOldData deletes completed, failed, or cancelled jobs older than
// the retention period.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.RetentionDays)

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("op=cleanup.old_data.begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		DELETE FROM jobs
		WHERE created_at < $1
		AND status IN ('completed', 'failed', 'cancelled')
	`, cutoff)
	if err != nil {
		return fmt.Errorf("op=cleanup.old_data.delete: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=cleanup.old_data.commit: %w", err)
	}

	slog.Info("data cleanup completed", slog.Int64("deleted_jobs", tag.RowsAffected()), slog.Time("cutoff", cutoff))
	return nil
}

// RunPeriodic runs CleanupOldData immediately and then on every interval
// tick until ctx is cancelled.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}
