package storage

import (
	"context"
	"log/slog"
	"time"
)

// CleanupExpiredJobs drops finished job records past their expiry on every tick.
// Downloaded files belong to the user and are never touched.
func (stg *storage) CleanupExpiredJobs(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := stg.log.With(slog.String("action", "cleanup_expired_jobs"), slog.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			stg.performCleanup(ctx)
		case <-ctx.Done():
			log.Info("cleanup expired jobs stopped")

			return
		}
	}
}

func (stg *storage) performCleanup(ctx context.Context) {
	now := time.Now()

	stg.mu.Lock()

	var expired []string

	for id, job := range stg.jobs {
		if job.State.Terminal() && job.ExpiresAt.Before(now) {
			expired = append(expired, id)
			delete(stg.jobs, id)
		}
	}

	remaining := len(stg.jobs)

	stg.mu.Unlock()

	if len(expired) == 0 {
		stg.log.DebugContext(ctx, "no expired jobs found to clean up")

		return
	}

	stg.metrics.RecordCleanup(len(expired))
	stg.metrics.SetStoredJobs(remaining)

	stg.log.InfoContext(ctx, "removed expired jobs", slog.Int("count", len(expired)), slog.Any("ids", expired))
}
