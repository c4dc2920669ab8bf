package core

// scheduler.go runs background maintenance for run history.
//
// History rows older than the retention window are purged on start and then
// once per CheckInterval. A failed purge is logged and retried on the next
// tick; it never stops the server.

import (
	"context"
	"log/slog"
	"time"
)

// PurgeConfig holds configuration for the history purge scheduler.
type PurgeConfig struct {
	RetentionDays int           // Days of run history to keep (default: 90)
	CheckInterval time.Duration // How often to purge (default: 24h)
}

func (c PurgeConfig) withDefaults() PurgeConfig {
	if c.RetentionDays <= 0 {
		c.RetentionDays = 90
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 24 * time.Hour
	}
	return c
}

// StartPurgeScheduler purges old run history immediately and then every
// CheckInterval until ctx is cancelled.
func (s *Service) StartPurgeScheduler(ctx context.Context, cfg PurgeConfig) {
	cfg = cfg.withDefaults()
	slog.Info("history purge scheduler started",
		"retention_days", cfg.RetentionDays,
		"interval", cfg.CheckInterval,
	)

	s.runPurgeJob(ctx, cfg, time.Now())

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("history purge scheduler stopped")
			return
		case now := <-ticker.C:
			s.runPurgeJob(ctx, cfg, now)
		}
	}
}

// runPurgeJob performs one purge cycle and reports the rows removed.
func (s *Service) runPurgeJob(ctx context.Context, cfg PurgeConfig, now time.Time) int64 {
	start := time.Now()
	cutoff := now.AddDate(0, 0, -cfg.RetentionDays)

	purged, err := s.history.PurgeRuns(ctx, cutoff)
	if err != nil {
		slog.Error("history purge failed", "error", err)
		return 0
	}

	slog.Info("purged run history",
		"runs_purged", purged,
		"cutoff", cutoff.Format(time.RFC3339),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return purged
}
