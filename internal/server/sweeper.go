package server

import (
	"context"
	"log/slog"
	"time"
)

// Sweep deletes calls older than ttl every interval until ctx ends. Each
// deletion reaches subscribers as a DELETE, so abandoned peers hang up.
func Sweep(ctx context.Context, st Backend, ttl, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := st.DeleteExpired(ctx, ttl)
			if err != nil {
				logger.Warn("sweep expired calls", "error", err)
				continue
			}
			if len(ids) > 0 {
				logger.Info("swept expired calls", "count", len(ids))
			}
		}
	}
}

// SweepInterval picks how often to sweep for a given ttl.
func SweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	return interval
}
