// Package cache holds the adapter's bounded in-memory caches: messages,
// attachment metadata, and user profiles. All three share the same eviction
// discipline: a periodic sweep drops entries past the age cutoff, then drops
// oldest entries until size caps hold.
package cache

import (
	"context"
	"log/slog"
	"time"
)

// sweeper is the contract the maintenance loop drives.
type sweeper interface {
	// Sweep performs one maintenance pass and returns how many entries were
	// evicted.
	Sweep(now time.Time) int
}

// RunMaintenance drives periodic sweeps until the context is cancelled.
// Maintenance is optional; caches stay safe without it, just unbounded in
// time between manual sweeps.
func RunMaintenance(ctx context.Context, interval time.Duration, s sweeper, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			evicted := s.Sweep(now)
			if evicted > 0 {
				logger.Debug("cache maintenance pass", "evicted", evicted)
			}
		}
	}
}
