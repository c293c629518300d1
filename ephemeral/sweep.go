package ephemeral

import (
	"context"
	"log/slog"
	"time"

	"github.com/andsky/guestcast/backend/telemetry"
)

// SweepFunc range-deletes records older than cutoff from the backing
// collection and reports how many went away. Deleting already-absent records
// must be a no-op: the sweep runs concurrently from every process hosting a
// guest session and no one owns the collection.
type SweepFunc func(ctx context.Context, cutoff time.Time) (int64, error)

// StartSweeper runs the store-side half of the dual TTL: every interval it
// purges records older than retention, regardless of whether anyone is
// subscribed. Runs until ctx is cancelled. Blocks; callers start it in a
// goroutine.
func StartSweeper(ctx context.Context, name string, interval, retention time.Duration, sweep SweepFunc) {
	if interval <= 0 || retention <= 0 {
		slog.Info("sweeper disabled", slog.String("collection", name))
		return
	}

	slog.Info("sweeper starting",
		slog.String("collection", name),
		slog.Duration("interval", interval),
		slog.Duration("retention", retention))

	// Run immediately on start, then on every tick.
	runSweep(ctx, name, retention, sweep)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper stopped", slog.String("collection", name))
			return
		case <-ticker.C:
			runSweep(ctx, name, retention, sweep)
		}
	}
}

func runSweep(ctx context.Context, name string, retention time.Duration, sweep SweepFunc) {
	cutoff := time.Now().Add(-retention)
	n, err := sweep(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("sweep failed", slog.String("collection", name), slog.Any("err", err))
		}
		return
	}
	if n > 0 {
		telemetry.AddSweepDeleted(n)
		slog.Debug("sweep purged expired events",
			slog.String("collection", name), slog.Int64("deleted", n))
	}
}
