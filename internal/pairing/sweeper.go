package pairing

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often expired codes are purged.
const DefaultSweepInterval = 60 * time.Second

// RunSweeper evicts expired codes every interval until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("pairing sweeper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("pairing sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}
