package worker

import (
	"context"
	"log/slog"
	"time"

	"dreammotion/internal/service"
)

// Reaper periodically fails and refunds jobs the provider never reported
// back on. It is the safety net behind the inference webhook.
type Reaper struct {
	engine   service.Engine
	interval time.Duration
	maxAge   time.Duration
}

func NewReaper(engine service.Engine, interval, maxAge time.Duration) *Reaper {
	return &Reaper{engine: engine, interval: interval, maxAge: maxAge}
}

func (r *Reaper) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("reaper is running", "interval", r.interval, "max_age", r.maxAge)

	for {
		select {
		case <-ctx.Done():
			slog.Info("reaper shutting down")
			return nil
		case <-ticker.C:
			reaped, err := r.engine.ReapStale(ctx, r.maxAge)
			if err != nil {
				slog.Error("reaper sweep failed", "error", err)
				continue
			}
			if reaped > 0 {
				slog.Info("reaped stale generation jobs", "count", reaped)
			}
		}
	}
}

func (r *Reaper) Stop(ctx context.Context) error {
	return nil
}
