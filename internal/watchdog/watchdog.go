package watchdog

import (
	"context"
	"log"
	"time"

	"mission-dispatch/internal/config"
	"mission-dispatch/internal/lifecycle"
	"mission-dispatch/internal/models"
	"mission-dispatch/internal/store"
	"mission-dispatch/internal/telemetry"
)

const expireBatchSize = 100

// Watchdog closes out live sessions whose requested duration elapsed.
// Once a stream is in_progress only endSession can finish it; when the
// scout never ends it, this loop is the system-side end.
type Watchdog struct {
	cfg       config.Config
	store     store.Store
	lifecycle *lifecycle.Controller
}

func New(cfg config.Config, st store.Store, lc *lifecycle.Controller) *Watchdog {
	return &Watchdog{cfg: cfg, store: st, lifecycle: lc}
}

// Run polls until context cancellation.
func (w *Watchdog) Run(ctx context.Context) error {
	interval := w.cfg.WatchdogPollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		w.sweep(ctx)
	}
}

// sweep runs one pass: refresh gauges, then expire overdue sessions.
func (w *Watchdog) sweep(ctx context.Context) {
	if pending, err := w.store.ListByStatus(ctx, models.StatusPending); err == nil {
		telemetry.PendingGauge.Set(float64(len(pending)))
	}
	if live, err := w.store.ListByStatus(ctx, models.StatusInProgress); err == nil {
		telemetry.LiveGauge.Set(float64(len(live)))
	}

	expired, err := w.lifecycle.ExpireOverdue(ctx, time.Now(), expireBatchSize)
	if err != nil {
		log.Printf("watchdog: expire overdue: %v", err)
		return
	}
	for _, mission := range expired {
		log.Printf("watchdog: completed mission %s after %dm", mission.ID, mission.DurationMinutes)
	}
}
