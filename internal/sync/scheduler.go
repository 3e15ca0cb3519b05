package sync

import (
	"context"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vdavid/mailsync/internal/db"
)

// schedulerTick is how often the scheduler re-reads settings and checks
// whether a periodic sync is due.
const schedulerTick = time.Minute

// Scheduler triggers background syncs on the configured interval. Settings
// are re-read every tick, so enabling auto-sync or changing the interval
// takes effect without a restart.
type Scheduler struct {
	pool        *pgxpool.Pool
	coordinator *Coordinator
	tick        time.Duration
	lastRun     time.Time
}

// NewScheduler creates a scheduler bound to the coordinator.
func NewScheduler(pool *pgxpool.Pool, coordinator *Coordinator) *Scheduler {
	return &Scheduler{pool: pool, coordinator: coordinator, tick: schedulerTick}
}

// Run blocks until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("sync: scheduler started")
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("sync: scheduler stopped")
			return
		case <-ticker.C:
			s.maybeSync(ctx)
		}
	}
}

func (s *Scheduler) maybeSync(ctx context.Context) {
	settings, err := db.GetSyncSettings(ctx, s.pool)
	if err != nil {
		log.Printf("sync: scheduler could not read settings: %v", err)
		return
	}
	if !settings.AutoSyncEnabled {
		return
	}

	interval := time.Duration(settings.SyncIntervalMinutes) * time.Minute
	if !s.lastRun.IsZero() && time.Since(s.lastRun) < interval {
		return
	}

	s.lastRun = time.Now()
	log.Printf("sync: auto-sync due (interval %s)", interval)
	if err := s.coordinator.SyncAll(ctx); err != nil {
		log.Printf("sync: auto-sync: %v", err)
	}
}
