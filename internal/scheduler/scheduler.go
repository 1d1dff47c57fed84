// Package scheduler implements background maintenance for the gateway,
// currently the daily history retention cleanup.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rcon/internal/config"
)

// Pruner deletes history records older than maxAge.
type Pruner interface {
	Prune(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg   config.HistoryConfig
	store Pruner
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg config.HistoryConfig, store Pruner) *Scheduler {
	return &Scheduler{
		cfg:   cfg,
		store: store,
	}
}

// Start runs the cleanup once, then daily at the configured time, until
// ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cfg.Retention <= 0 || s.store == nil {
		log.Debug().Msg("history retention disabled, scheduler idle")
		<-ctx.Done()
		return
	}

	log.Info().Dur("retention", s.cfg.Retention).Msg("scheduler started")

	s.runCleanup(ctx)

	for {
		nextRun := s.nextCleanupTime(time.Now())
		sleepDuration := time.Until(nextRun)

		log.Debug().
			Time("next_run", nextRun).
			Dur("sleep", sleepDuration).
			Msg("history cleanup scheduled")

		timer := time.NewTimer(sleepDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("scheduler stopped")
			return
		case <-timer.C:
			s.runCleanup(ctx)
		}
	}
}

// runCleanup deletes records past the retention window.
func (s *Scheduler) runCleanup(ctx context.Context) {
	removed, err := s.store.Prune(ctx, s.cfg.Retention)
	if err != nil {
		log.Warn().Err(err).Msg("history cleanup failed")
		return
	}

	log.Info().
		Int64("deleted_records", removed).
		Dur("retention", s.cfg.Retention).
		Msg("history cleanup completed")
}

// nextCleanupTime returns the next time the cleanup should run.
func (s *Scheduler) nextCleanupTime(now time.Time) time.Time {
	hour, minute, err := config.ParseClock(s.cfg.CleanupTime)
	if err != nil {
		hour, minute = 4, 0 // Default: 4:00 AM
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}

	return next
}
