package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Checker runs one poll cycle.
type Checker interface {
	Check(ctx context.Context) (Result, error)
}

// Scheduler runs a Checker periodically until its context is cancelled.
type Scheduler struct {
	checker    Checker
	interval   time.Duration
	firstDelay time.Duration
	log        zerolog.Logger
}

// NewScheduler creates a scheduler that checks after firstDelay and then
// every interval.
func NewScheduler(checker Checker, interval, firstDelay time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		checker:    checker,
		interval:   interval,
		firstDelay: firstDelay,
		log:        log.With().Str("component", "scheduler").Logger(),
	}
}

// Run blocks until ctx is done. A failed cycle is logged and the schedule
// continues.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Dur("first_delay", s.firstDelay).Msg("scheduler started")

	timer := time.NewTimer(s.firstDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return
		case <-timer.C:
			s.runOnce(ctx)
			timer.Reset(s.interval)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("poll cycle panicked")
		}
	}()

	res, err := s.checker.Check(ctx)
	if err != nil {
		s.log.Error().Err(err).Int("cursor", res.Cursor).Msg("poll cycle failed")
		return
	}
	if len(res.Transactions) > 0 {
		s.log.Info().Int("transactions", len(res.Transactions)).Msg("new transactions dispatched")
	}
}
