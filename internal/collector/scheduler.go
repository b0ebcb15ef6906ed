package collector

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler drives continuous collection: it runs a cycle, subtracts the
// cycle's own duration from the configured interval, then sleeps the
// remainder. A panicking cycle is contained and followed by a cooldown so a
// persistent fault cannot spin the loop.
type Scheduler struct {
	collector *Collector
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger

	// panicCooldown is the pause after a recovered cycle panic.
	panicCooldown time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
}

// NewScheduler creates a Scheduler running cycles every interval. A positive
// retention enables the prune sweep after each cycle.
func NewScheduler(c *Collector, interval, retention time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		collector:     c,
		interval:      interval,
		retention:     retention,
		logger:        logger,
		panicCooldown: time.Minute,
		sleep:         sleepCtx,
	}
}

// Run loops until ctx is cancelled. It always returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"interval", s.interval,
		"retention", s.retention)

	for {
		start := time.Now()
		if faulted := s.runOnce(ctx); faulted {
			if err := s.sleep(ctx, s.panicCooldown); err != nil {
				return err
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		elapsed := time.Since(start)
		wait := s.interval - elapsed
		if wait < 0 {
			s.logger.Warn("cycle overran the schedule",
				"elapsed", elapsed,
				"interval", s.interval)
			wait = 0
		}

		s.logger.Debug("next cycle scheduled", "wait", wait)
		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// runOnce executes one cycle plus the retention sweep, absorbing panics. It
// reports whether the cycle panicked.
func (s *Scheduler) runOnce(ctx context.Context) (faulted bool) {
	defer func() {
		if r := recover(); r != nil {
			faulted = true
			s.logger.Error("collection cycle panicked",
				"panic", r,
				"cooldown", s.panicCooldown)
		}
	}()

	if _, err := s.collector.RunCycle(ctx); err != nil {
		s.logger.Error("collection cycle failed", "error", err)
	}

	if s.retention > 0 {
		if _, err := s.collector.PruneOlderThan(ctx, s.retention); err != nil {
			s.logger.Error("retention sweep failed", "error", err)
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
