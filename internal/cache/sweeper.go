package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper garbage-collects entries past the hard TTL. Correctness never
// depends on it: stale entries are ignored by readers either way.
type Sweeper struct {
	store  Store
	ttl    time.Duration
	logger *zap.Logger
}

func NewSweeper(store Store, ttl time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{store: store, ttl: ttl, logger: logger}
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	removed, err := s.store.DeleteExpired(ctx, s.ttl)
	if err != nil {
		return removed, err
	}
	s.logger.Info("cache sweep complete",
		zap.Int("removed", removed),
		zap.Duration("ttl", s.ttl),
		zap.Duration("elapsed", time.Since(start).Round(time.Millisecond)))
	return removed, nil
}

// RunSchedule sweeps on a cron schedule until the context is cancelled.
func (s *Sweeper) RunSchedule(ctx context.Context, schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Warn("cache sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("parse sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return ctx.Err()
}
