package scheduler

import (
	"context"
	"time"

	"ladder/internal/logger"
)

// IntervalScheduler runs a task on a fixed period until its context is
// cancelled. Used for the reconciliation sweep and the per-trade monitor
// ticks; the owned context is the cancellation token, there is no bare
// infinite loop anywhere else.
type IntervalScheduler struct {
	Interval       time.Duration
	RunImmediately bool
	Name           string

	nowFn func() time.Time
}

func NewIntervalScheduler(name string, interval time.Duration) *IntervalScheduler {
	return &IntervalScheduler{
		Interval: interval,
		Name:     name,
		nowFn:    time.Now,
	}
}

// Start blocks until ctx is done. The task is never run concurrently with
// itself; a slow run simply delays the next tick.
func (s *IntervalScheduler) Start(ctx context.Context, task func(ctx context.Context)) {
	if s == nil || task == nil {
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("IntervalScheduler(%s): invalid interval=%s, exit", s.Name, s.Interval)
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	logger.Infof("IntervalScheduler(%s): started interval=%s run_immediately=%v",
		s.Name, s.Interval, s.RunImmediately)

	if s.RunImmediately {
		task(ctx)
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infof("IntervalScheduler(%s): ctx done, exit", s.Name)
			return
		case <-ticker.C:
			task(ctx)
		}
	}
}
