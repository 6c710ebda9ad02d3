package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntervalSchedulerRunsAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32

	done := make(chan struct{})
	s := &IntervalScheduler{Name: "test", Interval: 5 * time.Millisecond, RunImmediately: true}
	go func() {
		defer close(done)
		s.Start(ctx, func(ctx context.Context) { runs.Add(1) })
	}()

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}

func TestIntervalSchedulerRejectsInvalidInterval(t *testing.T) {
	var runs atomic.Int32
	s := &IntervalScheduler{Name: "bad", Interval: 0}
	// returns immediately instead of spinning
	s.Start(context.Background(), func(ctx context.Context) { runs.Add(1) })
	assert.Zero(t, runs.Load())
}

func TestIntervalSchedulerRunImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var runs atomic.Int32

	s := &IntervalScheduler{Name: "imm", Interval: time.Hour, RunImmediately: true}
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Start(ctx, func(ctx context.Context) { runs.Add(1) })
	}()

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	<-done
}
