package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestScheduler(t *testing.T, start time.Time) (*Scheduler, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: start}
	return New(time.UTC, zap.NewNop().Sugar(), WithClock(clock)), clock
}

func at(day, hour, minute int) time.Time {
	return time.Date(2024, 5, day, hour, minute, 0, 0, time.UTC)
}

func TestAddDailyAt_NextRun(t *testing.T) {
	s, _ := newTestScheduler(t, at(1, 5, 30))

	noop := func(ctx context.Context) error { return nil }
	require.NoError(t, s.AddDailyAt("morning", "06:00", noop))
	require.NoError(t, s.AddDailyAt("evening", "19:00", noop))

	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "0 6 * * *", jobs[0].Schedule)
	assert.Equal(t, at(1, 6, 0), jobs[0].NextRun)
	assert.Equal(t, at(1, 19, 0), jobs[1].NextRun)
	assert.True(t, jobs[0].LastRun.IsZero())
}

func TestAddJob_Invalid(t *testing.T) {
	s, _ := newTestScheduler(t, at(1, 0, 0))
	noop := func(ctx context.Context) error { return nil }

	assert.Error(t, s.AddDailyAt("bad", "25:99", noop))
	assert.Error(t, s.AddJob("bad", "not a cron", noop))

	require.NoError(t, s.AddJob("dup", "0 * * * *", noop))
	assert.Error(t, s.AddJob("dup", "0 * * * *", noop))
}

func TestRunPending_FiresOnceAndReschedules(t *testing.T) {
	s, clock := newTestScheduler(t, at(1, 5, 59))

	runs := 0
	require.NoError(t, s.AddDailyAt("fetch", "06:00", func(ctx context.Context) error {
		runs++
		return nil
	}))

	ctx := context.Background()
	assert.Equal(t, 0, s.RunPending(ctx))
	assert.Equal(t, 0, runs)

	clock.Set(at(1, 6, 0))
	assert.Equal(t, 1, s.RunPending(ctx))
	assert.Equal(t, 1, runs)

	// Polling again within the same minute does not refire.
	clock.Set(at(1, 6, 0).Add(30 * time.Second))
	assert.Equal(t, 0, s.RunPending(ctx))

	jobs := s.Jobs()
	assert.Equal(t, at(2, 6, 0), jobs[0].NextRun)
	assert.Equal(t, at(1, 6, 0), jobs[0].LastRun)
}

func TestRunPending_MissedPeriodsCollapse(t *testing.T) {
	s, clock := newTestScheduler(t, at(1, 5, 0))

	runs := 0
	require.NoError(t, s.AddDailyAt("fetch", "06:00", func(ctx context.Context) error {
		runs++
		return nil
	}))

	clock.Set(at(4, 7, 0))
	s.RunPending(context.Background())
	assert.Equal(t, 1, runs)
	assert.Equal(t, at(5, 6, 0), s.Jobs()[0].NextRun)
}

func TestRunPending_SurvivesErrorsAndPanics(t *testing.T) {
	s, clock := newTestScheduler(t, at(1, 5, 0))

	var order []string
	require.NoError(t, s.AddDailyAt("failing", "06:00", func(ctx context.Context) error {
		order = append(order, "failing")
		return errors.New("upstream down")
	}))
	require.NoError(t, s.AddDailyAt("panicking", "06:00", func(ctx context.Context) error {
		order = append(order, "panicking")
		panic("boom")
	}))
	require.NoError(t, s.AddDailyAt("healthy", "06:00", func(ctx context.Context) error {
		order = append(order, "healthy")
		return nil
	}))

	clock.Set(at(1, 6, 0))
	assert.NotPanics(t, func() {
		assert.Equal(t, 3, s.RunPending(context.Background()))
	})
	assert.Equal(t, []string{"failing", "panicking", "healthy"}, order)

	for _, j := range s.Jobs() {
		assert.Equal(t, at(2, 6, 0), j.NextRun, j.Name)
	}
}

func TestRunNow(t *testing.T) {
	s, _ := newTestScheduler(t, at(1, 5, 0))

	called := false
	require.NoError(t, s.AddDailyAt("fetch", "06:00", func(ctx context.Context) error {
		called = true
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return nil
	}))

	require.NoError(t, s.RunNow(context.Background(), "fetch"))
	assert.True(t, called)
	assert.Equal(t, at(1, 6, 0), s.Jobs()[0].NextRun)

	assert.Error(t, s.RunNow(context.Background(), "missing"))
}

func TestRunNow_RecoversPanic(t *testing.T) {
	s, _ := newTestScheduler(t, at(1, 5, 0))
	require.NoError(t, s.AddJob("explode", "0 6 * * *", func(ctx context.Context) error {
		panic("boom")
	}))

	err := s.RunNow(context.Background(), "explode")
	assert.ErrorContains(t, err, "panicked")
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := New(time.UTC, zap.NewNop().Sugar(), WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}
