package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval = 60 * time.Second
	DefaultJobTimeout   = 30 * time.Minute
)

// Job represents a scheduled task
type Job func(ctx context.Context) error

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Option func(*Scheduler)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

type entry struct {
	name     string
	spec     string
	schedule cron.Schedule
	job      Job
	next     time.Time
	prev     time.Time
}

// Scheduler fires jobs at cron-described times. It never starts goroutines
// of its own; Run drives it from the caller's goroutine.
type Scheduler struct {
	logger       *zap.SugaredLogger
	clock        Clock
	location     *time.Location
	pollInterval time.Duration
	jobTimeout   time.Duration

	mu      sync.Mutex
	entries []*entry
}

func New(loc *time.Location, logger *zap.SugaredLogger, opts ...Option) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	s := &Scheduler{
		logger:       logger,
		clock:        realClock{},
		location:     loc,
		pollInterval: DefaultPollInterval,
		jobTimeout:   DefaultJobTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob registers job under a standard five-field cron spec
// evaluated in the scheduler's location.
func (s *Scheduler) AddJob(name, spec string, job Job) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.name == name {
			return fmt.Errorf("job %s already scheduled", name)
		}
	}

	e := &entry{
		name:     name,
		spec:     spec,
		schedule: schedule,
		job:      job,
		next:     schedule.Next(s.clock.Now().In(s.location)),
	}
	s.entries = append(s.entries, e)

	s.logger.Infow("Added job", "name", name, "schedule", spec, "next_run", e.next)
	return nil
}

// AddDailyAt schedules job once a day at timeStr ("HH:MM").
func (s *Scheduler) AddDailyAt(name, timeStr string, job Job) error {
	t, err := time.Parse("15:04", timeStr)
	if err != nil {
		return fmt.Errorf("invalid time format %s: %w", timeStr, err)
	}

	spec := fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour())
	return s.AddJob(name, spec, job)
}

// RunPending runs every job whose trigger time has passed, in registration
// order, and reschedules each from the current time. Several missed
// periods collapse into a single run. It returns the number of jobs run.
func (s *Scheduler) RunPending(ctx context.Context) int {
	now := s.clock.Now().In(s.location)

	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if !e.next.After(now) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		if ctx.Err() != nil {
			break
		}
		s.execute(ctx, e.name, e.job)

		after := s.clock.Now().In(s.location)
		s.mu.Lock()
		e.prev = now
		e.next = e.schedule.Next(after)
		s.mu.Unlock()

		s.logger.Debugw("Rescheduled job", "name", e.name, "next_run", e.next)
	}
	return len(due)
}

// Run polls for due jobs until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Infow("Starting scheduler", "poll_interval", s.pollInterval, "jobs", len(s.Jobs()))

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Infow("Stopping scheduler")
			return nil
		case <-ticker.C:
			s.RunPending(ctx)
		}
	}
}

// RunNow executes the named job immediately without touching its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var job Job
	for _, e := range s.entries {
		if e.name == name {
			job = e.job
			break
		}
	}
	s.mu.Unlock()

	if job == nil {
		return fmt.Errorf("job %s not found", name)
	}
	return s.execute(ctx, name, job)
}

// execute runs one job with the per-job timeout. Panics are converted to
// errors so a failing job cannot take the loop down.
func (s *Scheduler) execute(ctx context.Context, name string, job Job) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()

	s.logger.Infow("Starting job", "name", name)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", name, r)
			s.logger.Errorw("Job panicked", "name", name, "panic", r)
		}
	}()

	if err = job(ctx); err != nil {
		s.logger.Warnw("Job failed", "name", name, "error", err, "duration", time.Since(start))
		return err
	}

	s.logger.Infow("Job completed", "name", name, "duration", time.Since(start))
	return nil
}

// JobInfo contains information about a scheduled job
type JobInfo struct {
	Name     string
	Schedule string
	NextRun  time.Time
	LastRun  time.Time
}

func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.entries))
	for _, e := range s.entries {
		infos = append(infos, JobInfo{
			Name:     e.name,
			Schedule: e.spec,
			NextRun:  e.next,
			LastRun:  e.prev,
		})
	}
	return infos
}
