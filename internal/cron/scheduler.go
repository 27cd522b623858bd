// Package cron fires recurring meeting schedules by enqueueing meeting jobs.
package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/clawboard/internal/meeting"
	"github.com/basket/clawboard/internal/persistence"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Store is the slice of persistence the cron loop reads and updates.
type Store interface {
	DueSchedules(ctx context.Context, now time.Time) ([]persistence.Schedule, error)
	UpdateScheduleRun(ctx context.Context, id string, lastRun, nextRun time.Time) error
}

// Enqueuer queues a meeting job. *scheduler.Scheduler satisfies it.
type Enqueuer interface {
	EnqueueMeeting(ctx context.Context, req meeting.MeetingRequest) (string, error)
}

type Config struct {
	Store    Store
	Enqueuer Enqueuer
	Logger   *slog.Logger
	Interval time.Duration // tick interval; defaults to 1 minute if zero
	Now      func() time.Time
}

// Scheduler periodically queries the store for due schedules and enqueues a
// meeting for each one.
type Scheduler struct {
	store    Store
	enqueuer Enqueuer
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		store:    cfg.Store,
		enqueuer: cfg.Enqueuer,
		logger:   logger,
		interval: interval,
		now:      now,
	}
}

// Start runs the loop in a background goroutine until ctx is cancelled or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("cron scheduler started", "interval", s.interval)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Fire immediately on startup, then on each tick.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick fires every schedule that is due now.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now().UTC()
	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		s.logger.Error("cron: failed to query due schedules", "error", err)
		return
	}
	for _, sched := range due {
		s.fire(ctx, sched, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, sched persistence.Schedule, now time.Time) {
	logger := s.logger.With("schedule_id", sched.ID, "schedule_name", sched.Name, "project_id", sched.ProjectID)

	// Advance first so a broken enqueue does not refire on every tick.
	nextRun, err := NextRunTime(sched.CronExpr, now)
	if err != nil {
		logger.Error("cron: failed to compute next run time", "cron_expr", sched.CronExpr, "error", err)
		return
	}
	if err := s.store.UpdateScheduleRun(ctx, sched.ID, now, nextRun); err != nil {
		logger.Error("cron: failed to update schedule run", "error", err)
		return
	}

	jobID, err := s.enqueuer.EnqueueMeeting(ctx, meeting.MeetingRequest{
		ProjectID:   sched.ProjectID,
		Prompt:      sched.Prompt,
		AutoExecute: sched.AutoExecute,
	})
	if err != nil {
		logger.Error("cron: failed to enqueue meeting", "error", err)
		return
	}

	logger.Info("cron: schedule fired", "job_id", jobID, "next_run_at", nextRun)
}

// NextRunTime parses the cron expression and returns the next run time after
// the given time, in UTC.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after.UTC()), nil
}
