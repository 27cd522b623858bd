// Package scheduler is the bounded worker pool that drains the job queue:
// meetings, single task executions and action item batches.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/basket/clawboard/internal/otel"
	"github.com/basket/clawboard/internal/persistence"
	"github.com/basket/clawboard/internal/shared"
)

type Config struct {
	WorkerCount       int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
}

type Status struct {
	WorkerCount int    `json:"worker_count"`
	ActiveJobs  int32  `json:"active_jobs"`
	LastError   string `json:"last_error,omitempty"`
}

type Scheduler struct {
	store    *persistence.Store
	handlers map[persistence.JobKind]Handler
	config   Config
	inst     *otel.Instruments
	logger   *slog.Logger

	once sync.Once
	wg   sync.WaitGroup

	activeJobs atomic.Int32
	lastError  atomic.Pointer[string]
}

func New(store *persistence.Store, handlers map[persistence.JobKind]Handler, cfg Config, inst *otel.Instruments, logger *slog.Logger) *Scheduler {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if inst == nil {
		inst = otel.NoopInstruments()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    store,
		handlers: handlers,
		config:   cfg,
		inst:     inst,
		logger:   logger,
	}
}

// SetHandlers replaces the handler table before Start.
func (s *Scheduler) SetHandlers(h map[persistence.JobKind]Handler) {
	s.handlers = h
}

// Start requeues jobs left in flight by a previous process and launches the
// workers. Later calls do nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.once.Do(func() {
		n, err := s.store.RecoverRunningJobs(ctx)
		if err != nil {
			s.logger.Error("job recovery failed", "error", err)
		} else if n > 0 {
			s.logger.Info("recovered in-flight jobs on startup", "count", n)
		}
		for i := 0; i < s.config.WorkerCount; i++ {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.worker(ctx)
			}()
		}
	})
}

func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Drain waits for the workers to stop after the start context is cancelled.
// Jobs still running when timeout passes keep their lease and are requeued
// by the next Start.
func (s *Scheduler) Drain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler drained cleanly")
	case <-time.After(timeout):
		s.logger.Warn("scheduler drain timeout; in-flight jobs will be recovered on next start", "timeout", timeout)
	}
}

func (s *Scheduler) Status() Status {
	st := Status{
		WorkerCount: s.config.WorkerCount,
		ActiveJobs:  s.activeJobs.Load(),
	}
	if msg := s.lastError.Load(); msg != nil {
		st.LastError = *msg
	}
	return st
}

func (s *Scheduler) worker(ctx context.Context) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := s.store.RequeueExpiredJobLeases(ctx); err != nil {
			s.setLastError(fmt.Errorf("requeue expired leases: %w", err))
		}

		job, err := s.store.ClaimNextJob(ctx)
		if err != nil {
			s.setLastError(err)
		}
		if err != nil || job == nil {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				continue
			}
		}
		if err := s.store.StartJobRun(ctx, job.ID, job.LeaseOwner); err != nil {
			s.setLastError(fmt.Errorf("start job run: %w", err))
			continue
		}
		job.Status = persistence.JobStatusRunning
		s.handleJob(ctx, *job)
	}
}

func (s *Scheduler) handleJob(ctx context.Context, job persistence.Job) {
	ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	ctx = shared.WithJobID(ctx, job.ID)
	ctx = shared.WithProjectID(ctx, job.ProjectID)
	logger := s.logger.With("job_id", job.ID, "kind", string(job.Kind), "project_id", job.ProjectID)
	logger.InfoContext(ctx, "job processing", "attempt", job.Attempt+1, "max_attempts", job.MaxAttempts)

	kindAttr := metric.WithAttributes(otel.AttrJobKind.String(string(job.Kind)))
	s.activeJobs.Add(1)
	s.inst.Metrics.ActiveJobs.Add(ctx, 1, kindAttr)
	defer func() {
		s.activeJobs.Add(-1)
		s.inst.Metrics.ActiveJobs.Add(context.WithoutCancel(ctx), -1, kindAttr)
	}()

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.heartbeat(jobCtx, job, logger)

	result, err := s.run(jobCtx, job)
	if err == nil {
		if err := s.store.CompleteJob(context.WithoutCancel(ctx), job.ID, result); err != nil {
			s.setLastError(err)
			logger.ErrorContext(ctx, "failed to complete job", "error", err)
			return
		}
		logger.InfoContext(ctx, "job succeeded")
		return
	}

	if ctx.Err() != nil {
		// Shutdown: the lease lapses and the next start requeues the job.
		logger.WarnContext(ctx, "job interrupted by shutdown", "error", err)
		return
	}
	s.setLastError(err)
	decision, herr := s.store.HandleJobFailure(context.WithoutCancel(ctx), job.ID, err.Error(), IsPermanent(err))
	if herr != nil {
		logger.ErrorContext(ctx, "failed to record job failure", "error", herr, "cause", err)
		return
	}
	if decision.Outcome == persistence.FailureOutcomeRetried {
		s.inst.Metrics.JobsRetried.Add(ctx, 1, kindAttr)
	}
	logger.WarnContext(ctx, "job failed", "error", err, "outcome", string(decision.Outcome), "reason_code", decision.ReasonCode)
}

func (s *Scheduler) run(ctx context.Context, job persistence.Job) (result string, err error) {
	h, ok := s.handlers[job.Kind]
	if !ok {
		return "", Permanent(fmt.Errorf("no handler for job kind %q", job.Kind))
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

func (s *Scheduler) heartbeat(ctx context.Context, job persistence.Job, logger *slog.Logger) {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := s.store.HeartbeatJobLease(context.Background(), job.ID, job.LeaseOwner)
			if err != nil {
				s.setLastError(fmt.Errorf("lease heartbeat: %w", err))
				continue
			}
			if !ok {
				logger.WarnContext(ctx, "lease heartbeat rejected")
			}
		}
	}
}

func (s *Scheduler) setLastError(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	msg := err.Error()
	s.lastError.Store(&msg)
}
