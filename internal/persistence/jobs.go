package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/basket/clawboard/internal/bus"
	"github.com/basket/clawboard/internal/shared"
	"github.com/google/uuid"
)

const (
	defaultLeaseDuration  = 30 * time.Second
	defaultJobMaxAttempts = 2
	defaultJobRetryDelay  = 30 * time.Second
)

// Deterministic reason codes for retry and terminal states.
const (
	ReasonRetryProcessorError   = "RETRY_PROCESSOR_ERROR"
	ReasonDeadLetterMaxAttempts = "DEAD_LETTER_MAX_ATTEMPTS"
	ReasonDeadLetterPermanent   = "DEAD_LETTER_PERMANENT"
)

type JobKind string

const (
	JobKindMeeting     JobKind = "meeting"
	JobKindTask        JobKind = "task"
	JobKindActionItems JobKind = "action_items"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusClaimed    JobStatus = "CLAIMED"
	JobStatusRunning    JobStatus = "RUNNING"
	JobStatusRetryWait  JobStatus = "RETRY_WAIT"
	JobStatusSucceeded  JobStatus = "SUCCEEDED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusDeadLetter JobStatus = "DEAD_LETTER"
)

var allowedJobTransitions = map[JobStatus]map[JobStatus]struct{}{
	JobStatusQueued: {
		JobStatusClaimed: {},
	},
	JobStatusClaimed: {
		JobStatusRunning: {},
		JobStatusQueued:  {}, // Recovery requeue.
	},
	JobStatusRunning: {
		JobStatusSucceeded: {},
		JobStatusFailed:    {},
		JobStatusRetryWait: {},
		JobStatusQueued:    {}, // Crash recovery requeue.
	},
	JobStatusRetryWait: {
		JobStatusQueued: {},
	},
	JobStatusFailed: {
		JobStatusDeadLetter: {},
	},
}

// Job is one unit of work on the scheduler queue.
type Job struct {
	ID             string     `json:"id"`
	Kind           JobKind    `json:"kind"`
	ProjectID      string     `json:"project_id"`
	Payload        string     `json:"payload"`
	Status         JobStatus  `json:"status"`
	Attempt        int        `json:"attempt"`
	MaxAttempts    int        `json:"max_attempts"`
	AvailableAt    time.Time  `json:"available_at"`
	LastErrorCode  string     `json:"last_error_code,omitempty"`
	Result         string     `json:"result,omitempty"`
	Error          string     `json:"error,omitempty"`
	LeaseOwner     string     `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type JobEvent struct {
	EventID   int64     `json:"event_id"`
	JobID     string    `json:"job_id"`
	TraceID   string    `json:"trace_id,omitempty"`
	EventType string    `json:"event_type"`
	StateFrom JobStatus `json:"state_from"`
	StateTo   JobStatus `json:"state_to"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

type FailureOutcome string

const (
	FailureOutcomeRetried    FailureOutcome = "RETRIED"
	FailureOutcomeDeadLetter FailureOutcome = "DEAD_LETTER"
)

type FailureDecision struct {
	Outcome      FailureOutcome `json:"outcome"`
	Attempt      int            `json:"attempt"`
	MaxAttempts  int            `json:"max_attempts"`
	BackoffUntil *time.Time     `json:"backoff_until,omitempty"`
	ReasonCode   string         `json:"reason_code"`
}

const jobColumns = `id, kind, project_id, payload, status, attempt, max_attempts, available_at,
	COALESCE(last_error_code, ''), COALESCE(result, ''), COALESCE(error, ''),
	COALESCE(lease_owner, ''), lease_expires_at, created_at, updated_at`

func canTransitionJob(from, to JobStatus) bool {
	next, ok := allowedJobTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

func scanJob(scanFn func(dest ...any) error, job *Job) error {
	var leaseExpires sql.NullTime
	if err := scanFn(
		&job.ID,
		&job.Kind,
		&job.ProjectID,
		&job.Payload,
		&job.Status,
		&job.Attempt,
		&job.MaxAttempts,
		&job.AvailableAt,
		&job.LastErrorCode,
		&job.Result,
		&job.Error,
		&job.LeaseOwner,
		&leaseExpires,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return err
	}
	job.LeaseExpiresAt = timePtr(leaseExpires)
	return nil
}

func (s *Store) appendJobEventTx(ctx context.Context, tx *sql.Tx, jobID string, from, to JobStatus, eventType, payload string) error {
	if payload == "" {
		payload = "{}"
	}
	traceID := shared.TraceID(ctx)
	if traceID == "-" {
		traceID = ""
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO job_events (job_id, trace_id, event_type, state_from, state_to, payload_json, created_at)
		VALUES (?, NULLIF(?, ''), ?, NULLIF(?, ''), ?, ?, ?);
	`, jobID, traceID, eventType, string(from), string(to), payload, nowUTC())
	if err != nil {
		return fmt.Errorf("insert job_event: %w", err)
	}
	return nil
}

func (s *Store) transitionJobTx(
	ctx context.Context,
	tx *sql.Tx,
	jobID string,
	allowedFrom []JobStatus,
	to JobStatus,
	eventType string,
	payload string,
	result *string,
	errMsg *string,
) (bool, error) {
	var current JobStatus
	if err := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?;`, jobID).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("select job for transition: %w", err)
	}
	if !slices.Contains(allowedFrom, current) {
		return false, nil
	}
	if !canTransitionJob(current, to) {
		return false, fmt.Errorf("illegal transition %s -> %s", current, to)
	}

	resValue := sql.NullString{}
	if result != nil {
		resValue = sql.NullString{String: *result, Valid: true}
	}
	errValue := sql.NullString{}
	if errMsg != nil {
		errValue = sql.NullString{String: *errMsg, Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?,
			result = CASE WHEN ? THEN ? ELSE result END,
			error = CASE WHEN ? THEN ? ELSE error END,
			updated_at = ?
		WHERE id = ? AND status = ?;
	`, to, resValue.Valid, resValue.String, errValue.Valid, errValue.String, nowUTC(), jobID, current)
	if err != nil {
		return false, fmt.Errorf("update job transition: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition rows affected: %w", err)
	}
	if affected != 1 {
		return false, nil
	}
	if err := s.appendJobEventTx(ctx, tx, jobID, current, to, eventType, payload); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) publishJobState(jobID string, from, to JobStatus) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.TopicJobStateChanged, bus.JobStateChangedEvent{
		JobID:     jobID,
		OldStatus: string(from),
		NewStatus: string(to),
	})
}

// EnqueueJob inserts a job that is immediately available to workers.
func (s *Store) EnqueueJob(ctx context.Context, kind JobKind, projectID, payload string) (string, error) {
	if payload == "" {
		payload = "{}"
	}
	jobID := uuid.NewString()
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin enqueue job tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		now := nowUTC()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (id, kind, project_id, payload, status, attempt, max_attempts, available_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?);
		`, jobID, kind, projectID, payload, JobStatusQueued, s.jobMaxAttempts, now, now, now); err != nil {
			return fmt.Errorf("enqueue job: %w", err)
		}
		if err := s.appendJobEventTx(ctx, tx, jobID, "", JobStatusQueued, "job.enqueued", fmt.Sprintf(`{"kind":%q}`, kind)); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return "", err
	}
	s.publishJobState(jobID, "", JobStatusQueued)
	return jobID, nil
}

// ClaimNextJob leases the oldest available queued job, or returns nil when
// the queue is empty.
func (s *Store) ClaimNextJob(ctx context.Context) (*Job, error) {
	var result *Job
	err := retryOnBusy(ctx, 5, func() error {
		result = nil
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin claim tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var job Job
		row := tx.QueryRowContext(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE status = ? AND available_at <= ?
			ORDER BY available_at ASC, created_at ASC, id ASC
			LIMIT 1;
		`, JobStatusQueued, nowUTC())
		if scanErr := scanJob(row.Scan, &job); scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("select queued job: %w", scanErr)
		}

		ok, err := s.transitionJobTx(ctx, tx, job.ID,
			[]JobStatus{JobStatusQueued}, JobStatusClaimed,
			"job.claimed", `{"reason":"claim_next"}`, nil, nil)
		if err != nil {
			return fmt.Errorf("claim job transition: %w", err)
		}
		if !ok {
			return nil
		}
		leaseOwner := uuid.NewString()
		leaseExpiresAt := nowUTC().Add(s.leaseDuration)
		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET lease_owner = ?, lease_expires_at = ?, updated_at = ?
			WHERE id = ? AND status = ?;
		`, leaseOwner, leaseExpiresAt, nowUTC(), job.ID, JobStatusClaimed); err != nil {
			return fmt.Errorf("set claim lease: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit claim tx: %w", err)
		}
		job.Status = JobStatusClaimed
		job.LeaseOwner = leaseOwner
		job.LeaseExpiresAt = &leaseExpiresAt
		result = &job
		return nil
	})
	if result != nil {
		s.publishJobState(result.ID, JobStatusQueued, JobStatusClaimed)
	}
	return result, err
}

// StartJobRun transitions a claimed job to running. The caller must hold the lease.
func (s *Store) StartJobRun(ctx context.Context, jobID, leaseOwner string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin start job tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentLeaseOwner string
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(lease_owner, '') FROM jobs WHERE id = ? AND status = ?;
	`, jobID, JobStatusClaimed).Scan(&currentLeaseOwner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("read claimed lease owner: %w", err)
	}
	if currentLeaseOwner == "" || currentLeaseOwner != leaseOwner {
		return ErrNotFound
	}
	ok, err := s.transitionJobTx(ctx, tx, jobID,
		[]JobStatus{JobStatusClaimed}, JobStatusRunning,
		"job.running", `{"reason":"worker_start"}`, nil, nil)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET lease_expires_at = ?, updated_at = ?
		WHERE id = ? AND lease_owner = ? AND status = ?;
	`, nowUTC().Add(s.leaseDuration), nowUTC(), jobID, leaseOwner, JobStatusRunning); err != nil {
		return fmt.Errorf("extend lease on start run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit start job tx: %w", err)
	}
	s.publishJobState(jobID, JobStatusClaimed, JobStatusRunning)
	return nil
}

func (s *Store) HeartbeatJobLease(ctx context.Context, jobID, leaseOwner string) (bool, error) {
	if leaseOwner == "" {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET lease_expires_at = ?, updated_at = ?
		WHERE id = ? AND lease_owner = ? AND status IN (?, ?);
	`, nowUTC().Add(s.leaseDuration), nowUTC(), jobID, leaseOwner, JobStatusClaimed, JobStatusRunning)
	if err != nil {
		return false, fmt.Errorf("heartbeat lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}
	return n == 1, nil
}

// RequeueExpiredJobLeases returns in-flight jobs whose lease lapsed to the queue.
func (s *Store) RequeueExpiredJobLeases(ctx context.Context) (int64, error) {
	return s.requeueInFlight(ctx, true, "job.lease_expired", `{"reason":"lease_expired"}`)
}

// RecoverRunningJobs requeues every claimed or running job. Called once at
// startup before workers begin claiming.
func (s *Store) RecoverRunningJobs(ctx context.Context) (int64, error) {
	return s.requeueInFlight(ctx, false, "job.recovered", `{"reason":"startup_recovery"}`)
}

func (s *Store) requeueInFlight(ctx context.Context, expiredOnly bool, eventType, payload string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin requeue tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `SELECT id FROM jobs WHERE status IN (?, ?)`
	args := []any{JobStatusClaimed, JobStatusRunning}
	if expiredOnly {
		query += ` AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?`
		args = append(args, nowUTC())
	}
	rows, err := tx.QueryContext(ctx, query+`;`, args...)
	if err != nil {
		return 0, fmt.Errorf("query in-flight jobs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan in-flight job: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate in-flight jobs: %w", err)
	}

	var requeued int64
	for _, id := range ids {
		ok, err := s.transitionJobTx(ctx, tx, id,
			[]JobStatus{JobStatusClaimed, JobStatusRunning}, JobStatusQueued,
			eventType, payload, nil, nil)
		if err != nil {
			return 0, fmt.Errorf("requeue job transition: %w", err)
		}
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET lease_owner = NULL, lease_expires_at = NULL, available_at = ?, updated_at = ?
			WHERE id = ? AND status = ?;
		`, nowUTC(), nowUTC(), id, JobStatusQueued); err != nil {
			return 0, fmt.Errorf("clear lease on requeue: %w", err)
		}
		requeued++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit requeue tx: %w", err)
	}
	return requeued, nil
}

func (s *Store) CompleteJob(ctx context.Context, jobID, result string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete job tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	ok, err := s.transitionJobTx(ctx, tx, jobID,
		[]JobStatus{JobStatusRunning}, JobStatusSucceeded,
		"job.succeeded", `{"reason":"handler_success"}`, &result, nil)
	if err != nil {
		return fmt.Errorf("complete job transition: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET lease_owner = NULL, lease_expires_at = NULL, error = NULL, updated_at = ?
		WHERE id = ? AND status = ?;
	`, nowUTC(), jobID, JobStatusSucceeded); err != nil {
		return fmt.Errorf("clear lease on complete: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit complete job tx: %w", err)
	}
	s.publishJobState(jobID, JobStatusRunning, JobStatusSucceeded)
	return nil
}

// HandleJobFailure applies the retry/dead-letter decision for a running job.
// Permanent failures and exhausted attempts dead-letter; anything else waits
// the fixed retry delay and is requeued.
func (s *Store) HandleJobFailure(ctx context.Context, jobID, errMsg string, permanent bool) (FailureDecision, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return FailureDecision{}, fmt.Errorf("begin handle failure tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		status      JobStatus
		attempt     int
		maxAttempts int
	)
	if err := tx.QueryRowContext(ctx, `
		SELECT status, attempt, max_attempts FROM jobs WHERE id = ?;
	`, jobID).Scan(&status, &attempt, &maxAttempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FailureDecision{}, ErrNotFound
		}
		return FailureDecision{}, fmt.Errorf("select job for failure handling: %w", err)
	}
	if status != JobStatusRunning {
		return FailureDecision{}, ErrNotFound
	}
	if maxAttempts <= 0 {
		maxAttempts = s.jobMaxAttempts
	}

	nextAttempt := attempt + 1
	decision := FailureDecision{
		Attempt:     nextAttempt,
		MaxAttempts: maxAttempts,
		ReasonCode:  ReasonRetryProcessorError,
	}
	moveToDeadLetter := false
	if nextAttempt >= maxAttempts {
		decision.ReasonCode = ReasonDeadLetterMaxAttempts
		moveToDeadLetter = true
	}
	if permanent {
		decision.ReasonCode = ReasonDeadLetterPermanent
		moveToDeadLetter = true
	}

	if moveToDeadLetter {
		ok, err := s.transitionJobTx(ctx, tx, jobID,
			[]JobStatus{JobStatusRunning}, JobStatusFailed,
			"job.failed",
			fmt.Sprintf(`{"reason":"handler_error","reason_code":%q,"attempt":%d,"max_attempts":%d}`, decision.ReasonCode, nextAttempt, maxAttempts),
			nil, &errMsg)
		if err != nil {
			return FailureDecision{}, fmt.Errorf("transition to failed: %w", err)
		}
		if !ok {
			return FailureDecision{}, ErrNotFound
		}
		ok, err = s.transitionJobTx(ctx, tx, jobID,
			[]JobStatus{JobStatusFailed}, JobStatusDeadLetter,
			"job.dead_letter",
			fmt.Sprintf(`{"reason":"terminal_failure","reason_code":%q}`, decision.ReasonCode),
			nil, nil)
		if err != nil {
			return FailureDecision{}, fmt.Errorf("transition to dead_letter: %w", err)
		}
		if !ok {
			return FailureDecision{}, ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET attempt = ?, last_error_code = ?, lease_owner = NULL, lease_expires_at = NULL, updated_at = ?
			WHERE id = ? AND status = ?;
		`, nextAttempt, decision.ReasonCode, nowUTC(), jobID, JobStatusDeadLetter); err != nil {
			return FailureDecision{}, fmt.Errorf("update dead_letter metadata: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return FailureDecision{}, fmt.Errorf("commit dead_letter tx: %w", err)
		}
		decision.Outcome = FailureOutcomeDeadLetter
		s.publishJobState(jobID, JobStatusRunning, JobStatusDeadLetter)
		return decision, nil
	}

	availableAt := nowUTC().Add(s.jobRetryDelay)
	decision.Outcome = FailureOutcomeRetried
	decision.BackoffUntil = &availableAt

	ok, err := s.transitionJobTx(ctx, tx, jobID,
		[]JobStatus{JobStatusRunning}, JobStatusRetryWait,
		"job.retry_wait",
		fmt.Sprintf(`{"reason":"retry_scheduled","reason_code":%q,"attempt":%d,"max_attempts":%d,"delay_ms":%d}`, decision.ReasonCode, nextAttempt, maxAttempts, s.jobRetryDelay.Milliseconds()),
		nil, &errMsg)
	if err != nil {
		return FailureDecision{}, fmt.Errorf("transition to retry_wait: %w", err)
	}
	if !ok {
		return FailureDecision{}, ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET attempt = ?, available_at = ?, last_error_code = ?, lease_owner = NULL, lease_expires_at = NULL, updated_at = ?
		WHERE id = ? AND status = ?;
	`, nextAttempt, availableAt, decision.ReasonCode, nowUTC(), jobID, JobStatusRetryWait); err != nil {
		return FailureDecision{}, fmt.Errorf("update retry metadata: %w", err)
	}
	ok, err = s.transitionJobTx(ctx, tx, jobID,
		[]JobStatus{JobStatusRetryWait}, JobStatusQueued,
		"job.requeued",
		fmt.Sprintf(`{"reason":"ready_for_retry","reason_code":%q}`, decision.ReasonCode),
		nil, nil)
	if err != nil {
		return FailureDecision{}, fmt.Errorf("transition to queued after retry wait: %w", err)
	}
	if !ok {
		return FailureDecision{}, ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return FailureDecision{}, fmt.Errorf("commit retry tx: %w", err)
	}
	s.publishJobState(jobID, JobStatusRunning, JobStatusQueued)
	return decision, nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?;`, jobID).Scan, &job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// ListJobs returns the newest jobs first, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, status JobStatus, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE (? = '' OR status = ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?;
	`, status, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var out []Job
	for rows.Next() {
		var job Job
		if err := scanJob(rows.Scan, &job); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *Store) ListJobEvents(ctx context.Context, jobID string) ([]JobEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, job_id, COALESCE(trace_id, ''), event_type, COALESCE(state_from, ''), state_to, payload_json, created_at
		FROM job_events WHERE job_id = ? ORDER BY event_id ASC;
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job events: %w", err)
	}
	defer rows.Close()
	var out []JobEvent
	for rows.Next() {
		var ev JobEvent
		if err := rows.Scan(&ev.EventID, &ev.JobID, &ev.TraceID, &ev.EventType, &ev.StateFrom, &ev.StateTo, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// JobCounts reports queued and in-flight jobs.
func (s *Store) JobCounts(ctx context.Context) (queued, running int, err error) {
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE status = ?;`, JobStatusQueued).Scan(&queued); err != nil {
		return 0, 0, fmt.Errorf("count queued: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE status IN (?, ?);`, JobStatusClaimed, JobStatusRunning).Scan(&running); err != nil {
		return 0, 0, fmt.Errorf("count running: %w", err)
	}
	return queued, running, nil
}
