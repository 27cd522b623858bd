package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Schedule is a cron-triggered recurring meeting.
type Schedule struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Name        string     `json:"name"`
	CronExpr    string     `json:"cron_expr"`
	Prompt      string     `json:"prompt"`
	AutoExecute bool       `json:"auto_execute"`
	Enabled     bool       `json:"enabled"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

const scheduleColumns = `id, project_id, name, cron_expr, prompt, auto_execute, enabled, next_run_at, last_run_at, created_at, updated_at`

func scanSchedule(scanFn func(dest ...any) error, sc *Schedule) error {
	var autoExecute, enabled int
	var nextRun, lastRun sql.NullTime
	if err := scanFn(&sc.ID, &sc.ProjectID, &sc.Name, &sc.CronExpr, &sc.Prompt, &autoExecute, &enabled, &nextRun, &lastRun, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
		return err
	}
	sc.AutoExecute = autoExecute != 0
	sc.Enabled = enabled != 0
	sc.NextRunAt = timePtr(nextRun)
	sc.LastRunAt = timePtr(lastRun)
	return nil
}

// InsertSchedule creates a new cron schedule and returns its id.
func (s *Store) InsertSchedule(ctx context.Context, sched Schedule) (string, error) {
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	var nextRun any
	if sched.NextRunAt != nil {
		nextRun = sched.NextRunAt.UTC()
	}
	now := nowUTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, project_id, name, cron_expr, prompt, auto_execute, enabled, next_run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, sched.ID, sched.ProjectID, sched.Name, sched.CronExpr, sched.Prompt, boolToInt(sched.AutoExecute),
		boolToInt(sched.Enabled), nextRun, now, now)
	if err != nil {
		return "", fmt.Errorf("insert schedule: %w", err)
	}
	return sched.ID, nil
}

// DeleteSchedule removes a schedule by ID.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return rowsAffectedOrNotFound(res, "delete schedule")
}

// ListSchedules returns all schedules ordered by name.
func (s *Store) ListSchedules(ctx context.Context) ([]Schedule, error) {
	return s.querySchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY name ASC;`)
}

// DueSchedules returns enabled schedules with next_run_at <= now.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]Schedule, error) {
	return s.querySchedules(ctx, `
		SELECT `+scheduleColumns+` FROM schedules
		WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC;
	`, now.UTC())
}

func (s *Store) querySchedules(ctx context.Context, query string, args ...any) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()
	var out []Schedule
	for rows.Next() {
		var sc Schedule
		if err := scanSchedule(rows.Scan, &sc); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// UpdateScheduleRun updates last_run_at and next_run_at after firing.
func (s *Store) UpdateScheduleRun(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET last_run_at = ?, next_run_at = ?, updated_at = ? WHERE id = ?;
	`, lastRun.UTC(), nextRun.UTC(), nowUTC(), id)
	if err != nil {
		return fmt.Errorf("update schedule run: %w", err)
	}
	return nil
}

// EnableSchedule sets a schedule's enabled flag.
func (s *Store) EnableSchedule(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET enabled = ?, updated_at = ? WHERE id = ?;
	`, boolToInt(enabled), nowUTC(), id)
	if err != nil {
		return fmt.Errorf("enable schedule: %w", err)
	}
	return rowsAffectedOrNotFound(res, "enable schedule")
}
