package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending: {TaskStatusRunning, TaskStatusFailed},
	TaskStatusRunning: {TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed},
}

func canTransitionTask(from, to TaskStatus) bool {
	return slices.Contains(taskTransitions[from], to)
}

type TaskType string

const (
	TaskTypeCode     TaskType = "code"
	TaskTypeDesign   TaskType = "design"
	TaskTypeResearch TaskType = "research"
	TaskTypeReview   TaskType = "review"
	TaskTypeAnalysis TaskType = "analysis"
	TaskTypeDocument TaskType = "document"
)

type TaskSource string

const (
	TaskSourceMeeting TaskSource = "meeting"
	TaskSourceDirect  TaskSource = "direct"
)

// ErrTaskTerminal is returned when a transition is requested on a task that
// already reached completed or failed.
var ErrTaskTerminal = errors.New("task already terminal")

type Task struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"project_id"`
	AgentRole     string     `json:"agent_role"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Type          TaskType   `json:"type"`
	Status        TaskStatus `json:"status"`
	Source        TaskSource `json:"source"`
	ActionItemID  string     `json:"action_item_id,omitempty"`
	ResultSummary string     `json:"result_summary"`
	WorkspaceDir  string     `json:"workspace_dir"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NewTask carries the caller-controlled fields of a task.
type NewTask struct {
	ProjectID    string
	AgentRole    string
	Title        string
	Description  string
	Type         TaskType
	Source       TaskSource
	ActionItemID string
	WorkspaceDir string
}

type ArtifactKind string

const (
	ArtifactFile     ArtifactKind = "file"
	ArtifactCommit   ArtifactKind = "commit"
	ArtifactURL      ArtifactKind = "url"
	ArtifactDocument ArtifactKind = "document"
	ArtifactImage    ArtifactKind = "image"
)

type Artifact struct {
	ID           string       `json:"id"`
	ProjectID    string       `json:"project_id"`
	TaskID       string       `json:"task_id,omitempty"`
	Kind         ArtifactKind `json:"kind"`
	Location     string       `json:"location"`
	Description  string       `json:"description"`
	MetadataJSON string       `json:"metadata_json"`
	CreatedAt    time.Time    `json:"created_at"`
}

const taskColumns = `id, project_id, agent_role, title, description, type, status, source,
	COALESCE(action_item_id, ''), result_summary, workspace_dir, created_at, started_at,
	completed_at, updated_at`

func scanTask(scanFn func(dest ...any) error, t *Task) error {
	var started, completed sql.NullTime
	if err := scanFn(
		&t.ID,
		&t.ProjectID,
		&t.AgentRole,
		&t.Title,
		&t.Description,
		&t.Type,
		&t.Status,
		&t.Source,
		&t.ActionItemID,
		&t.ResultSummary,
		&t.WorkspaceDir,
		&t.CreatedAt,
		&started,
		&completed,
		&t.UpdatedAt,
	); err != nil {
		return err
	}
	t.StartedAt = timePtr(started)
	t.CompletedAt = timePtr(completed)
	return nil
}

// CreateTask inserts a pending task. Direct tasks never carry an action item.
func (s *Store) CreateTask(ctx context.Context, in NewTask) (*Task, error) {
	if in.Source == "" {
		in.Source = TaskSourceDirect
	}
	if in.Source == TaskSourceDirect && in.ActionItemID != "" {
		return nil, fmt.Errorf("direct task cannot reference action item %s", in.ActionItemID)
	}
	if in.Type == "" {
		in.Type = TaskTypeDocument
	}
	now := nowUTC()
	t := &Task{
		ID:           uuid.NewString(),
		ProjectID:    in.ProjectID,
		AgentRole:    in.AgentRole,
		Title:        in.Title,
		Description:  in.Description,
		Type:         in.Type,
		Status:       TaskStatusPending,
		Source:       in.Source,
		ActionItemID: in.ActionItemID,
		WorkspaceDir: in.WorkspaceDir,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tasks (
				id, project_id, agent_role, title, description, type, status, source,
				action_item_id, workspace_dir, created_at, updated_at
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
		`, t.ID, t.ProjectID, t.AgentRole, t.Title, t.Description, t.Type, t.Status, t.Source,
			nullString(t.ActionItemID), t.WorkspaceDir, t.CreatedAt, t.UpdatedAt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	var t Task
	err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?;`, id).Scan, &t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &t, nil
}

// ListTasks returns a project's tasks in creation order, optionally filtered
// by status.
func (s *Store) ListTasks(ctx context.Context, projectID string, status TaskStatus) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE project_id = ? AND (? = '' OR status = ?)
		ORDER BY rowid ASC;
	`, projectID, status, status)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		var t Task
		if err := scanTask(rows.Scan, &t); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// transitionTaskTx moves a task forward inside tx. It returns ErrNotFound for
// a missing task and ErrTaskTerminal when the task can no longer move.
func (s *Store) transitionTaskTx(ctx context.Context, tx *sql.Tx, id string, to TaskStatus, summary *string) (TaskStatus, error) {
	var current TaskStatus
	if err := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?;`, id).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("select task for transition: %w", err)
	}
	if current.Terminal() {
		return current, ErrTaskTerminal
	}
	if !canTransitionTask(current, to) {
		return current, fmt.Errorf("illegal task transition %s -> %s", current, to)
	}
	now := nowUTC()
	var completedAt sql.NullTime
	if to.Terminal() {
		completedAt = sql.NullTime{Time: now, Valid: true}
	}
	summaryValue := sql.NullString{}
	if summary != nil {
		summaryValue = sql.NullString{String: *summary, Valid: true}
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?,
			result_summary = CASE WHEN ? THEN ? ELSE result_summary END,
			started_at = CASE WHEN ? = 'running' AND started_at IS NULL THEN ? ELSE started_at END,
			completed_at = ?,
			updated_at = ?
		WHERE id = ? AND status = ?;
	`, to, summaryValue.Valid, summaryValue.String, to, now, completedAt, now, id, current)
	if err != nil {
		return current, fmt.Errorf("update task transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return current, fmt.Errorf("transition rows affected: %w", err)
	}
	if n != 1 {
		return current, fmt.Errorf("task %s changed concurrently", id)
	}
	return current, nil
}

func (s *Store) transitionTask(ctx context.Context, id string, to TaskStatus, summary *string) (*Task, error) {
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin task transition tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := s.transitionTaskTx(ctx, tx, id, to, summary); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return s.GetTask(ctx, id)
}

// StartTask moves a pending task to running. A running task (a retry
// attempt) is accepted unchanged.
func (s *Store) StartTask(ctx context.Context, id string) (*Task, error) {
	return s.transitionTask(ctx, id, TaskStatusRunning, nil)
}

// RecordTaskAttempt stores the summary of a non-final attempt. The task stays
// running and completed_at stays unset.
func (s *Store) RecordTaskAttempt(ctx context.Context, id, summary string) (*Task, error) {
	return s.transitionTask(ctx, id, TaskStatusRunning, &summary)
}

// FinishTask writes the terminal status and summary and stamps completed_at.
func (s *Store) FinishTask(ctx context.Context, id string, status TaskStatus, summary string) (*Task, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("finish task with non-terminal status %q", status)
	}
	return s.transitionTask(ctx, id, status, &summary)
}

func (s *Store) AddArtifact(ctx context.Context, a Artifact) (*Artifact, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.MetadataJSON == "" {
		a.MetadataJSON = "{}"
	}
	a.CreatedAt = nowUTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, project_id, task_id, kind, location, description, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?);
	`, a.ID, a.ProjectID, nullString(a.TaskID), a.Kind, a.Location, a.Description, a.MetadataJSON, a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert artifact: %w", err)
	}
	return &a, nil
}

// ListArtifacts returns artifacts for a task, or for the whole project when
// taskID is empty.
func (s *Store) ListArtifacts(ctx context.Context, projectID, taskID string) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, COALESCE(task_id, ''), kind, location, description, metadata_json, created_at
		FROM artifacts
		WHERE project_id = ? AND (? = '' OR task_id = ?)
		ORDER BY rowid ASC;
	`, projectID, taskID, taskID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()
	var out []Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.TaskID, &a.Kind, &a.Location, &a.Description, &a.MetadataJSON, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
