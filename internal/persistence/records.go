package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type DecisionStatus string

const (
	DecisionProposed DecisionStatus = "proposed"
	DecisionAccepted DecisionStatus = "accepted"
	DecisionRejected DecisionStatus = "rejected"
)

type Decision struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	ThreadID  string         `json:"thread_id,omitempty"`
	Title     string         `json:"title"`
	Rationale string         `json:"rationale"`
	Status    DecisionStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type ActionItemStatus string

const (
	ActionItemOpen       ActionItemStatus = "open"
	ActionItemInProgress ActionItemStatus = "in_progress"
	ActionItemDone       ActionItemStatus = "done"
)

// actionItemRank orders action item states; status only moves to a higher rank.
var actionItemRank = map[ActionItemStatus]int{
	ActionItemOpen:       0,
	ActionItemInProgress: 1,
	ActionItemDone:       2,
}

// ActionItem is a unit of follow-up work produced by a meeting. Done means
// processed, not succeeded.
type ActionItem struct {
	ID          string           `json:"id"`
	ProjectID   string           `json:"project_id"`
	ThreadID    string           `json:"thread_id,omitempty"`
	OwnerRole   string           `json:"owner_role"`
	Description string           `json:"description"`
	Status      ActionItemStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type Memo struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) CreateDecision(ctx context.Context, projectID, threadID, title, rationale string) (*Decision, error) {
	now := nowUTC()
	d := &Decision{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		ThreadID:  threadID,
		Title:     title,
		Rationale: rationale,
		Status:    DecisionProposed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (id, project_id, thread_id, title, rationale, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?);
	`, d.ID, d.ProjectID, nullString(d.ThreadID), d.Title, d.Rationale, d.Status, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert decision: %w", err)
	}
	return d, nil
}

func (s *Store) ListDecisions(ctx context.Context, projectID string) ([]Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, COALESCE(thread_id, ''), title, rationale, status, created_at, updated_at
		FROM decisions WHERE project_id = ? ORDER BY rowid ASC;
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()
	var out []Decision
	for rows.Next() {
		var d Decision
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.ThreadID, &d.Title, &d.Rationale, &d.Status, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SetDecisionStatus records a review verdict. A reviewed decision never
// returns to proposed; a later review may flip accepted and rejected.
func (s *Store) SetDecisionStatus(ctx context.Context, id string, status DecisionStatus) error {
	if status != DecisionAccepted && status != DecisionRejected {
		return fmt.Errorf("illegal decision status %q", status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE decisions SET status = ?, updated_at = ? WHERE id = ?;
	`, status, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("update decision status: %w", err)
	}
	return rowsAffectedOrNotFound(res, "update decision status")
}

func (s *Store) CreateActionItem(ctx context.Context, projectID, threadID, ownerRole, description string) (*ActionItem, error) {
	now := nowUTC()
	a := &ActionItem{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		ThreadID:    threadID,
		OwnerRole:   ownerRole,
		Description: description,
		Status:      ActionItemOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_items (id, project_id, thread_id, owner_role, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?);
	`, a.ID, a.ProjectID, nullString(a.ThreadID), a.OwnerRole, a.Description, a.Status, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert action item: %w", err)
	}
	return a, nil
}

// ListActionItems returns a project's action items in creation order. An
// empty status matches every status.
func (s *Store) ListActionItems(ctx context.Context, projectID string, status ActionItemStatus) ([]ActionItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, COALESCE(thread_id, ''), owner_role, description, status, created_at, updated_at
		FROM action_items
		WHERE project_id = ? AND (? = '' OR status = ?)
		ORDER BY rowid ASC;
	`, projectID, status, status)
	if err != nil {
		return nil, fmt.Errorf("list action items: %w", err)
	}
	defer rows.Close()
	var out []ActionItem
	for rows.Next() {
		var a ActionItem
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.ThreadID, &a.OwnerRole, &a.Description, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan action item: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AdvanceActionItem moves an item forward. Moving to the current or an
// earlier status is rejected.
func (s *Store) AdvanceActionItem(ctx context.Context, id string, to ActionItemStatus) error {
	toRank, ok := actionItemRank[to]
	if !ok {
		return fmt.Errorf("illegal action item status %q", to)
	}
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin action item tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		var current ActionItemStatus
		if err := tx.QueryRowContext(ctx, `SELECT status FROM action_items WHERE id = ?;`, id).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("select action item: %w", err)
		}
		if actionItemRank[current] >= toRank {
			return fmt.Errorf("illegal action item transition %s -> %s", current, to)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE action_items SET status = ?, updated_at = ? WHERE id = ? AND status = ?;
		`, to, nowUTC(), id, current); err != nil {
			return fmt.Errorf("update action item: %w", err)
		}
		return tx.Commit()
	})
}

func (s *Store) CreateMemo(ctx context.Context, projectID, threadID, title, content string) (*Memo, error) {
	m := &Memo{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		ThreadID:  threadID,
		Title:     title,
		Content:   content,
		CreatedAt: nowUTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memos (id, project_id, thread_id, title, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?);
	`, m.ID, m.ProjectID, nullString(m.ThreadID), m.Title, m.Content, m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert memo: %w", err)
	}
	return m, nil
}

func (s *Store) ListMemos(ctx context.Context, projectID string) ([]Memo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, COALESCE(thread_id, ''), title, content, created_at
		FROM memos WHERE project_id = ? ORDER BY rowid ASC;
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list memos: %w", err)
	}
	defer rows.Close()
	var out []Memo
	for rows.Next() {
		var m Memo
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.ThreadID, &m.Title, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memo: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
