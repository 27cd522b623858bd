package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AuthorKind string

const (
	AuthorUser   AuthorKind = "user"
	AuthorAgent  AuthorKind = "agent"
	AuthorSystem AuthorKind = "system"
)

type Thread struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is an append-only thread entry.
type Message struct {
	ID            string     `json:"id"`
	ThreadID      string     `json:"thread_id"`
	AuthorKind    AuthorKind `json:"author_kind"`
	AuthorAgentID string     `json:"author_agent_id,omitempty"`
	Content       string     `json:"content"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (s *Store) CreateThread(ctx context.Context, projectID, title string) (*Thread, error) {
	th := &Thread{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Title:     title,
		CreatedAt: nowUTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threads (id, project_id, title, created_at) VALUES (?, ?, ?, ?);
	`, th.ID, th.ProjectID, th.Title, th.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert thread: %w", err)
	}
	return th, nil
}

func (s *Store) GetThread(ctx context.Context, id string) (*Thread, error) {
	var th Thread
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, created_at FROM threads WHERE id = ?;
	`, id).Scan(&th.ID, &th.ProjectID, &th.Title, &th.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return &th, nil
}

func (s *Store) ListThreads(ctx context.Context, projectID string) ([]Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, title, created_at FROM threads
		WHERE project_id = ? ORDER BY rowid ASC;
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()
	var out []Thread
	for rows.Next() {
		var th Thread
		if err := rows.Scan(&th.ID, &th.ProjectID, &th.Title, &th.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		out = append(out, th)
	}
	return out, rows.Err()
}

// AppendMessage adds one message to the end of a thread.
func (s *Store) AppendMessage(ctx context.Context, threadID string, kind AuthorKind, agentID, content string) (*Message, error) {
	m := &Message{
		ID:            uuid.NewString(),
		ThreadID:      threadID,
		AuthorKind:    kind,
		AuthorAgentID: agentID,
		Content:       content,
		CreatedAt:     nowUTC(),
	}
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO messages (id, thread_id, author_kind, author_agent_id, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?);
		`, m.ID, m.ThreadID, m.AuthorKind, nullString(m.AuthorAgentID), m.Content, m.CreatedAt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return m, nil
}

// ListMessages returns a thread's messages in append order.
func (s *Store) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, author_kind, COALESCE(author_agent_id, ''), content, created_at
		FROM messages WHERE thread_id = ? ORDER BY rowid ASC;
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.AuthorKind, &m.AuthorAgentID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
