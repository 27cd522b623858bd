package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Project owns every other record; deleting it cascades.
type Project struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	NotifyChatID string    `json:"notify_chat_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type AgentStatus string

const (
	AgentStatusIdle    AgentStatus = "idle"
	AgentStatusRunning AgentStatus = "running"
	AgentStatusError   AgentStatus = "error"
)

// Agent is the single panel member holding a role inside a project.
type Agent struct {
	ID         string      `json:"id"`
	ProjectID  string      `json:"project_id"`
	Role       string      `json:"role"`
	Name       string      `json:"name"`
	Status     AgentStatus `json:"status"`
	ConfigJSON string      `json:"config_json"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// AgentSeed describes one agent to provision for a new project.
type AgentSeed struct {
	Role       string
	Name       string
	ConfigJSON string
}

func (s *Store) CreateProject(ctx context.Context, name, description, notifyChatID string) (*Project, error) {
	now := nowUTC()
	p := &Project{
		ID:           uuid.NewString(),
		Name:         name,
		Description:  description,
		NotifyChatID: notifyChatID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO projects (id, name, description, notify_chat_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?);
		`, p.ID, p.Name, p.Description, p.NotifyChatID, p.CreatedAt, p.UpdatedAt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	return p, nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, notify_chat_id, created_at, updated_at
		FROM projects WHERE id = ?;
	`, id).Scan(&p.ID, &p.Name, &p.Description, &p.NotifyChatID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, notify_chat_id, created_at, updated_at
		FROM projects ORDER BY created_at ASC, rowid ASC;
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	var out []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.NotifyChatID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetProjectNotify updates the address memo notifications are sent to.
// An empty chat id disables notification.
func (s *Store) SetProjectNotify(ctx context.Context, id, chatID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET notify_chat_id = ?, updated_at = ? WHERE id = ?;
	`, chatID, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("set project notify: %w", err)
	}
	return rowsAffectedOrNotFound(res, "set project notify")
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return rowsAffectedOrNotFound(res, "delete project")
}

// ProvisionAgents inserts the seed roster for a project in one transaction.
// Roles that already have an agent are left untouched.
func (s *Store) ProvisionAgents(ctx context.Context, projectID string, seeds []AgentSeed) ([]Agent, error) {
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin provision tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		now := nowUTC()
		for _, seed := range seeds {
			cfg := seed.ConfigJSON
			if cfg == "" {
				cfg = "{}"
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO agents (id, project_id, role, name, status, config_json, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(project_id, role) DO NOTHING;
			`, uuid.NewString(), projectID, seed.Role, seed.Name, AgentStatusIdle, cfg, now, now); err != nil {
				return fmt.Errorf("insert agent %s: %w", seed.Role, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return s.ListAgents(ctx, projectID)
}

const agentColumns = `id, project_id, role, name, status, config_json, created_at, updated_at`

func scanAgent(scanFn func(dest ...any) error, a *Agent) error {
	return scanFn(&a.ID, &a.ProjectID, &a.Role, &a.Name, &a.Status, &a.ConfigJSON, &a.CreatedAt, &a.UpdatedAt)
}

// AgentByRole resolves the project's agent for a role.
func (s *Store) AgentByRole(ctx context.Context, projectID, role string) (*Agent, error) {
	var a Agent
	err := scanAgent(s.db.QueryRowContext(ctx, `
		SELECT `+agentColumns+` FROM agents WHERE project_id = ? AND role = ?;
	`, projectID, role).Scan, &a)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent by role: %w", err)
	}
	return &a, nil
}

func (s *Store) ListAgents(ctx context.Context, projectID string) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+agentColumns+` FROM agents WHERE project_id = ? ORDER BY rowid ASC;
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()
	var out []Agent
	for rows.Next() {
		var a Agent
		if err := scanAgent(rows.Scan, &a); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) UpdateAgentStatus(ctx context.Context, agentID string, status AgentStatus) error {
	return retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE agents SET status = ?, updated_at = ? WHERE id = ?;
		`, status, nowUTC(), agentID)
		if err != nil {
			return fmt.Errorf("update agent status: %w", err)
		}
		return rowsAffectedOrNotFound(res, "update agent status")
	})
}

func (s *Store) UpdateAgentConfig(ctx context.Context, agentID, configJSON string) error {
	if configJSON == "" {
		configJSON = "{}"
	}
	return retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE agents SET config_json = ?, updated_at = ? WHERE id = ?;
		`, configJSON, nowUTC(), agentID)
		if err != nil {
			return fmt.Errorf("update agent config: %w", err)
		}
		return rowsAffectedOrNotFound(res, "update agent config")
	})
}
