// Package agent serializes use of a project's role agents inside the process
// and keeps their persisted status in step with invocations.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/basket/clawboard/internal/persistence"
)

// Store is the slice of persistence the registry needs.
type Store interface {
	AgentByRole(ctx context.Context, projectID, role string) (*persistence.Agent, error)
	UpdateAgentStatus(ctx context.Context, agentID string, status persistence.AgentStatus) error
}

// Registry hands out exclusive leases on agents. Two meetings or tasks that
// need the same project+role agent run their invocations one after another,
// so the stored running/idle/error status always describes the current
// holder.
type Registry struct {
	mu     sync.Mutex
	locks  map[string]chan struct{}
	store  Store
	logger *slog.Logger
}

func NewRegistry(store Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		locks:  make(map[string]chan struct{}),
		store:  store,
		logger: logger,
	}
}

// Lease is a held agent. Agent is nil when the project has no agent for the
// role; such leases hold no lock and Release only returns.
type Lease struct {
	Agent *persistence.Agent

	r    *Registry
	once sync.Once
	slot chan struct{}
}

// AgentID returns the leased agent's id or "".
func (l *Lease) AgentID() string {
	if l == nil || l.Agent == nil {
		return ""
	}
	return l.Agent.ID
}

// Acquire resolves the role's agent, waits for exclusive use of it and marks
// it running. It blocks until the agent is free or ctx is done.
func (r *Registry) Acquire(ctx context.Context, projectID, role string) (*Lease, error) {
	a, err := r.store.AgentByRole(ctx, projectID, role)
	if errors.Is(err, persistence.ErrNotFound) {
		return &Lease{r: r}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve agent for role %s: %w", role, err)
	}

	slot := r.slot(a.ID)
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for agent %s: %w", a.ID, ctx.Err())
	}

	if err := r.store.UpdateAgentStatus(ctx, a.ID, persistence.AgentStatusRunning); err != nil {
		<-slot
		return nil, fmt.Errorf("mark agent running: %w", err)
	}
	a.Status = persistence.AgentStatusRunning
	return &Lease{Agent: a, r: r, slot: slot}, nil
}

func (r *Registry) slot(agentID string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.locks[agentID]
	if !ok {
		ch = make(chan struct{}, 1)
		r.locks[agentID] = ch
	}
	return ch
}

// Busy reports whether the agent is currently leased.
func (r *Registry) Busy(agentID string) bool {
	r.mu.Lock()
	ch, ok := r.locks[agentID]
	r.mu.Unlock()
	return ok && len(ch) > 0
}

// Release records the outcome as idle or error and frees the agent. It is
// safe to call more than once; only the first call has effect. The status
// write survives cancellation of ctx.
func (l *Lease) Release(ctx context.Context, success bool) {
	if l == nil {
		return
	}
	l.once.Do(func() {
		if l.Agent == nil {
			return
		}
		defer func() { <-l.slot }()
		status := persistence.AgentStatusIdle
		if !success {
			status = persistence.AgentStatusError
		}
		if err := l.r.store.UpdateAgentStatus(context.WithoutCancel(ctx), l.Agent.ID, status); err != nil {
			l.r.logger.Warn("failed to update agent status", "agent_id", l.Agent.ID, "status", status, "error", err)
			return
		}
		l.Agent.Status = status
	})
}
