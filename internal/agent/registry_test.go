package agent_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/clawboard/internal/agent"
	"github.com/basket/clawboard/internal/persistence"
)

func setup(t *testing.T) (*persistence.Store, *persistence.Project) {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "agents.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()
	p, err := store.CreateProject(ctx, "Acme", "", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if _, err := store.ProvisionAgents(ctx, p.ID, []persistence.AgentSeed{{Role: "pm", Name: "Alice (PM)"}}); err != nil {
		t.Fatalf("provision: %v", err)
	}
	return store, p
}

func agentStatus(t *testing.T, store *persistence.Store, projectID, role string) persistence.AgentStatus {
	t.Helper()
	a, err := store.AgentByRole(context.Background(), projectID, role)
	if err != nil {
		t.Fatalf("agent by role: %v", err)
	}
	return a.Status
}

func TestRegistry_AcquireMarksRunningAndReleaseRecordsOutcome(t *testing.T) {
	store, p := setup(t)
	reg := agent.NewRegistry(store, nil)
	ctx := context.Background()

	lease, err := reg.Acquire(ctx, p.ID, "pm")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if lease.AgentID() == "" {
		t.Fatal("expected a resolved agent")
	}
	if got := agentStatus(t, store, p.ID, "pm"); got != persistence.AgentStatusRunning {
		t.Fatalf("status = %s, want running", got)
	}
	if !reg.Busy(lease.AgentID()) {
		t.Fatal("expected agent to be busy while leased")
	}

	lease.Release(ctx, false)
	lease.Release(ctx, true) // second call is ignored
	if got := agentStatus(t, store, p.ID, "pm"); got != persistence.AgentStatusError {
		t.Fatalf("status = %s, want error", got)
	}
	if reg.Busy(lease.AgentID()) {
		t.Fatal("agent still busy after release")
	}
}

func TestRegistry_MissingRoleYieldsEmptyLease(t *testing.T) {
	store, p := setup(t)
	reg := agent.NewRegistry(store, nil)
	lease, err := reg.Acquire(context.Background(), p.ID, "memo_writer")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if lease.Agent != nil || lease.AgentID() != "" {
		t.Fatalf("expected empty lease, got %+v", lease.Agent)
	}
	lease.Release(context.Background(), true)
}

func TestRegistry_SerializesHolders(t *testing.T) {
	store, p := setup(t)
	reg := agent.NewRegistry(store, nil)
	ctx := context.Background()

	first, err := reg.Acquire(ctx, p.ID, "pm")
	if err != nil {
		t.Fatalf("acquire first: %v", err)
	}

	acquired := make(chan *agent.Lease, 1)
	go func() {
		l, err := reg.Acquire(ctx, p.ID, "pm")
		if err != nil {
			t.Errorf("acquire second: %v", err)
			close(acquired)
			return
		}
		acquired <- l
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired while first still held the agent")
	case <-time.After(100 * time.Millisecond):
	}

	first.Release(ctx, true)
	select {
	case second := <-acquired:
		if second == nil {
			t.Fatal("second acquire failed")
		}
		if got := agentStatus(t, store, p.ID, "pm"); got != persistence.AgentStatusRunning {
			t.Fatalf("status = %s, want running for the second holder", got)
		}
		second.Release(ctx, true)
	case <-time.After(2 * time.Second):
		t.Fatal("second holder never acquired the agent")
	}
}

func TestRegistry_AcquireHonorsContext(t *testing.T) {
	store, p := setup(t)
	reg := agent.NewRegistry(store, nil)
	held, err := reg.Acquire(context.Background(), p.ID, "pm")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.Release(context.Background(), true)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := reg.Acquire(ctx, p.ID, "pm"); err == nil {
		t.Fatal("expected acquire to fail once the context expired")
	}
}
