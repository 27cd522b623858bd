package executor_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/basket/clawboard/internal/agent"
	"github.com/basket/clawboard/internal/events"
	"github.com/basket/clawboard/internal/executor"
	"github.com/basket/clawboard/internal/invoke"
	"github.com/basket/clawboard/internal/persistence"
	"github.com/basket/clawboard/internal/policy"
	"github.com/basket/clawboard/internal/roles"
)

// fakeClient replays scripted results in order; the last one repeats.
type fakeClient struct {
	mu      sync.Mutex
	results []invoke.Result
	reqs    []invoke.Request
}

func (f *fakeClient) Invoke(_ context.Context, req invoke.Request) invoke.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if len(f.results) == 0 {
		return invoke.Result{Success: true, Output: "ok"}
	}
	res := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return res
}

func (f *fakeClient) HealthCheck(context.Context) bool { return true }
func (f *fakeClient) Name() string                     { return "fake" }

func (f *fakeClient) requests() []invoke.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]invoke.Request(nil), f.reqs...)
}

var timedOut = invoke.Result{ExitCode: -1, Error: "OpenClaw CLI timed out", Failure: invoke.FailureTimeout}

type harness struct {
	store     *persistence.Store
	project   *persistence.Project
	client    *fakeClient
	exec      *executor.Executor
	workspace string
}

func newHarness(t *testing.T, checker policy.Checker, results ...invoke.Result) *harness {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "exec.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()
	p, err := store.CreateProject(ctx, "Acme", "", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	var seeds []persistence.AgentSeed
	for _, s := range roles.DefaultRoster() {
		seeds = append(seeds, persistence.AgentSeed{Role: s.Role, Name: s.Name, ConfigJSON: s.ConfigJSON})
	}
	if _, err := store.ProvisionAgents(ctx, p.ID, seeds); err != nil {
		t.Fatalf("provision: %v", err)
	}
	client := &fakeClient{results: results}
	ws := t.TempDir()
	ex := executor.New(executor.Config{DefaultWorkspace: ws, MaxAttempts: 2}, executor.Deps{
		Store:  store,
		Client: client,
		Agents: agent.NewRegistry(store, nil),
		Events: events.NewEmitter(store, nil, nil),
		Policy: checker,
	})
	return &harness{store: store, project: p, client: client, exec: ex, workspace: ws}
}

func (h *harness) task(t *testing.T, role, workspace string) *persistence.Task {
	t.Helper()
	task, err := h.store.CreateTask(context.Background(), persistence.NewTask{
		ProjectID:    h.project.ID,
		AgentRole:    role,
		Title:        "Build the API",
		Description:  "Add a /health endpoint",
		Type:         executor.TaskTypeForRole(role),
		Source:       persistence.TaskSourceDirect,
		WorkspaceDir: workspace,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (h *harness) eventTypes(t *testing.T) []string {
	t.Helper()
	recs, err := h.store.ListEvents(context.Background(), h.project.ID, 0, 1000)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Type)
	}
	return out
}

func (h *harness) reload(t *testing.T, id string) *persistence.Task {
	t.Helper()
	task, err := h.store.GetTask(context.Background(), id)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	return task
}

func TestExecuteTask_CompletesAndRecordsArtifacts(t *testing.T) {
	output := "Done.\n\n## Artifacts\n- src/api.go\n- notes.md"
	h := newHarness(t, nil, invoke.Result{Success: true, Output: output})
	task := h.task(t, "engineer", "")
	ctx := context.Background()

	res, err := h.exec.ExecuteTask(ctx, task.ID, executor.Attempt{Number: 1})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != persistence.TaskStatusCompleted || !res.Success || res.Artifacts != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}

	got := h.reload(t, task.ID)
	if got.Status != persistence.TaskStatusCompleted || got.CompletedAt == nil || got.ResultSummary != output {
		t.Fatalf("task not finished: %+v", got)
	}
	arts, err := h.store.ListArtifacts(ctx, h.project.ID, task.ID)
	if err != nil {
		t.Fatalf("list artifacts: %v", err)
	}
	if len(arts) != 2 {
		t.Fatalf("artifacts = %+v", arts)
	}
	kinds := map[string]persistence.ArtifactKind{}
	for _, a := range arts {
		kinds[a.Location] = a.Kind
	}
	if kinds["src/api.go"] != persistence.ArtifactFile || kinds["notes.md"] != persistence.ArtifactDocument {
		t.Fatalf("artifact kinds = %v", kinds)
	}

	reqs := h.client.requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d", len(reqs))
	}
	req := reqs[0]
	if req.Role != "engineer" || req.ToolProfile != "coding" || req.Context != task.Description || req.WorkspaceDir != h.workspace {
		t.Fatalf("unexpected request: %+v", req)
	}
	if !strings.Contains(req.Instruction, "## Task: Build the API") || !strings.Contains(req.Instruction, "Working directory: "+h.workspace) {
		t.Fatalf("instruction = %q", req.Instruction)
	}

	a, err := h.store.AgentByRole(ctx, h.project.ID, "engineer")
	if err != nil {
		t.Fatalf("agent: %v", err)
	}
	if a.Status != persistence.AgentStatusIdle {
		t.Fatalf("agent status = %s, want idle", a.Status)
	}
	types := h.eventTypes(t)
	if len(types) != 2 || types[0] != string(events.TaskStarted) || types[1] != string(events.TaskCompleted) {
		t.Fatalf("events = %v", types)
	}
}

func TestExecuteTask_TimeoutRetriedOnceThenFails(t *testing.T) {
	h := newHarness(t, nil, timedOut)
	task := h.task(t, "pm", "")
	ctx := context.Background()

	_, err := h.exec.ExecuteTask(ctx, task.ID, executor.Attempt{Number: 1})
	if !executor.IsRetryable(err) || !errors.Is(err, invoke.ErrTimeout) {
		t.Fatalf("first attempt err = %v, want retryable timeout", err)
	}
	got := h.reload(t, task.ID)
	if got.Status != persistence.TaskStatusRunning || got.CompletedAt != nil || got.ResultSummary != timedOut.Error {
		t.Fatalf("after first attempt: %+v", got)
	}

	res, err := h.exec.ExecuteTask(ctx, task.ID, executor.Attempt{Number: 2, Final: true})
	if !errors.Is(err, executor.ErrTaskFailed) || executor.IsRetryable(err) {
		t.Fatalf("final attempt err = %v", err)
	}
	if res.Status != persistence.TaskStatusFailed {
		t.Fatalf("result = %+v", res)
	}
	got = h.reload(t, task.ID)
	if got.Status != persistence.TaskStatusFailed || got.CompletedAt == nil {
		t.Fatalf("after final attempt: %+v", got)
	}
	if n := len(h.client.requests()); n != 2 {
		t.Fatalf("invocations = %d, want 2", n)
	}

	want := []string{"TASK_STARTED", "TASK_FAILED", "TASK_STARTED", "TASK_COMPLETED"}
	types := h.eventTypes(t)
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", types, want)
	}

	if _, err := h.exec.ExecuteTask(ctx, task.ID, executor.Attempt{Number: 3, Final: true}); !errors.Is(err, persistence.ErrTaskTerminal) {
		t.Fatalf("re-running a terminal task: err = %v", err)
	}
}

func TestExecuteTask_InterruptedLeavesTaskRunning(t *testing.T) {
	interrupted := invoke.Result{ExitCode: -1, Error: "invocation interrupted: context canceled", Failure: invoke.FailureInterrupted}
	h := newHarness(t, nil, interrupted)
	task := h.task(t, "engineer", "")

	res, err := h.exec.ExecuteTask(context.Background(), task.ID, executor.Attempt{Number: 2, Final: true})
	if !errors.Is(err, invoke.ErrInterrupted) || errors.Is(err, executor.ErrTaskFailed) || executor.IsRetryable(err) {
		t.Fatalf("err = %v, want an interruption", err)
	}
	if res != nil {
		t.Fatalf("result = %+v, want nil", res)
	}
	got := h.reload(t, task.ID)
	if got.Status != persistence.TaskStatusRunning || got.CompletedAt != nil || got.ResultSummary != "" {
		t.Fatalf("task = %+v, want it left running", got)
	}
	if types := h.eventTypes(t); len(types) != 1 || types[0] != string(events.TaskStarted) {
		t.Fatalf("events = %v", types)
	}
}

func TestExecuteTask_RuntimeMissingFailsWithoutRetry(t *testing.T) {
	h := newHarness(t, nil, invoke.Result{ExitCode: -1, Error: "OpenClaw binary not found at 'openclaw'", Failure: invoke.FailureRuntimeMissing})
	task := h.task(t, "analyst", "")

	_, err := h.exec.ExecuteTask(context.Background(), task.ID, executor.Attempt{Number: 1})
	if !errors.Is(err, invoke.ErrRuntimeMissing) || !errors.Is(err, executor.ErrTaskFailed) || executor.IsRetryable(err) {
		t.Fatalf("err = %v", err)
	}
	if got := h.reload(t, task.ID); got.Status != persistence.TaskStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
}

func TestExecuteTask_UnknownTask(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.exec.ExecuteTask(context.Background(), "missing", executor.Attempt{Number: 1, Final: true})
	if !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestExecuteTask_PolicyDeniesWorkspace(t *testing.T) {
	allowed := t.TempDir()
	h := newHarness(t, policy.Policy{AllowPaths: []string{allowed}})
	task := h.task(t, "engineer", t.TempDir())

	_, err := h.exec.ExecuteTask(context.Background(), task.ID, executor.Attempt{Number: 1})
	if !errors.Is(err, executor.ErrWorkspaceDenied) || !errors.Is(err, executor.ErrTaskFailed) {
		t.Fatalf("err = %v", err)
	}
	if n := len(h.client.requests()); n != 0 {
		t.Fatalf("invocations = %d, want none", n)
	}
	got := h.reload(t, task.ID)
	if got.Status != persistence.TaskStatusFailed || !strings.Contains(got.ResultSummary, "not allowed by policy") {
		t.Fatalf("task = %+v", got)
	}
}

func TestExecuteTask_PolicyDeniedToolsReachPrompt(t *testing.T) {
	h := newHarness(t, policy.Policy{DenyTools: map[string][]string{"engineer": {"Exec"}}})
	task := h.task(t, "engineer", "")

	if _, err := h.exec.ExecuteTask(context.Background(), task.ID, executor.Attempt{Number: 1}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	req := h.client.requests()[0]
	if strings.Join(req.ToolAllow, ",") != "read,edit,write" || strings.Join(req.ToolDeny, ",") != "exec" {
		t.Fatalf("grant allow=%v deny=%v", req.ToolAllow, req.ToolDeny)
	}
	if !strings.Contains(req.Instruction, "Do NOT use these tools: exec") {
		t.Fatalf("instruction = %q", req.Instruction)
	}
}

func TestRunTask_RetriesAfterTimeout(t *testing.T) {
	h := newHarness(t, nil, timedOut, invoke.Result{Success: true, Output: "second time lucky"})
	task := h.task(t, "designer", "")

	res, err := h.exec.RunTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != persistence.TaskStatusCompleted || res.Output != "second time lucky" {
		t.Fatalf("result = %+v", res)
	}
	if n := len(h.client.requests()); n != 2 {
		t.Fatalf("invocations = %d, want 2", n)
	}
}
