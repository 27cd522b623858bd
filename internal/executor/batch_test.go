package executor_test

import (
	"context"
	"strings"
	"testing"

	"github.com/basket/clawboard/internal/executor"
	"github.com/basket/clawboard/internal/invoke"
	"github.com/basket/clawboard/internal/persistence"
)

func TestExecuteActionItems_RunsItemsInOrder(t *testing.T) {
	h := newHarness(t, nil,
		invoke.Result{Success: true, Output: "shipped"},
		invoke.Result{ExitCode: 2, Error: "lint failed", Failure: invoke.FailureExit},
	)
	ctx := context.Background()
	thread, err := h.store.CreateThread(ctx, h.project.ID, "Kickoff")
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	if _, err := h.store.CreateActionItem(ctx, h.project.ID, thread.ID, "engineer", "Build the API"); err != nil {
		t.Fatalf("action item: %v", err)
	}
	if _, err := h.store.CreateActionItem(ctx, h.project.ID, thread.ID, "designer", "Sketch onboarding"); err != nil {
		t.Fatalf("action item: %v", err)
	}

	res, err := h.exec.ExecuteActionItems(ctx, h.project.ID, thread.ID)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if res.Status != executor.BatchCompleted || res.TasksExecuted != 2 || len(res.TaskIDs) != 2 {
		t.Fatalf("result = %+v", res)
	}

	// engineer succeeds once; designer fails twice (one retry).
	reqs := h.client.requests()
	var gotRoles []string
	for _, r := range reqs {
		gotRoles = append(gotRoles, r.Role)
	}
	if strings.Join(gotRoles, ",") != "engineer,designer,designer" {
		t.Fatalf("invocation order = %v", gotRoles)
	}

	first := h.reload(t, res.TaskIDs[0])
	if first.Title != "Execute: Build the API" || first.Type != persistence.TaskTypeCode || first.Source != persistence.TaskSourceMeeting || first.Status != persistence.TaskStatusCompleted {
		t.Fatalf("first task = %+v", first)
	}
	if second := h.reload(t, res.TaskIDs[1]); second.Status != persistence.TaskStatusFailed || second.Type != persistence.TaskTypeDesign {
		t.Fatalf("second task = %+v", second)
	}

	open, err := h.store.ListActionItems(ctx, h.project.ID, persistence.ActionItemOpen)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("open items left: %+v", open)
	}
	done, err := h.store.ListActionItems(ctx, h.project.ID, persistence.ActionItemDone)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(done) != 2 {
		t.Fatalf("done items = %d, want 2", len(done))
	}

	msgs, err := h.store.ListMessages(ctx, thread.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	want := "**Execution complete.** 2 tasks executed:\n- [done] Execute: Build the API\n- [failed] Execute: Sketch onboarding"
	if len(msgs) != 1 || msgs[0].Content != want || msgs[0].AuthorKind != persistence.AuthorSystem {
		t.Fatalf("messages = %+v", msgs)
	}

	types := h.eventTypes(t)
	if types[0] != "EXECUTION_BATCH_STARTED" || types[len(types)-1] != "EXECUTION_BATCH_COMPLETED" {
		t.Fatalf("events = %v", types)
	}
}

func TestExecuteActionItems_NoItems(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.exec.ExecuteActionItems(context.Background(), h.project.ID, "")
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if res.Status != executor.BatchNoItems || res.TasksExecuted != 0 {
		t.Fatalf("result = %+v", res)
	}
	if types := h.eventTypes(t); len(types) != 0 {
		t.Fatalf("unexpected events: %v", types)
	}
}

func TestTaskTypeForRole(t *testing.T) {
	cases := map[string]persistence.TaskType{
		"engineer": persistence.TaskTypeCode,
		"designer": persistence.TaskTypeDesign,
		"analyst":  persistence.TaskTypeAnalysis,
		"pm":       persistence.TaskTypeDocument,
		"ceo":      persistence.TaskTypeReview,
		"intern":   persistence.TaskTypeDocument,
	}
	for role, want := range cases {
		if got := executor.TaskTypeForRole(role); got != want {
			t.Errorf("TaskTypeForRole(%q) = %s, want %s", role, got, want)
		}
	}
}
