package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/basket/clawboard/internal/events"
	"github.com/basket/clawboard/internal/persistence"
	"github.com/basket/clawboard/internal/shared"
)

const titleMaxChars = 80

var taskTypeByRole = map[string]persistence.TaskType{
	"engineer": persistence.TaskTypeCode,
	"designer": persistence.TaskTypeDesign,
	"analyst":  persistence.TaskTypeAnalysis,
	"pm":       persistence.TaskTypeDocument,
	"ceo":      persistence.TaskTypeReview,
}

// TaskTypeForRole maps an owner role to the kind of task it executes.
func TaskTypeForRole(role string) persistence.TaskType {
	if t, ok := taskTypeByRole[role]; ok {
		return t
	}
	return persistence.TaskTypeDocument
}

const (
	BatchNoItems   = "no_items"
	BatchCompleted = "completed"
)

type BatchResult struct {
	Status        string   `json:"status"`
	TasksExecuted int      `json:"tasks_executed"`
	TaskIDs       []string `json:"task_ids"`
}

// ExecuteActionItems turns every open action item of the project into a task
// and executes them one after another, each to a terminal status. Items are
// marked done whether their task completed or failed.
func (e *Executor) ExecuteActionItems(ctx context.Context, projectID, threadID string) (*BatchResult, error) {
	items, err := e.store.ListActionItems(ctx, projectID, persistence.ActionItemOpen)
	if err != nil {
		return nil, e.batchFailed(ctx, projectID, fmt.Errorf("list action items: %w", err))
	}
	if len(items) == 0 {
		e.logger.Info("no open action items", "project_id", projectID)
		return &BatchResult{Status: BatchNoItems, TaskIDs: []string{}}, nil
	}

	var threadField any
	if threadID != "" {
		threadField = threadID
	}
	if _, err := e.events.Emit(ctx, projectID, events.ExecutionBatchStarted, events.Payload{
		"action_item_count": len(items),
		"thread_id":         threadField,
	}); err != nil {
		return nil, e.batchFailed(ctx, projectID, err)
	}

	res := &BatchResult{Status: BatchCompleted, TaskIDs: make([]string, 0, len(items))}
	lines := make([]string, 0, len(items))
	for _, item := range items {
		task, err := e.store.CreateTask(ctx, persistence.NewTask{
			ProjectID:    projectID,
			AgentRole:    item.OwnerRole,
			Title:        "Execute: " + shared.Truncate(item.Description, titleMaxChars),
			Description:  item.Description,
			Type:         TaskTypeForRole(item.OwnerRole),
			Source:       persistence.TaskSourceMeeting,
			ActionItemID: item.ID,
			WorkspaceDir: e.cfg.DefaultWorkspace,
		})
		if err != nil {
			return nil, e.batchFailed(ctx, projectID, fmt.Errorf("create task for action item %s: %w", item.ID, err))
		}
		if err := e.store.AdvanceActionItem(ctx, item.ID, persistence.ActionItemInProgress); err != nil {
			return nil, e.batchFailed(ctx, projectID, fmt.Errorf("start action item %s: %w", item.ID, err))
		}

		if _, err := e.RunTask(ctx, task.ID); err != nil {
			if ctx.Err() != nil {
				return nil, e.batchFailed(ctx, projectID, err)
			}
			e.logger.Warn("action item task failed", "project_id", projectID, "task_id", task.ID, "action_item_id", item.ID, "error", err)
		}

		if err := e.store.AdvanceActionItem(ctx, item.ID, persistence.ActionItemDone); err != nil {
			return nil, e.batchFailed(ctx, projectID, fmt.Errorf("finish action item %s: %w", item.ID, err))
		}
		res.TaskIDs = append(res.TaskIDs, task.ID)
		lines = append(lines, fmt.Sprintf("- [%s] %s", e.outcomeLabel(ctx, task.ID), task.Title))
	}
	res.TasksExecuted = len(res.TaskIDs)

	if _, err := e.events.Emit(ctx, projectID, events.ExecutionBatchCompleted, events.Payload{
		"tasks_executed": res.TasksExecuted,
		"task_ids":       res.TaskIDs,
	}); err != nil {
		return nil, e.batchFailed(ctx, projectID, err)
	}

	if threadID != "" {
		summary := fmt.Sprintf("**Execution complete.** %d tasks executed:", res.TasksExecuted)
		content := strings.Join(append([]string{summary}, lines...), "\n")
		if _, err := e.store.AppendMessage(ctx, threadID, persistence.AuthorSystem, "", content); err != nil {
			return nil, e.batchFailed(ctx, projectID, fmt.Errorf("append batch summary: %w", err))
		}
	}
	e.logger.Info("action item batch finished", "project_id", projectID, "tasks_executed", res.TasksExecuted)
	return res, nil
}

// RunTask executes a task to a terminal status, retrying retryable attempts
// after the configured delay.
func (e *Executor) RunTask(ctx context.Context, taskID string) (*TaskResult, error) {
	for n := 1; ; n++ {
		at := Attempt{Number: n, Final: n >= e.cfg.MaxAttempts}
		res, err := e.ExecuteTask(ctx, taskID, at)
		if !IsRetryable(err) || at.Final {
			return res, err
		}
		e.logger.Info("retrying task", "task_id", taskID, "attempt", n+1, "delay", e.cfg.RetryDelay)
		if err := sleepCtx(ctx, e.cfg.RetryDelay); err != nil {
			return res, err
		}
	}
}

func (e *Executor) outcomeLabel(ctx context.Context, taskID string) string {
	t, err := e.store.GetTask(ctx, taskID)
	if err == nil && t.Status == persistence.TaskStatusCompleted {
		return "done"
	}
	return "failed"
}

func (e *Executor) batchFailed(ctx context.Context, projectID string, cause error) error {
	e.logger.Error("action item batch failed", "project_id", projectID, "error", cause)
	e.events.EmitBestEffort(context.WithoutCancel(ctx), projectID, events.ExecutionBatchFailed, events.Payload{
		"error": cause.Error(),
	})
	return fmt.Errorf("action item batch: %w", cause)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
