package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/basket/clawboard/internal/executor"
	"github.com/basket/clawboard/internal/meeting"
	"github.com/basket/clawboard/internal/persistence"
)

// Handler runs one claimed job and returns its JSON result.
type Handler func(ctx context.Context, job persistence.Job) (string, error)

type taskPayload struct {
	TaskID string `json:"task_id"`
}

type actionItemsPayload struct {
	ThreadID string `json:"thread_id,omitempty"`
}

// Handlers wires the meeting pipeline and the executor to their job kinds.
func Handlers(p *meeting.Pipeline, ex *executor.Executor) map[persistence.JobKind]Handler {
	return map[persistence.JobKind]Handler{
		persistence.JobKindMeeting: func(ctx context.Context, job persistence.Job) (string, error) {
			var req meeting.MeetingRequest
			if err := json.Unmarshal([]byte(job.Payload), &req); err != nil {
				return "", Permanent(fmt.Errorf("decode meeting payload: %w", err))
			}
			req.ProjectID = job.ProjectID
			res, err := p.Run(ctx, req)
			if err != nil {
				return "", err
			}
			return encodeResult(res)
		},
		persistence.JobKindTask: func(ctx context.Context, job persistence.Job) (string, error) {
			var pl taskPayload
			if err := json.Unmarshal([]byte(job.Payload), &pl); err != nil || pl.TaskID == "" {
				return "", Permanent(fmt.Errorf("decode task payload: %q", job.Payload))
			}
			n := job.Attempt + 1
			res, err := ex.ExecuteTask(ctx, pl.TaskID, executor.Attempt{Number: n, Final: n >= job.MaxAttempts})
			if err != nil {
				return "", err
			}
			return encodeResult(res)
		},
		persistence.JobKindActionItems: func(ctx context.Context, job persistence.Job) (string, error) {
			var pl actionItemsPayload
			if err := json.Unmarshal([]byte(job.Payload), &pl); err != nil {
				return "", Permanent(fmt.Errorf("decode action items payload: %w", err))
			}
			res, err := ex.ExecuteActionItems(ctx, job.ProjectID, pl.ThreadID)
			if err != nil {
				return "", Permanent(err)
			}
			return encodeResult(res)
		},
	}
}

func encodeResult(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(b), nil
}

// EnqueueMeeting queues a meeting for req's project.
func (s *Scheduler) EnqueueMeeting(ctx context.Context, req meeting.MeetingRequest) (string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode meeting payload: %w", err)
	}
	return s.store.EnqueueJob(ctx, persistence.JobKindMeeting, req.ProjectID, string(b))
}

// EnqueueTask queues one execution of an existing task.
func (s *Scheduler) EnqueueTask(ctx context.Context, projectID, taskID string) (string, error) {
	b, _ := json.Marshal(taskPayload{TaskID: taskID})
	return s.store.EnqueueJob(ctx, persistence.JobKindTask, projectID, string(b))
}

// EnqueueActionItems queues the batch that executes the project's open
// action items.
func (s *Scheduler) EnqueueActionItems(ctx context.Context, projectID, threadID string) (string, error) {
	b, _ := json.Marshal(actionItemsPayload{ThreadID: threadID})
	return s.store.EnqueueJob(ctx, persistence.JobKindActionItems, projectID, string(b))
}
