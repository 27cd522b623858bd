// Package executor runs tasks through the agent runtime and turns meeting
// action items into executed tasks.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/basket/clawboard/internal/agent"
	"github.com/basket/clawboard/internal/audit"
	"github.com/basket/clawboard/internal/events"
	"github.com/basket/clawboard/internal/invoke"
	"github.com/basket/clawboard/internal/otel"
	"github.com/basket/clawboard/internal/parse"
	"github.com/basket/clawboard/internal/persistence"
	"github.com/basket/clawboard/internal/policy"
	"github.com/basket/clawboard/internal/roles"
	"github.com/basket/clawboard/internal/shared"
)

const (
	summaryMaxChars = 4000
	failureMaxChars = 2000
	previewMaxChars = 500

	DefaultMaxAttempts = 2
	DefaultRetryDelay  = 30 * time.Second
)

// Store is the persistence surface the executor needs.
type Store interface {
	GetTask(ctx context.Context, id string) (*persistence.Task, error)
	CreateTask(ctx context.Context, in persistence.NewTask) (*persistence.Task, error)
	StartTask(ctx context.Context, id string) (*persistence.Task, error)
	RecordTaskAttempt(ctx context.Context, id, summary string) (*persistence.Task, error)
	FinishTask(ctx context.Context, id string, status persistence.TaskStatus, summary string) (*persistence.Task, error)
	AddArtifact(ctx context.Context, a persistence.Artifact) (*persistence.Artifact, error)
	ListActionItems(ctx context.Context, projectID string, status persistence.ActionItemStatus) ([]persistence.ActionItem, error)
	AdvanceActionItem(ctx context.Context, id string, to persistence.ActionItemStatus) error
	AppendMessage(ctx context.Context, threadID string, kind persistence.AuthorKind, agentID, content string) (*persistence.Message, error)
}

type Config struct {
	// DefaultWorkspace is used when a task carries no workspace of its own.
	DefaultWorkspace string
	MaxAttempts      int
	RetryDelay       time.Duration
}

type Deps struct {
	Store  Store
	Client invoke.Client
	Agents *agent.Registry
	Events *events.Emitter
	Policy policy.Checker
	Inst   *otel.Instruments
	Logger *slog.Logger
}

type Executor struct {
	cfg    Config
	store  Store
	client invoke.Client
	agents *agent.Registry
	events *events.Emitter
	policy policy.Checker
	inst   *otel.Instruments
	logger *slog.Logger
}

func New(cfg Config, deps Deps) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.DefaultWorkspace == "" {
		cfg.DefaultWorkspace = "."
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Inst == nil {
		deps.Inst = otel.NoopInstruments()
	}
	if deps.Policy == nil {
		deps.Policy = policy.Default()
	}
	return &Executor{
		cfg:    cfg,
		store:  deps.Store,
		client: deps.Client,
		agents: deps.Agents,
		events: deps.Events,
		policy: deps.Policy,
		inst:   deps.Inst,
		logger: deps.Logger,
	}
}

// Attempt identifies one run of a task. Only the final attempt may leave the
// task failed after a retryable outcome.
type Attempt struct {
	Number int
	Final  bool
}

// TaskResult is what one attempt produced.
type TaskResult struct {
	TaskID    string                 `json:"task_id"`
	Status    persistence.TaskStatus `json:"status"`
	Success   bool                   `json:"success"`
	Artifacts int                    `json:"artifact_count"`
	Output    string                 `json:"-"`
	Error     string                 `json:"error,omitempty"`
}

// ExecuteTask runs one attempt of a task.
//
// A completed task returns a nil error. A task that reached failed returns an
// error wrapping ErrTaskFailed (and invoke.ErrRuntimeMissing for configuration
// faults). A non-final attempt that should be retried returns a
// *RetryableError and leaves the task running. An interrupted invocation
// returns an error wrapping invoke.ErrInterrupted and leaves the task running
// without recording an attempt.
func (e *Executor) ExecuteTask(ctx context.Context, taskID string, at Attempt) (res *TaskResult, err error) {
	ctx = shared.WithTaskID(ctx, taskID)
	ctx, span := otel.StartSpan(ctx, e.inst.Tracer, "executor.task", otel.AttrTaskID.String(taskID))
	defer func() { otel.EndSpan(span, err) }()

	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}
	if task.Status.Terminal() {
		return nil, fmt.Errorf("task %s is %s: %w", taskID, task.Status, persistence.ErrTaskTerminal)
	}
	span.SetAttributes(otel.AttrProjectID.String(task.ProjectID), otel.AttrRole.String(task.AgentRole))

	res, err = e.run(ctx, task, at)
	if err == nil || errors.Is(err, ErrTaskFailed) || IsRetryable(err) || errors.Is(err, invoke.ErrInterrupted) {
		return res, err
	}
	return res, e.recordUnexpected(ctx, task, at, err)
}

func (e *Executor) run(ctx context.Context, task *persistence.Task, at Attempt) (*TaskResult, error) {
	logger := e.logger.With("task_id", task.ID, "project_id", task.ProjectID, "role", task.AgentRole, "attempt", at.Number)
	start := time.Now()

	if _, err := e.store.StartTask(ctx, task.ID); err != nil {
		return nil, fmt.Errorf("start task: %w", err)
	}
	ws := ResolveWorkspace(task.WorkspaceDir, e.cfg.DefaultWorkspace)
	if _, err := e.events.Emit(ctx, task.ProjectID, events.TaskStarted, events.Payload{
		"task_id":   task.ID,
		"title":     task.Title,
		"role":      task.AgentRole,
		"workspace": ws,
	}); err != nil {
		return nil, err
	}

	profile := roles.Lookup(task.AgentRole)
	if !e.policy.AllowPath(ws) {
		audit.Record(ctx, audit.Entry{
			Decision:      audit.DecisionDeny,
			Action:        "task.execute",
			Subject:       task.ID,
			Reason:        "workspace outside allow_paths: " + ws,
			PolicyVersion: e.policy.PolicyVersion(),
			ToolProfile:   profile.ToolProfile,
		})
		logger.Warn("task workspace denied by policy", "workspace", ws)
		res, err := e.finish(ctx, task, invoke.Result{Error: "workspace not allowed by policy: " + ws}, false)
		if err != nil {
			return res, err
		}
		return res, fmt.Errorf("%w: %w: %s", ErrTaskFailed, ErrWorkspaceDenied, ws)
	}
	allow, deny := e.policy.Grant(task.AgentRole, profile.ToolsAllowed, profile.ToolsDenied)

	lease, err := e.agents.Acquire(ctx, task.ProjectID, task.AgentRole)
	if err != nil {
		return nil, err
	}
	defer lease.Release(ctx, false)

	var model string
	extra := map[string]any{}
	if lease.Agent != nil {
		var cfgErr error
		_, model, extra, cfgErr = roles.SplitConfig(lease.Agent.ConfigJSON)
		if cfgErr != nil {
			logger.Warn("ignoring invalid agent config", "agent_id", lease.AgentID(), "error", cfgErr)
		}
	}

	audit.Record(ctx, audit.Entry{
		Decision:      audit.DecisionAllow,
		Action:        "task.execute",
		Subject:       task.ID,
		Reason:        "role=" + task.AgentRole,
		PolicyVersion: e.policy.PolicyVersion(),
		ToolProfile:   profile.ToolProfile,
		ToolsAllowed:  allow,
		ToolsDenied:   deny,
	})

	out := e.client.Invoke(ctx, invoke.Request{
		Role:         task.AgentRole,
		Instruction:  BuildExecutionPrompt(profile, task.Title, task.Description, ws, allow, deny),
		Context:      task.Description,
		ToolProfile:  profile.ToolProfile,
		ToolAllow:    allow,
		ToolDeny:     deny,
		Model:        model,
		WorkspaceDir: ws,
		ExtraConfig:  extra,
	})
	lease.Release(ctx, out.Success)
	if out.Failure == invoke.FailureInterrupted {
		// The task stays running; lease recovery requeues its job.
		logger.Warn("task interrupted", "error", out.Error)
		return nil, fmt.Errorf("task %s: %w", task.ID, out.Err())
	}

	outcome := "completed"
	defer func() {
		e.inst.Metrics.TaskDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			otel.AttrRole.String(task.AgentRole),
			otel.AttrOutcome.String(outcome),
		))
	}()

	if !out.Success && !out.ConfigurationFault() && !at.Final {
		outcome = "retry"
		msg := shared.Truncate(failureText(out), failureMaxChars)
		if _, err := e.store.RecordTaskAttempt(ctx, task.ID, msg); err != nil {
			return nil, fmt.Errorf("record attempt: %w", err)
		}
		e.events.EmitBestEffort(ctx, task.ProjectID, events.TaskFailed, events.Payload{
			"task_id":    task.ID,
			"error":      msg,
			"will_retry": true,
		})
		logger.Warn("task attempt failed, will retry", "error", msg)
		return &TaskResult{
			TaskID: task.ID,
			Status: persistence.TaskStatusRunning,
			Output: out.Output,
			Error:  out.Error,
		}, &RetryableError{TaskID: task.ID, Err: out.Err()}
	}

	res, err := e.finish(ctx, task, out, true)
	if err != nil {
		return res, err
	}
	if !out.Success {
		outcome = "failed"
		logger.Warn("task failed", "error", out.Error)
		return res, fmt.Errorf("%w: %w", ErrTaskFailed, out.Err())
	}
	logger.Info("task completed", "artifacts", res.Artifacts)
	return res, nil
}

// finish writes the terminal state. Artifacts are parsed from the output and
// tool logs when withArtifacts is set.
func (e *Executor) finish(ctx context.Context, task *persistence.Task, out invoke.Result, withArtifacts bool) (*TaskResult, error) {
	var found []parse.Artifact
	if withArtifacts {
		found = append(parse.Artifacts(out.Output), parse.Commits(out.ToolLogs)...)
	}
	for _, a := range found {
		if _, err := e.store.AddArtifact(ctx, persistence.Artifact{
			ProjectID:    task.ProjectID,
			TaskID:       task.ID,
			Kind:         persistence.ArtifactKind(a.Kind),
			Location:     a.Location,
			Description:  a.Description,
			MetadataJSON: a.MetadataJSON,
		}); err != nil {
			return nil, fmt.Errorf("add artifact: %w", err)
		}
	}

	status := persistence.TaskStatusFailed
	if out.Success {
		status = persistence.TaskStatusCompleted
	}
	summary := shared.Truncate(out.Output, summaryMaxChars)
	if out.Output == "" {
		summary = out.Error
	}
	if _, err := e.store.FinishTask(ctx, task.ID, status, summary); err != nil {
		return nil, fmt.Errorf("finish task: %w", err)
	}

	var errField any
	if out.Error != "" {
		errField = out.Error
	}
	if _, err := e.events.Emit(ctx, task.ProjectID, events.TaskCompleted, events.Payload{
		"task_id":        task.ID,
		"status":         string(status),
		"success":        out.Success,
		"artifact_count": len(found),
		"output_preview": shared.Truncate(out.Output, previewMaxChars),
		"error":          errField,
	}); err != nil {
		return nil, err
	}
	return &TaskResult{
		TaskID:    task.ID,
		Status:    status,
		Success:   out.Success,
		Artifacts: len(found),
		Output:    out.Output,
		Error:     out.Error,
	}, nil
}

// recordUnexpected handles an error that escaped the normal outcome paths.
// The final attempt forces the task to failed; earlier attempts keep it
// running for the retry.
func (e *Executor) recordUnexpected(ctx context.Context, task *persistence.Task, at Attempt, cause error) error {
	ctx = context.WithoutCancel(ctx)
	msg := shared.Truncate(cause.Error(), failureMaxChars)
	e.logger.Error("task execution error", "task_id", task.ID, "attempt", at.Number, "final", at.Final, "error", cause)

	cur, err := e.store.GetTask(ctx, task.ID)
	if err == nil && !cur.Status.Terminal() {
		if at.Final {
			_, err = e.store.FinishTask(ctx, task.ID, persistence.TaskStatusFailed, msg)
		} else {
			_, err = e.store.RecordTaskAttempt(ctx, task.ID, msg)
		}
	}
	if err != nil {
		e.logger.Error("failed to record task failure", "task_id", task.ID, "error", err)
	}
	e.events.EmitBestEffort(ctx, task.ProjectID, events.TaskFailed, events.Payload{
		"task_id":    task.ID,
		"error":      msg,
		"will_retry": !at.Final,
	})
	return &RetryableError{TaskID: task.ID, Err: cause}
}

func failureText(out invoke.Result) string {
	if out.Error != "" {
		return out.Error
	}
	return out.Output
}
