// Package meeting runs the multi-round product meeting: each panel role
// speaks in turn, the PM's reconciliation is parsed into decisions and action
// items, the CEO's review settles the decisions and a memo closes the session.
package meeting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/basket/clawboard/internal/agent"
	"github.com/basket/clawboard/internal/events"
	"github.com/basket/clawboard/internal/invoke"
	"github.com/basket/clawboard/internal/otel"
	"github.com/basket/clawboard/internal/parse"
	"github.com/basket/clawboard/internal/persistence"
	"github.com/basket/clawboard/internal/roles"
	"github.com/basket/clawboard/internal/shared"
)

const (
	DefaultContextMaxChars     = 12000
	DefaultMemoContextMaxChars = 16000

	contextSeparator = "\n\n---\n\n"
	previewMaxChars  = 500
	toolLogsMax      = 20
	threadTitleChars = 80
)

// Store is the persistence surface a meeting needs.
type Store interface {
	GetProject(ctx context.Context, id string) (*persistence.Project, error)
	CreateThread(ctx context.Context, projectID, title string) (*persistence.Thread, error)
	AppendMessage(ctx context.Context, threadID string, kind persistence.AuthorKind, agentID, content string) (*persistence.Message, error)
	CreateDecision(ctx context.Context, projectID, threadID, title, rationale string) (*persistence.Decision, error)
	ListDecisions(ctx context.Context, projectID string) ([]persistence.Decision, error)
	SetDecisionStatus(ctx context.Context, id string, status persistence.DecisionStatus) error
	CreateActionItem(ctx context.Context, projectID, threadID, ownerRole, description string) (*persistence.ActionItem, error)
	CreateMemo(ctx context.Context, projectID, threadID, title, content string) (*persistence.Memo, error)
}

// Notifier delivers the memo headline to a project's notification address.
type Notifier interface {
	Notify(ctx context.Context, chatID, text string) error
}

// Enqueuer schedules the action item batch after a meeting that asked for
// auto-execution.
type Enqueuer interface {
	EnqueueActionItems(ctx context.Context, projectID, threadID string) (string, error)
}

type Config struct {
	ContextMaxChars     int
	MemoContextMaxChars int
}

type Deps struct {
	Store    Store
	Client   invoke.Client
	Agents   *agent.Registry
	Events   *events.Emitter
	Notifier Notifier
	Enqueuer Enqueuer
	Inst     *otel.Instruments
	Logger   *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

type Pipeline struct {
	cfg      Config
	store    Store
	client   invoke.Client
	agents   *agent.Registry
	events   *events.Emitter
	notifier Notifier
	enqueuer Enqueuer
	inst     *otel.Instruments
	logger   *slog.Logger
	now      func() time.Time
}

func New(cfg Config, deps Deps) *Pipeline {
	if cfg.ContextMaxChars <= 0 {
		cfg.ContextMaxChars = DefaultContextMaxChars
	}
	if cfg.MemoContextMaxChars <= 0 {
		cfg.MemoContextMaxChars = DefaultMemoContextMaxChars
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Inst == nil {
		deps.Inst = otel.NoopInstruments()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Pipeline{
		cfg:      cfg,
		store:    deps.Store,
		client:   deps.Client,
		agents:   deps.Agents,
		events:   deps.Events,
		notifier: deps.Notifier,
		enqueuer: deps.Enqueuer,
		inst:     deps.Inst,
		logger:   deps.Logger,
		now:      deps.Now,
	}
}

type MeetingRequest struct {
	ProjectID   string `json:"project_id"`
	ThreadID    string `json:"thread_id"`
	Prompt      string `json:"prompt"`
	AutoExecute bool   `json:"auto_execute"`
}

type MeetingResult struct {
	Status      string `json:"status"`
	ThreadID    string `json:"thread_id"`
	AutoExecute bool   `json:"auto_execute"`
	MemoID      string `json:"memo_id,omitempty"`
}

// Run holds the full meeting for req. A failed agent call inside a round
// does not stop the meeting; a missing runtime does, and the returned error
// then wraps invoke.ErrRuntimeMissing.
func (p *Pipeline) Run(ctx context.Context, req MeetingRequest) (res *MeetingResult, err error) {
	ctx = shared.WithProjectID(ctx, req.ProjectID)
	ctx, span := otel.StartSpan(ctx, p.inst.Tracer, "meeting.run", otel.AttrProjectID.String(req.ProjectID))
	defer func() { otel.EndSpan(span, err) }()

	if req.ThreadID == "" {
		th, err := p.store.CreateThread(ctx, req.ProjectID, shared.Truncate(req.Prompt, threadTitleChars))
		if err != nil {
			return nil, fmt.Errorf("create thread: %w", err)
		}
		req.ThreadID = th.ID
	}
	span.SetAttributes(otel.AttrThreadID.String(req.ThreadID))
	logger := p.logger.With("project_id", req.ProjectID, "thread_id", req.ThreadID)

	res, err = p.run(ctx, logger, req)
	if err != nil {
		logger.Error("meeting failed", "error", err)
		p.events.EmitBestEffort(context.WithoutCancel(ctx), req.ProjectID, events.SessionFailed, events.Payload{
			"thread_id": req.ThreadID,
			"error":     err.Error(),
		})
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, req MeetingRequest) (*MeetingResult, error) {
	if _, err := p.events.Emit(ctx, req.ProjectID, events.SessionStarted, events.Payload{
		"thread_id":    req.ThreadID,
		"prompt":       req.Prompt,
		"auto_execute": req.AutoExecute,
	}); err != nil {
		return nil, err
	}
	if _, err := p.store.AppendMessage(ctx, req.ThreadID, persistence.AuthorUser, "", req.Prompt); err != nil {
		return nil, fmt.Errorf("append prompt: %w", err)
	}
	logger.Info("meeting started", "auto_execute", req.AutoExecute)

	var outputs []string
	for _, rd := range Rounds {
		out, err := p.round(ctx, req, rd, outputs)
		if err != nil {
			return nil, fmt.Errorf("round %d: %w", rd.Number, err)
		}
		outputs = append(outputs, out)
	}

	memo, err := p.memo(ctx, req, outputs)
	if err != nil {
		return nil, fmt.Errorf("memo: %w", err)
	}
	res := &MeetingResult{Status: "completed", ThreadID: req.ThreadID, AutoExecute: req.AutoExecute}
	if memo != nil {
		res.MemoID = memo.ID
	}

	if _, err := p.events.Emit(ctx, req.ProjectID, events.SessionCompleted, events.Payload{
		"thread_id":      req.ThreadID,
		"memo_generated": memo != nil,
		"auto_execute":   req.AutoExecute,
	}); err != nil {
		return nil, err
	}

	if req.AutoExecute {
		if _, err := p.events.Emit(ctx, req.ProjectID, events.AutoExecutionTriggered, events.Payload{
			"thread_id": req.ThreadID,
		}); err != nil {
			return nil, err
		}
		p.triggerExecution(ctx, logger, req)
	}
	logger.Info("meeting completed", "memo_generated", memo != nil)
	return res, nil
}

func (p *Pipeline) triggerExecution(ctx context.Context, logger *slog.Logger, req MeetingRequest) {
	if p.enqueuer == nil {
		logger.Warn("auto-execution requested but no job queue is wired")
		return
	}
	jobID, err := p.enqueuer.EnqueueActionItems(ctx, req.ProjectID, req.ThreadID)
	if err != nil {
		logger.Error("failed to enqueue action item batch", "error", err)
		return
	}
	logger.Info("action item batch enqueued", "job_id", jobID)
}

// round runs one agenda step and returns its labelled output.
func (p *Pipeline) round(ctx context.Context, req MeetingRequest, rd Round, outputs []string) (labelled string, err error) {
	ctx, span := otel.StartSpan(ctx, p.inst.Tracer, "meeting.round",
		otel.AttrRound.Int(rd.Number),
		otel.AttrRole.String(rd.RoleName()),
	)
	defer func() { otel.EndSpan(span, err) }()
	start := time.Now()
	defer func() {
		p.inst.Metrics.RoundDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			otel.AttrRound.Int(rd.Number),
			otel.AttrRole.String(rd.RoleName()),
		))
	}()

	if _, err := p.events.Emit(ctx, req.ProjectID, events.RoundStarted, events.Payload{
		"round": rd.Number,
		"label": rd.Label,
		"role":  rd.RoleName(),
	}); err != nil {
		return "", err
	}

	contextText := BuildContext(append([]string{req.Prompt}, outputs...), p.cfg.ContextMaxChars)
	instruction := strings.NewReplacer("{prompt}", req.Prompt, "{context}", contextText).Replace(rd.Template)

	var lease *agent.Lease
	if rd.Role != "" {
		lease, err = p.agents.Acquire(ctx, req.ProjectID, rd.Role)
		if err != nil {
			return "", err
		}
		defer lease.Release(ctx, false)
	}

	toolProfile, model, extra := invoke.DefaultToolProfile, "", map[string]any{}
	if lease != nil && lease.Agent != nil {
		var cfgErr error
		toolProfile, model, extra, cfgErr = roles.SplitConfig(lease.Agent.ConfigJSON)
		if cfgErr != nil {
			p.logger.Warn("ignoring invalid agent config", "agent_id", lease.AgentID(), "error", cfgErr)
		}
	}

	out := p.client.Invoke(ctx, invoke.Request{
		Role:        rd.RoleName(),
		Instruction: instruction,
		Context:     contextText,
		ToolProfile: toolProfile,
		Model:       model,
		ExtraConfig: extra,
	})
	lease.Release(ctx, out.Success)

	var agentID, errField any
	if id := lease.AgentID(); id != "" {
		agentID = id
	}
	if out.Error != "" {
		errField = out.Error
	}
	toolLogs := out.ToolLogs
	if len(toolLogs) > toolLogsMax {
		toolLogs = toolLogs[:toolLogsMax]
	}
	if toolLogs == nil {
		toolLogs = []map[string]any{}
	}
	if _, err := p.events.Emit(ctx, req.ProjectID, events.AgentResponse, events.Payload{
		"round":          rd.Number,
		"role":           rd.RoleName(),
		"agent_id":       agentID,
		"success":        out.Success,
		"output_preview": shared.Truncate(out.Output, previewMaxChars),
		"tool_logs":      toolLogs,
		"error":          errField,
	}); err != nil {
		return "", err
	}

	if out.ConfigurationFault() {
		return "", out.Err()
	}

	kind := persistence.AuthorSystem
	if rd.Role != "" {
		kind = persistence.AuthorAgent
	}
	if _, err := p.store.AppendMessage(ctx, req.ThreadID, kind, lease.AgentID(), out.Output); err != nil {
		return "", fmt.Errorf("append round output: %w", err)
	}

	if out.Success {
		switch rd.Number {
		case reconciliationRound:
			if err := p.recordReconciliation(ctx, req, out.Output); err != nil {
				return "", err
			}
		case reviewRound:
			if err := p.applyReview(ctx, req, out.Output); err != nil {
				return "", err
			}
		}
	} else {
		p.logger.Warn("agent turn failed", "project_id", req.ProjectID, "round", rd.Number, "role", rd.RoleName(), "error", out.Error)
	}

	if _, err := p.events.Emit(ctx, req.ProjectID, events.RoundEnded, events.Payload{
		"round": rd.Number,
		"label": rd.Label,
	}); err != nil {
		return "", err
	}
	return "[" + rd.Label + "]\n" + out.Output, nil
}

func (p *Pipeline) recordReconciliation(ctx context.Context, req MeetingRequest, output string) error {
	for _, d := range parse.Decisions(output) {
		if _, err := p.store.CreateDecision(ctx, req.ProjectID, req.ThreadID, d.Title, d.Rationale); err != nil {
			return fmt.Errorf("create decision: %w", err)
		}
	}
	for _, a := range parse.ActionItems(output) {
		if _, err := p.store.CreateActionItem(ctx, req.ProjectID, "", a.OwnerRole, a.Description); err != nil {
			return fmt.Errorf("create action item: %w", err)
		}
	}
	return nil
}

// applyReview settles every decision of the project that one of the CEO's
// verdicts matches.
func (p *Pipeline) applyReview(ctx context.Context, req MeetingRequest, output string) error {
	approvals := parse.CEOApprovals(output)
	decisions, err := p.store.ListDecisions(ctx, req.ProjectID)
	if err != nil {
		return fmt.Errorf("list decisions: %w", err)
	}
	for _, d := range decisions {
		verdict, ok := approvals.Match(d.Title)
		if !ok {
			continue
		}
		status := persistence.DecisionAccepted
		if verdict == parse.VerdictRejected {
			status = persistence.DecisionRejected
		}
		if err := p.store.SetDecisionStatus(ctx, d.ID, status); err != nil {
			return fmt.Errorf("set decision status: %w", err)
		}
	}
	_, err = p.events.Emit(ctx, req.ProjectID, events.CEOReviewCompleted, events.Payload{
		"approvals": approvals.Map(),
	})
	return err
}

// BuildContext joins parts with the round separator and keeps the newest
// maxChars characters.
func BuildContext(parts []string, maxChars int) string {
	return shared.Tail(strings.Join(parts, contextSeparator), maxChars)
}

// IsConfigurationFault reports whether err came from a missing runtime.
func IsConfigurationFault(err error) bool {
	return errors.Is(err, invoke.ErrRuntimeMissing)
}
