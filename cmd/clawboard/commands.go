package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/basket/clawboard/internal/config"
	"github.com/basket/clawboard/internal/cron"
	"github.com/basket/clawboard/internal/executor"
	"github.com/basket/clawboard/internal/meeting"
	"github.com/basket/clawboard/internal/persistence"
	"github.com/basket/clawboard/internal/policy"
	"github.com/basket/clawboard/internal/roles"
	"github.com/basket/clawboard/internal/scheduler"
)

// openStore loads the config and opens the shared database. The daemon picks
// up jobs written here from the same queue.
func openStore(stderr io.Writer) (*persistence.Store, config.Config, bool) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config load: %v\n", err)
		return nil, cfg, false
	}
	store, err := persistence.Open(config.DBPath(cfg.HomeDir), nil)
	if err != nil {
		fmt.Fprintf(stderr, "open store: %v\n", err)
		return nil, cfg, false
	}
	store.SetRetryPolicy(cfg.MaxAttempts, cfg.RetryDelay())
	return store, cfg, true
}

func enqueuer(store *persistence.Store) *scheduler.Scheduler {
	return scheduler.New(store, nil, scheduler.Config{}, nil, nil)
}

func requireFlag(stderr io.Writer, name, value string) bool {
	if strings.TrimSpace(value) == "" {
		fmt.Fprintf(stderr, "-%s is required\n", name)
		return false
	}
	return true
}

func runInitCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) != 0 {
		fmt.Fprintln(stderr, "usage: clawboard init")
		return 2
	}
	home := config.HomeDir()
	created, err := config.WriteDefault(home)
	if err != nil {
		fmt.Fprintf(stderr, "write config: %v\n", err)
		return 1
	}
	if created {
		fmt.Fprintf(stdout, "wrote %s\n", config.ConfigPath(home))
	} else {
		fmt.Fprintf(stdout, "%s already exists\n", config.ConfigPath(home))
	}
	policyPath := config.PolicyPath(home)
	if _, err := os.Stat(policyPath); os.IsNotExist(err) {
		if err := os.WriteFile(policyPath, []byte(defaultPolicyYAML), 0o644); err != nil {
			fmt.Fprintf(stderr, "write policy: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "wrote %s\n", policyPath)
	}
	return 0
}

const defaultPolicyYAML = `# Workspace roots tasks may run in. Empty allows any directory.
allow_paths: []
# Tools withheld per role, or from every role with "*".
deny_tools: {}
`

func runProjectCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: clawboard project create|list|notify")
		return 2
	}
	store, _, ok := openStore(stderr)
	if !ok {
		return 1
	}
	defer store.Close()

	switch args[0] {
	case "create":
		fs := newFlagSet("project create", stderr)
		name := fs.String("name", "", "project name")
		desc := fs.String("description", "", "project description")
		notify := fs.String("notify", "", "Telegram chat id for memo notifications")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if !requireFlag(stderr, "name", *name) {
			return 2
		}
		p, err := store.CreateProject(ctx, *name, *desc, *notify)
		if err != nil {
			fmt.Fprintf(stderr, "create project: %v\n", err)
			return 1
		}
		var seeds []persistence.AgentSeed
		for _, s := range roles.DefaultRoster() {
			seeds = append(seeds, persistence.AgentSeed{Role: s.Role, Name: s.Name, ConfigJSON: s.ConfigJSON})
		}
		agents, err := store.ProvisionAgents(ctx, p.ID, seeds)
		if err != nil {
			fmt.Fprintf(stderr, "provision agents: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "project %s created with %d agents\n", p.ID, len(agents))
		return 0
	case "list":
		fs := newFlagSet("project list", stderr)
		asJSON := fs.Bool("json", false, "JSON output")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		projects, err := store.ListProjects(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "list projects: %v\n", err)
			return 1
		}
		return render(stdout, stderr, *asJSON, projects, []string{"ID", "Name", "Notify", "Created"}, func(add func(...any)) {
			for _, p := range projects {
				add(p.ID, p.Name, p.NotifyChatID, p.CreatedAt.Format(time.RFC3339))
			}
		})
	case "notify":
		fs := newFlagSet("project notify", stderr)
		projectID := fs.String("project", "", "project id")
		chat := fs.String("chat", "", "Telegram chat id; empty clears it")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if !requireFlag(stderr, "project", *projectID) {
			return 2
		}
		if err := store.SetProjectNotify(ctx, *projectID, *chat); err != nil {
			fmt.Fprintf(stderr, "set notify: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, "ok")
		return 0
	default:
		fmt.Fprintf(stderr, "unknown project action %q\n", args[0])
		return 2
	}
}

func runMeetingCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("meeting", stderr)
	projectID := fs.String("project", "", "project id")
	prompt := fs.String("prompt", "", "meeting prompt")
	threadID := fs.String("thread", "", "existing thread id (default: new thread)")
	auto := fs.Bool("auto-execute", false, "execute action items after the meeting")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !requireFlag(stderr, "project", *projectID) || !requireFlag(stderr, "prompt", *prompt) {
		return 2
	}
	store, _, ok := openStore(stderr)
	if !ok {
		return 1
	}
	defer store.Close()

	if _, err := store.GetProject(ctx, *projectID); err != nil {
		fmt.Fprintf(stderr, "project %s: %v\n", *projectID, err)
		return 1
	}
	jobID, err := enqueuer(store).EnqueueMeeting(ctx, meeting.MeetingRequest{
		ProjectID:   *projectID,
		ThreadID:    *threadID,
		Prompt:      *prompt,
		AutoExecute: *auto,
	})
	if err != nil {
		fmt.Fprintf(stderr, "enqueue meeting: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "meeting queued as job %s\n", jobID)
	return 0
}

func runExecuteCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("execute", stderr)
	projectID := fs.String("project", "", "project id")
	threadID := fs.String("thread", "", "thread to post the summary to")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !requireFlag(stderr, "project", *projectID) {
		return 2
	}
	store, _, ok := openStore(stderr)
	if !ok {
		return 1
	}
	defer store.Close()

	jobID, err := enqueuer(store).EnqueueActionItems(ctx, *projectID, *threadID)
	if err != nil {
		fmt.Fprintf(stderr, "enqueue action items: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "action item batch queued as job %s\n", jobID)
	return 0
}

func runTaskCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: clawboard task add|run")
		return 2
	}
	store, _, ok := openStore(stderr)
	if !ok {
		return 1
	}
	defer store.Close()

	switch args[0] {
	case "add":
		fs := newFlagSet("task add", stderr)
		projectID := fs.String("project", "", "project id")
		role := fs.String("role", "", "agent role")
		title := fs.String("title", "", "task title")
		desc := fs.String("description", "", "task description")
		taskType := fs.String("type", "", "code|design|research|review|analysis|document (default: by role)")
		workspace := fs.String("workspace", "", "working directory (default: agent_workspace_dir)")
		run := fs.Bool("run", false, "queue the task for execution immediately")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if !requireFlag(stderr, "project", *projectID) || !requireFlag(stderr, "role", *role) || !requireFlag(stderr, "title", *title) {
			return 2
		}
		if !roles.Known(*role) {
			fmt.Fprintf(stderr, "unknown role %q\n", *role)
			return 2
		}
		tt, err := parseTaskType(*taskType, *role)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 2
		}
		task, err := store.CreateTask(ctx, persistence.NewTask{
			ProjectID:    *projectID,
			AgentRole:    *role,
			Title:        *title,
			Description:  *desc,
			Type:         tt,
			Source:       persistence.TaskSourceDirect,
			WorkspaceDir: *workspace,
		})
		if err != nil {
			fmt.Fprintf(stderr, "create task: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "task %s created\n", task.ID)
		if *run {
			return enqueueTask(ctx, store, task, stdout, stderr)
		}
		return 0
	case "run":
		fs := newFlagSet("task run", stderr)
		taskID := fs.String("task", "", "task id")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if !requireFlag(stderr, "task", *taskID) {
			return 2
		}
		task, err := store.GetTask(ctx, *taskID)
		if err != nil {
			fmt.Fprintf(stderr, "task %s: %v\n", *taskID, err)
			return 1
		}
		if task.Status.Terminal() {
			fmt.Fprintf(stderr, "task %s already %s\n", task.ID, task.Status)
			return 1
		}
		return enqueueTask(ctx, store, task, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown task action %q\n", args[0])
		return 2
	}
}

func enqueueTask(ctx context.Context, store *persistence.Store, task *persistence.Task, stdout, stderr io.Writer) int {
	jobID, err := enqueuer(store).EnqueueTask(ctx, task.ProjectID, task.ID)
	if err != nil {
		fmt.Fprintf(stderr, "enqueue task: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "task %s queued as job %s\n", task.ID, jobID)
	return 0
}

func parseTaskType(raw, role string) (persistence.TaskType, error) {
	if raw == "" {
		return executor.TaskTypeForRole(role), nil
	}
	switch tt := persistence.TaskType(strings.ToLower(raw)); tt {
	case persistence.TaskTypeCode, persistence.TaskTypeDesign, persistence.TaskTypeResearch,
		persistence.TaskTypeReview, persistence.TaskTypeAnalysis, persistence.TaskTypeDocument:
		return tt, nil
	default:
		return "", fmt.Errorf("unknown task type %q", raw)
	}
}

func runScheduleCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: clawboard schedule add|list")
		return 2
	}
	store, _, ok := openStore(stderr)
	if !ok {
		return 1
	}
	defer store.Close()

	switch args[0] {
	case "add":
		fs := newFlagSet("schedule add", stderr)
		projectID := fs.String("project", "", "project id")
		name := fs.String("name", "", "schedule name (default: the cron expression)")
		expr := fs.String("cron", "", "5-field cron expression, UTC")
		prompt := fs.String("prompt", "", "meeting prompt")
		auto := fs.Bool("auto-execute", false, "execute action items after each meeting")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if !requireFlag(stderr, "project", *projectID) || !requireFlag(stderr, "cron", *expr) || !requireFlag(stderr, "prompt", *prompt) {
			return 2
		}
		next, err := cron.NextRunTime(*expr, time.Now())
		if err != nil {
			fmt.Fprintf(stderr, "invalid cron expression %q: %v\n", *expr, err)
			return 2
		}
		if *name == "" {
			*name = *expr
		}
		id, err := store.InsertSchedule(ctx, persistence.Schedule{
			ProjectID:   *projectID,
			Name:        *name,
			CronExpr:    *expr,
			Prompt:      *prompt,
			AutoExecute: *auto,
			Enabled:     true,
			NextRunAt:   &next,
		})
		if err != nil {
			fmt.Fprintf(stderr, "add schedule: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "schedule %s added, next run %s\n", id, next.Format(time.RFC3339))
		return 0
	case "list":
		fs := newFlagSet("schedule list", stderr)
		asJSON := fs.Bool("json", false, "JSON output")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		schedules, err := store.ListSchedules(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "list schedules: %v\n", err)
			return 1
		}
		return render(stdout, stderr, *asJSON, schedules, []string{"ID", "Project", "Name", "Cron", "Enabled", "Next run"}, func(add func(...any)) {
			for _, s := range schedules {
				next := ""
				if s.NextRunAt != nil {
					next = s.NextRunAt.Format(time.RFC3339)
				}
				add(s.ID, s.ProjectID, s.Name, s.CronExpr, s.Enabled, next)
			}
		})
	default:
		fmt.Fprintf(stderr, "unknown schedule action %q\n", args[0])
		return 2
	}
}

func runPolicyCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: clawboard policy allow-workspace DIR | deny-tool ROLE TOOL")
		return 2
	}
	path := config.PolicyPath(config.HomeDir())
	current, err := policy.Load(path)
	if err != nil {
		fmt.Fprintf(stderr, "load policy: %v\n", err)
		return 1
	}
	live := policy.NewLivePolicy(current, path)

	switch args[0] {
	case "allow-workspace":
		if len(args) != 2 {
			fmt.Fprintln(stderr, "usage: clawboard policy allow-workspace DIR")
			return 2
		}
		err = live.AllowWorkspace(config.ExpandHome(args[1]))
	case "deny-tool":
		if len(args) != 3 {
			fmt.Fprintln(stderr, "usage: clawboard policy deny-tool ROLE|* TOOL")
			return 2
		}
		err = live.DenyTool(args[1], args[2])
	default:
		fmt.Fprintf(stderr, "unknown policy action %q\n", args[0])
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "update policy: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "policy updated (%s)\n", live.PolicyVersion())
	return 0
}
