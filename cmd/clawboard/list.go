package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"

	"github.com/basket/clawboard/internal/persistence"
)

// wantJSON reports whether output should be JSON: either requested, or stdout
// is a file or pipe rather than a terminal.
func wantJSON(w io.Writer, flagged bool) bool {
	if flagged {
		return true
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
}

// render writes v as indented JSON or as a table whose rows come from fill.
func render(stdout, stderr io.Writer, asJSON bool, v any, header []string, fill func(add func(...any))) int {
	if wantJSON(stdout, asJSON) {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			fmt.Fprintf(stderr, "encode: %v\n", err)
			return 1
		}
		return 0
	}
	t := table.NewWriter()
	t.SetOutputMirror(stdout)
	hdr := make(table.Row, len(header))
	for i, h := range header {
		hdr[i] = h
	}
	t.AppendHeader(hdr)
	fill(func(cols ...any) { t.AppendRow(table.Row(cols)) })
	t.Render()
	return 0
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}

func runListCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: clawboard list tasks|decisions|actions|memos|threads|agents|artifacts|messages|jobs [-project P] [-status S] [-json]")
		return 2
	}
	kind := args[0]
	fs := newFlagSet("list "+kind, stderr)
	projectID := fs.String("project", "", "project id")
	status := fs.String("status", "", "filter by status")
	taskID := fs.String("task", "", "task id (artifacts only)")
	threadID := fs.String("thread", "", "thread id (messages only)")
	limit := fs.Int("limit", 50, "maximum rows (jobs only)")
	asJSON := fs.Bool("json", false, "JSON output")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	switch kind {
	case "jobs":
	case "messages":
		if !requireFlag(stderr, "thread", *threadID) {
			return 2
		}
	default:
		if !requireFlag(stderr, "project", *projectID) {
			return 2
		}
	}

	store, _, ok := openStore(stderr)
	if !ok {
		return 1
	}
	defer store.Close()

	switch kind {
	case "tasks":
		tasks, err := store.ListTasks(ctx, *projectID, persistence.TaskStatus(*status))
		if err != nil {
			fmt.Fprintf(stderr, "list tasks: %v\n", err)
			return 1
		}
		return render(stdout, stderr, *asJSON, tasks, []string{"ID", "Role", "Type", "Status", "Title", "Updated"}, func(add func(...any)) {
			for _, t := range tasks {
				add(t.ID, t.AgentRole, t.Type, t.Status, shorten(t.Title, 48), stamp(t.UpdatedAt))
			}
		})
	case "decisions":
		decisions, err := store.ListDecisions(ctx, *projectID)
		if err != nil {
			fmt.Fprintf(stderr, "list decisions: %v\n", err)
			return 1
		}
		return render(stdout, stderr, *asJSON, decisions, []string{"ID", "Status", "Title", "Rationale"}, func(add func(...any)) {
			for _, d := range decisions {
				add(d.ID, d.Status, shorten(d.Title, 40), shorten(d.Rationale, 48))
			}
		})
	case "actions":
		items, err := store.ListActionItems(ctx, *projectID, persistence.ActionItemStatus(*status))
		if err != nil {
			fmt.Fprintf(stderr, "list action items: %v\n", err)
			return 1
		}
		return render(stdout, stderr, *asJSON, items, []string{"ID", "Owner", "Status", "Description"}, func(add func(...any)) {
			for _, a := range items {
				add(a.ID, a.OwnerRole, a.Status, shorten(a.Description, 60))
			}
		})
	case "memos":
		memos, err := store.ListMemos(ctx, *projectID)
		if err != nil {
			fmt.Fprintf(stderr, "list memos: %v\n", err)
			return 1
		}
		return render(stdout, stderr, *asJSON, memos, []string{"ID", "Title", "Created"}, func(add func(...any)) {
			for _, m := range memos {
				add(m.ID, shorten(m.Title, 60), stamp(m.CreatedAt))
			}
		})
	case "threads":
		threads, err := store.ListThreads(ctx, *projectID)
		if err != nil {
			fmt.Fprintf(stderr, "list threads: %v\n", err)
			return 1
		}
		return render(stdout, stderr, *asJSON, threads, []string{"ID", "Title", "Created"}, func(add func(...any)) {
			for _, th := range threads {
				add(th.ID, shorten(th.Title, 60), stamp(th.CreatedAt))
			}
		})
	case "agents":
		agents, err := store.ListAgents(ctx, *projectID)
		if err != nil {
			fmt.Fprintf(stderr, "list agents: %v\n", err)
			return 1
		}
		return render(stdout, stderr, *asJSON, agents, []string{"ID", "Role", "Name", "Status", "Config"}, func(add func(...any)) {
			for _, a := range agents {
				add(a.ID, a.Role, a.Name, a.Status, shorten(a.ConfigJSON, 48))
			}
		})
	case "artifacts":
		artifacts, err := store.ListArtifacts(ctx, *projectID, *taskID)
		if err != nil {
			fmt.Fprintf(stderr, "list artifacts: %v\n", err)
			return 1
		}
		return render(stdout, stderr, *asJSON, artifacts, []string{"ID", "Task", "Kind", "Location", "Description"}, func(add func(...any)) {
			for _, a := range artifacts {
				add(a.ID, a.TaskID, a.Kind, shorten(a.Location, 48), shorten(a.Description, 48))
			}
		})
	case "messages":
		messages, err := store.ListMessages(ctx, *threadID)
		if err != nil {
			fmt.Fprintf(stderr, "list messages: %v\n", err)
			return 1
		}
		return render(stdout, stderr, *asJSON, messages, []string{"Author", "Agent", "Content", "At"}, func(add func(...any)) {
			for _, m := range messages {
				add(m.AuthorKind, m.AuthorAgentID, shorten(m.Content, 80), stamp(m.CreatedAt))
			}
		})
	case "jobs":
		jobs, err := store.ListJobs(ctx, persistence.JobStatus(*status), *limit)
		if err != nil {
			fmt.Fprintf(stderr, "list jobs: %v\n", err)
			return 1
		}
		return render(stdout, stderr, *asJSON, jobs, []string{"ID", "Kind", "Project", "Status", "Attempt", "Reason", "Updated"}, func(add func(...any)) {
			for _, j := range jobs {
				if *projectID != "" && j.ProjectID != *projectID {
					continue
				}
				add(j.ID, j.Kind, j.ProjectID, j.Status, fmt.Sprintf("%d/%d", j.Attempt, j.MaxAttempts), j.LastErrorCode, stamp(j.UpdatedAt))
			}
		})
	default:
		fmt.Fprintf(stderr, "unknown list kind %q\n", kind)
		return 2
	}
}

func runEventsCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("events", stderr)
	projectID := fs.String("project", "", "project id")
	after := fs.Int64("after", 0, "only events with a sequence number above this")
	limit := fs.Int("limit", 100, "maximum events")
	asJSON := fs.Bool("json", false, "JSON output")
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

	records, err := store.ListEvents(ctx, *projectID, *after, *limit)
	if err != nil {
		fmt.Fprintf(stderr, "list events: %v\n", err)
		return 1
	}
	return render(stdout, stderr, *asJSON, records, []string{"Seq", "Type", "Payload", "At"}, func(add func(...any)) {
		for _, r := range records {
			add(r.Seq, r.Type, shorten(r.PayloadJSON, 72), stamp(r.CreatedAt))
		}
	})
}
