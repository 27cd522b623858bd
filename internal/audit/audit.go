// Package audit keeps the append-only record of capability grants made to
// agents: every task execution writes which tool profile and tool lists the
// agent received, or why it received none.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/clawboard/internal/shared"
)

const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Entry is one grant decision.
type Entry struct {
	Decision      string
	Action        string
	Subject       string
	Reason        string
	PolicyVersion string
	ToolProfile   string
	ToolsAllowed  []string
	ToolsDenied   []string
}

type line struct {
	Timestamp     string   `json:"timestamp"`
	TraceID       string   `json:"trace_id,omitempty"`
	Decision      string   `json:"decision"`
	Action        string   `json:"action"`
	Reason        string   `json:"reason"`
	PolicyVersion string   `json:"policy_version"`
	Subject       string   `json:"subject,omitempty"`
	ToolProfile   string   `json:"tool_profile,omitempty"`
	ToolsAllowed  []string `json:"tools_allowed,omitempty"`
	ToolsDenied   []string `json:"tools_denied,omitempty"`
}

var (
	mu        sync.Mutex
	file      *os.File
	db        *sql.DB
	denyCount atomic.Int64
)

func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

// SetDB configures the database for audit_log table writes.
func SetDB(d *sql.DB) {
	mu.Lock()
	defer mu.Unlock()
	db = d
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	db = nil
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// DenyCount returns the total number of deny decisions since startup.
func DenyCount() int64 {
	return denyCount.Load()
}

// Record appends e to the JSONL file and the audit_log table, whichever are
// configured. Failures are swallowed; auditing never blocks execution.
func Record(ctx context.Context, e Entry) {
	if e.Decision == DecisionDeny {
		denyCount.Add(1)
	}

	reason := shared.Redact(e.Reason)
	subject := shared.Redact(e.Subject)
	traceID := shared.TraceID(ctx)
	if traceID == "-" {
		traceID = ""
	}

	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		b, err := json.Marshal(line{
			Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
			TraceID:       traceID,
			Decision:      e.Decision,
			Action:        e.Action,
			Reason:        reason,
			PolicyVersion: e.PolicyVersion,
			Subject:       subject,
			ToolProfile:   e.ToolProfile,
			ToolsAllowed:  e.ToolsAllowed,
			ToolsDenied:   e.ToolsDenied,
		})
		if err == nil {
			_, _ = file.Write(append(b, '\n'))
		}
	}

	if db != nil {
		_, _ = db.ExecContext(context.WithoutCancel(ctx), `
			INSERT INTO audit_log (trace_id, subject, action, decision, reason, policy_version)
			VALUES (NULLIF(?, ''), ?, ?, ?, ?, ?);
		`, traceID, subject, e.Action, e.Decision, grantSummary(reason, e), e.PolicyVersion)
	}
}

// grantSummary flattens the grant into the single reason column.
func grantSummary(reason string, e Entry) string {
	parts := []string{}
	if reason != "" {
		parts = append(parts, reason)
	}
	if e.ToolProfile != "" {
		parts = append(parts, "profile="+e.ToolProfile)
	}
	if len(e.ToolsAllowed) > 0 {
		parts = append(parts, "allow="+strings.Join(e.ToolsAllowed, ","))
	}
	if len(e.ToolsDenied) > 0 {
		parts = append(parts, "deny="+strings.Join(e.ToolsDenied, ","))
	}
	return strings.Join(parts, " ")
}
