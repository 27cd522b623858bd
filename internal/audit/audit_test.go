package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/clawboard/internal/persistence"
	"github.com/basket/clawboard/internal/shared"
)

func readLines(t *testing.T, home string) []map[string]any {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(home, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		var e map[string]any
		if err := json.Unmarshal([]byte(l), &e); err != nil {
			t.Fatalf("audit line is not JSON: %v", err)
		}
		out = append(out, e)
	}
	return out
}

func TestRecordWritesGrant(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	ctx := shared.WithTraceID(context.Background(), "trace-1")
	Record(ctx, Entry{
		Decision:      DecisionAllow,
		Action:        "task.execute",
		Subject:       "task:t1 role:engineer",
		Reason:        "tool_profile_granted",
		PolicyVersion: "policy-abc",
		ToolProfile:   "coding",
		ToolsAllowed:  []string{"read", "exec"},
	})
	Record(ctx, Entry{Decision: DecisionDeny, Action: "task.execute", Reason: "workspace_not_allowed", PolicyVersion: "policy-abc"})

	lines := readLines(t, home)
	if len(lines) != 2 {
		t.Fatalf("expected two audit entries, got %d", len(lines))
	}
	first := lines[0]
	if first["decision"] != "allow" || first["tool_profile"] != "coding" || first["trace_id"] != "trace-1" {
		t.Fatalf("first entry = %#v", first)
	}
	if lines[1]["decision"] != "deny" {
		t.Fatalf("second entry = %#v", lines[1])
	}
	if DenyCount() < 1 {
		t.Fatal("deny counter not incremented")
	}
}

func TestRecordRedactsSecrets(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record(context.Background(), Entry{Decision: DecisionAllow, Action: "task.execute", Reason: "api_key=supersecretvalue123"})
	lines := readLines(t, home)
	if strings.Contains(lines[0]["reason"].(string), "supersecretvalue123") {
		t.Fatalf("secret leaked into audit reason: %v", lines[0]["reason"])
	}
}

func TestRecordWritesAuditTable(t *testing.T) {
	store, err := persistence.Open(filepath.Join(t.TempDir(), "audit.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	SetDB(store.DB())
	t.Cleanup(func() { _ = Close() })

	Record(context.Background(), Entry{
		Decision:      DecisionAllow,
		Action:        "task.execute",
		Subject:       "task:t9 role:pm",
		PolicyVersion: "policy-1",
		ToolProfile:   "full",
		ToolsAllowed:  []string{"read", "write"},
		ToolsDenied:   []string{"exec"},
	})

	var action, decision, reason string
	err = store.DB().QueryRow(`SELECT action, decision, reason FROM audit_log ORDER BY audit_id DESC LIMIT 1;`).Scan(&action, &decision, &reason)
	if err != nil {
		t.Fatalf("query audit_log: %v", err)
	}
	if action != "task.execute" || decision != "allow" {
		t.Fatalf("row = %s %s", action, decision)
	}
	if reason != "profile=full allow=read,write deny=exec" {
		t.Fatalf("reason = %q", reason)
	}
}
