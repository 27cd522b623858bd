package policy_test

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/basket/clawboard/internal/policy"
)

func TestLoad_MissingFileIsPermissive(t *testing.T) {
	p, err := policy.Load(filepath.Join(t.TempDir(), "missing-policy.yaml"))
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	if !p.AllowPath("/any/workspace") {
		t.Fatal("default policy must allow every workspace")
	}
	allow, deny := p.Grant("engineer", []string{"read", "exec"}, nil)
	if !slices.Equal(allow, []string{"read", "exec"}) || len(deny) != 0 {
		t.Fatalf("default grant = %v / %v", allow, deny)
	}
}

func TestLoad_DenyToolsOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	body := "deny_tools:\n  \"*\": [browser]\n  engineer: [EXEC, browser]\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	p, err := policy.Load(path)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	allow, deny := p.Grant("engineer", []string{"read", "edit", "exec"}, []string{"canvas"})
	if !slices.Equal(allow, []string{"read", "edit"}) {
		t.Fatalf("allow = %v", allow)
	}
	if !slices.Equal(deny, []string{"canvas", "browser", "exec"}) {
		t.Fatalf("deny = %v", deny)
	}
	if _, deny := p.Grant("pm", nil, nil); !slices.Equal(deny, []string{"browser"}) {
		t.Fatalf("wildcard deny for pm = %v", deny)
	}
}

func TestLoad_UnknownRoleRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("deny_tools:\n  intern: [exec]\n"), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	if _, err := policy.Load(path); err == nil {
		t.Fatal("expected unknown role to be rejected")
	}
}

func TestReloadFromFile_InvalidRetainsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("allow_paths:\n  - "+dir+"\n"), 0o644); err != nil {
		t.Fatalf("write initial policy: %v", err)
	}
	initial, err := policy.Load(path)
	if err != nil {
		t.Fatalf("load initial policy: %v", err)
	}
	live := policy.NewLivePolicy(initial, path)
	before := live.PolicyVersion()

	if err := os.WriteFile(path, []byte("deny_tools:\n  intern: [exec]\n"), 0o644); err != nil {
		t.Fatalf("write invalid policy: %v", err)
	}
	if err := policy.ReloadFromFile(live, path); err == nil {
		t.Fatal("expected reload error for unknown role")
	}
	if live.PolicyVersion() != before {
		t.Fatal("invalid reload must keep the previous policy")
	}
	if live.AllowPath(filepath.Join(os.TempDir(), "elsewhere")) {
		t.Fatal("previous allow_paths must stay active")
	}
}

func TestLivePolicy_DenyToolPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	live := policy.NewLivePolicy(policy.Default(), path)
	before := live.PolicyVersion()

	if err := live.DenyTool("designer", "Browser"); err != nil {
		t.Fatalf("deny tool: %v", err)
	}
	if err := live.DenyTool("designer", "browser"); err != nil {
		t.Fatalf("repeat deny tool: %v", err)
	}
	if err := live.DenyTool("intern", "exec"); err == nil {
		t.Fatal("expected unknown role to be rejected")
	}
	if live.PolicyVersion() == before {
		t.Fatal("policy version must change after a mutation")
	}

	reloaded, err := policy.Load(path)
	if err != nil {
		t.Fatalf("reload persisted policy: %v", err)
	}
	if !slices.Equal(reloaded.DenyTools["designer"], []string{"browser"}) {
		t.Fatalf("persisted deny_tools = %v", reloaded.DenyTools)
	}
	snap := live.Snapshot()
	snap.DenyTools["designer"][0] = "mutated"
	if live.Snapshot().DenyTools["designer"][0] != "browser" {
		t.Fatal("Snapshot must return a copy")
	}
}

func TestLivePolicy_AllowWorkspace(t *testing.T) {
	dir := t.TempDir()
	live := policy.NewLivePolicy(policy.Default(), "")
	if err := live.AllowWorkspace(dir); err != nil {
		t.Fatalf("allow workspace: %v", err)
	}
	if !live.AllowPath(filepath.Join(dir, "repo")) {
		t.Fatal("workspace inside the allowed root should pass")
	}
	if live.AllowPath(filepath.Join(os.TempDir(), "not-allowed", "repo")) {
		t.Fatal("workspace outside the allowed root should be denied")
	}
	if err := live.AllowWorkspace("  "); err == nil {
		t.Fatal("expected empty path to be rejected")
	}
}

func TestAllowPath_SpecificPaths(t *testing.T) {
	dir := t.TempDir()
	p := policy.Policy{AllowPaths: []string{dir}}

	allowed := filepath.Join(dir, "sub", "file.txt")
	// Create the parent so EvalSymlinks resolves it.
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if !p.AllowPath(allowed) {
		t.Fatalf("path inside AllowPaths should be allowed: %s", allowed)
	}
	if !p.AllowPath(dir) {
		t.Fatal("exact AllowPaths entry should be allowed")
	}
	outside := filepath.Join(os.TempDir(), "not-allowed", "file.txt")
	if p.AllowPath(outside) {
		t.Fatalf("path outside AllowPaths should be denied: %s", outside)
	}
}

func TestAllowPath_TraversalDenied(t *testing.T) {
	dir := t.TempDir()
	p := policy.Policy{AllowPaths: []string{dir}}
	traversal := filepath.Join(dir, "..", "escape")
	if p.AllowPath(traversal) {
		t.Fatalf("traversal path should be denied: %s", traversal)
	}
}
