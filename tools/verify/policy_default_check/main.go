// Command policy_default_check verifies that a missing policy file allows any
// workspace and withholds no tools, and that an invalid reload keeps the
// previous policy in force.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/basket/clawboard/internal/policy"
)

func main() {
	p, err := policy.Load(filepath.Join(os.TempDir(), "clawboard-missing-policy.yaml"))
	if err != nil {
		fmt.Printf("load_error=%v\n", err)
		os.Exit(1)
	}

	ok := true
	assertFalse := func(name string, got bool) {
		fmt.Printf("%s=%v\n", name, got)
		if got {
			ok = false
		}
	}
	assertTrue := func(name string, got bool) {
		fmt.Printf("%s=%v\n", name, got)
		if !got {
			ok = false
		}
	}

	assertTrue("default_allow_any_workspace", p.AllowPath("/srv/anything"))
	_, denied := p.Grant("engineer", []string{"shell", "read"}, nil)
	assertTrue("default_deny_nothing", len(denied) == 0)

	dir, err := os.MkdirTemp("", "clawboard-policy-verify-*")
	if err != nil {
		fmt.Printf("mktemp_error=%v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	workspace := filepath.Join(dir, "work")
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		fmt.Printf("mkdir_error=%v\n", err)
		os.Exit(1)
	}
	policyPath := filepath.Join(dir, "policy.yaml")
	valid := fmt.Sprintf("allow_paths:\n  - %s\ndeny_tools:\n  engineer: [shell]\n", workspace)
	if err := os.WriteFile(policyPath, []byte(valid), 0o644); err != nil {
		fmt.Printf("write_valid_error=%v\n", err)
		os.Exit(1)
	}
	initial, err := policy.Load(policyPath)
	if err != nil {
		fmt.Printf("load_valid_error=%v\n", err)
		os.Exit(1)
	}
	live := policy.NewLivePolicy(initial, policyPath)

	invalid := "deny_tools:\n  janitor: [shell]\n"
	if err := os.WriteFile(policyPath, []byte(invalid), 0o644); err != nil {
		fmt.Printf("write_invalid_error=%v\n", err)
		os.Exit(1)
	}
	reloadErr := policy.ReloadFromFile(live, policyPath)
	fmt.Printf("reload_error_present=%v\n", reloadErr != nil)
	if reloadErr == nil {
		ok = false
	}

	assertTrue("retain_previous_workspace", live.AllowPath(filepath.Join(workspace, "repo")))
	assertFalse("deny_outside_workspace", live.AllowPath(filepath.Join(dir, "elsewhere")))
	_, denied = live.Grant("engineer", []string{"shell", "read"}, nil)
	assertTrue("retain_previous_denial", len(denied) == 1 && denied[0] == "shell")

	if !ok {
		fmt.Println("VERDICT FAIL")
		os.Exit(1)
	}
	fmt.Println("VERDICT PASS")
}
