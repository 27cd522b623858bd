package executor

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/basket/clawboard/internal/roles"
)

const artifactsInstruction = "\nWhen you finish, output a section '## Artifacts' listing every " +
	"file you created or modified (one per line, as a file path)."

const gitInstruction = "After making code changes, stage and commit with a clear message. " +
	"Push to the remote only if the task explicitly asks for it."

// BuildExecutionPrompt renders the instruction for one task. allowed and
// denied are the tool lists actually granted, which may be narrower than the
// profile's.
func BuildExecutionPrompt(p roles.Profile, title, description, workspace string, allowed, denied []string) string {
	preamble := p.ExecutionPreamble
	if preamble == "" {
		preamble = "Execute the task described below."
	}
	parts := []string{
		p.Persona,
		"",
		preamble,
		"",
		"## Task: " + title,
		"",
		description,
		"",
		"Working directory: " + workspace,
	}
	if len(allowed) > 0 {
		parts = append(parts, "You have access to these tools: "+strings.Join(allowed, ", "))
	}
	if len(denied) > 0 {
		parts = append(parts, "Do NOT use these tools: "+strings.Join(denied, ", "))
	}
	if p.CanGitPush {
		parts = append(parts, gitInstruction)
	}
	parts = append(parts, artifactsInstruction)
	return strings.Join(parts, "\n")
}

// ResolveWorkspace picks the task's own directory or the configured default
// and expands a leading "~".
func ResolveWorkspace(taskDir, defaultDir string) string {
	dir := taskDir
	if dir == "" {
		dir = defaultDir
	}
	return expandHome(dir)
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	return filepath.Join(home, p[2:])
}
