// Package roles holds the capability profile of every agent role: persona,
// tool permissions and execution instructions.
package roles

const (
	CEO        = "ceo"
	PM         = "pm"
	Engineer   = "engineer"
	Designer   = "designer"
	Analyst    = "analyst"
	MemoWriter = "memo_writer"
)

// Profile is the capability profile of one role.
type Profile struct {
	Persona           string
	ToolsAllowed      []string
	ToolsDenied       []string
	ToolProfile       string
	ExecutionPreamble string
	CanModifyFiles    bool
	CanRunCommands    bool
	CanGitPush        bool
}

var profiles = map[string]Profile{
	CEO: {
		Persona: "You are the CEO / Chief Product Officer. You make final go/no-go " +
			"decisions, set priorities, and ensure the team ships the right thing. " +
			"You do NOT write code or designs yourself.",
		ToolsAllowed: []string{"read", "web_search"},
		ToolsDenied:  []string{"edit", "write", "exec"},
		ToolProfile:  "full",
		ExecutionPreamble: "Review the decisions and action items below. For each decision, " +
			"output APPROVED or REJECTED with a one-line rationale. " +
			"Re-prioritize action items if needed. Be decisive and concise.",
	},
	PM: {
		Persona: "You are a Senior Product Manager. You write PRDs, research " +
			"competitors, define requirements, and create documentation.",
		ToolsAllowed: []string{"read", "write", "web_search"},
		ToolsDenied:  []string{"exec"},
		ToolProfile:  "full",
		ExecutionPreamble: "Execute the task below by creating or updating documentation, " +
			"specs, or research artifacts. Write files to the workspace.",
		CanModifyFiles: true,
	},
	Engineer: {
		Persona: "You are a Staff Software Engineer. You write production-quality " +
			"code, run tests, and manage git operations.",
		ToolsAllowed: []string{"read", "edit", "write", "exec"},
		ToolProfile:  "coding",
		ExecutionPreamble: "Execute the task below by writing or modifying code. " +
			"After making changes, run any relevant tests. " +
			"Stage and commit your changes with a clear commit message. " +
			"Push to the remote if the task requires it.",
		CanModifyFiles: true,
		CanRunCommands: true,
		CanGitPush:     true,
	},
	Designer: {
		Persona: "You are a Lead Product Designer. You create UI/UX designs, " +
			"HTML/CSS mockups, component specs, and design system documentation.",
		ToolsAllowed: []string{"read", "edit", "write", "canvas", "browser"},
		ToolsDenied:  []string{"exec"},
		ToolProfile:  "full",
		ExecutionPreamble: "Execute the task below by creating design artifacts: " +
			"HTML/CSS mockups, component specifications, wireframe descriptions, " +
			"or design system documentation. Write files to the workspace.",
		CanModifyFiles: true,
	},
	Analyst: {
		Persona: "You are a Senior Data Analyst. You run queries, build analysis " +
			"reports, define metrics, and create data-driven recommendations.",
		ToolsAllowed: []string{"read", "write", "exec", "web_search"},
		ToolProfile:  "full",
		ExecutionPreamble: "Execute the task below by running analysis, writing queries, " +
			"or creating reports. Save outputs as files in the workspace.",
		CanModifyFiles: true,
		CanRunCommands: true,
	},
	MemoWriter: {
		Persona: "You are an executive memo writer. You synthesize discussions " +
			"into clear, investor-grade memos.",
		ToolsAllowed: []string{"read"},
		ToolsDenied:  []string{"edit", "write", "exec"},
		ToolProfile:  "full",
	},
}

// Lookup returns the profile for role. Unknown roles get a minimal profile
// that grants no tools.
func Lookup(role string) Profile {
	if p, ok := profiles[role]; ok {
		p.ToolsAllowed = append([]string(nil), p.ToolsAllowed...)
		p.ToolsDenied = append([]string(nil), p.ToolsDenied...)
		return p
	}
	return Profile{Persona: "You are acting as " + role + ".", ToolProfile: "full"}
}

// Known reports whether role has a dedicated profile.
func Known(role string) bool {
	_, ok := profiles[role]
	return ok
}

// Panel lists the roles that take part in meetings and can own action items.
func Panel() []string {
	return []string{CEO, PM, Engineer, Designer, Analyst}
}

// NormalizeOwner maps a free-text owner token onto a panel role. Anything
// unrecognized is owned by the PM.
func NormalizeOwner(token string) string {
	switch token {
	case CEO, PM, Engineer, Designer, Analyst:
		return token
	default:
		return PM
	}
}
