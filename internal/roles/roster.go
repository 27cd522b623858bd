package roles

import "encoding/json"

// Seed describes one agent provisioned for a new project.
type Seed struct {
	Role       string
	Name       string
	ConfigJSON string
}

type rosterEntry struct {
	role, name, toolProfile, persona string
}

var defaultRoster = []rosterEntry{
	{CEO, "Eve (CEO)", "full", "Startup CEO focused on strategy, prioritization, and shipping fast."},
	{PM, "Alice (PM)", "full", "Senior Product Manager focused on user outcomes and business impact."},
	{Engineer, "Bob (Engineer)", "coding", "Staff Engineer focused on architecture, scalability, and technical debt."},
	{Designer, "Carol (Designer)", "full", "Lead Designer focused on UX, accessibility, and design systems."},
	{Analyst, "Dave (Analyst)", "full", "Data Analyst focused on metrics, experiments, and data-driven decisions."},
}

// DefaultRoster returns the panel provisioned with every new project.
func DefaultRoster() []Seed {
	out := make([]Seed, 0, len(defaultRoster))
	for _, e := range defaultRoster {
		raw, _ := json.Marshal(AgentConfig{ToolProfile: e.toolProfile, Persona: e.persona})
		out = append(out, Seed{Role: e.role, Name: e.name, ConfigJSON: string(raw)})
	}
	return out
}
