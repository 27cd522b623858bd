package meeting

import "github.com/basket/clawboard/internal/roles"

// Round is one fixed step of a meeting. An empty Role marks a system round
// that runs without a panel agent.
type Round struct {
	Number   int
	Label    string
	Role     string
	Template string
}

// RoleName is the role the round is invoked as.
func (r Round) RoleName() string {
	if r.Role == "" {
		return "system"
	}
	return r.Role
}

const (
	reconciliationRound = 5
	reviewRound         = 6
)

// Rounds is the meeting agenda, run strictly in order. Templates take
// {prompt} and {context}.
var Rounds = []Round{
	{
		Number: 0,
		Label:  "Context Ingestion",
		Template: "Summarise the following user prompt and any existing project " +
			"context into a concise brief that the product team can work from.\n\n" +
			"User prompt: {prompt}\n\n" +
			"Project context: {context}",
	},
	{
		Number: 1,
		Label:  "PM - Feature Proposal & PRD",
		Role:   roles.PM,
		Template: "You are the Product Manager. Based on the brief below, propose " +
			"concrete feature ideas and write a PRD outline covering: problem, " +
			"goals, user stories, scope, and open questions.\n\n" +
			"Brief:\n{context}",
	},
	{
		Number: 2,
		Label:  "Engineer - Feasibility & Risks",
		Role:   roles.Engineer,
		Template: "You are the Staff Engineer. Review the PM's proposal below and " +
			"provide a feasibility analysis: technical risks, architecture " +
			"concerns, effort estimates, dependencies, and trade-offs.\n\n" +
			"PM Proposal:\n{context}",
	},
	{
		Number: 3,
		Label:  "Designer - UX Critique & Flows",
		Role:   roles.Designer,
		Template: "You are the Lead Designer. Review the discussion so far and " +
			"critique the UX: user flows, accessibility, information architecture, " +
			"visual design considerations, and potential usability issues.\n\n" +
			"Discussion:\n{context}",
	},
	{
		Number: 4,
		Label:  "Analyst - Metrics & Experiments",
		Role:   roles.Analyst,
		Template: "You are the Data Analyst. Based on the discussion, define success " +
			"metrics, KPIs, experiment designs (A/B tests), and data requirements.\n\n" +
			"Discussion:\n{context}",
	},
	{
		Number: reconciliationRound,
		Label:  "PM - Reconciliation",
		Role:   roles.PM,
		Template: "You are the Product Manager wrapping up. Synthesize all feedback " +
			"into:\n" +
			"1. DECISIONS (format each as 'DECISION: <title> | <rationale>')\n" +
			"2. ACTION_ITEMS (format each as 'ACTION: <owner_role> | <description>')\n\n" +
			"Discussion:\n{context}",
	},
	{
		Number: reviewRound,
		Label:  "CEO - Review & Approval",
		Role:   roles.CEO,
		Template: "You are the CEO. Review the decisions and action items proposed by " +
			"the team. For each decision, state either:\n" +
			"  APPROVED: <decision title>\n" +
			"  REJECTED: <decision title> | <reason>\n\n" +
			"Then re-prioritize or modify the action items if needed. " +
			"Be decisive and concise. Focus on what ships fastest with the " +
			"highest impact.\n\n" +
			"Discussion and proposals:\n{context}",
	},
}
