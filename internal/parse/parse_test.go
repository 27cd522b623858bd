package parse

import (
	"strings"
	"testing"
)

func TestDecisionsAndActionItems(t *testing.T) {
	out := "DECISION: Ship v2 | Reduces churn\nACTION: engineer | Build the API"
	decisions := Decisions(out)
	if len(decisions) != 1 || decisions[0].Title != "Ship v2" || decisions[0].Rationale != "Reduces churn" {
		t.Fatalf("decisions = %+v", decisions)
	}
	items := ActionItems(out)
	if len(items) != 1 || items[0].OwnerRole != "engineer" || items[0].Description != "Build the API" {
		t.Fatalf("action items = %+v", items)
	}
}

func TestActionItems_OwnerMapping(t *testing.T) {
	out := `ACTION: Designer | Mock the flow
ACTION: QA | Write test plan
ACTION: analyst| Define KPIs`
	items := ActionItems(out)
	want := []string{"designer", "pm", "analyst"}
	if len(items) != len(want) {
		t.Fatalf("items = %+v", items)
	}
	for i, w := range want {
		if items[i].OwnerRole != w {
			t.Errorf("item %d owner = %q, want %q", i, items[i].OwnerRole, w)
		}
	}
}

func TestDecisions_NotDeduplicated(t *testing.T) {
	out := "DECISION: A | x\nDECISION: A | x\nnoise\nDECISION: no pipe here"
	if got := Decisions(out); len(got) != 2 {
		t.Fatalf("decisions = %+v, want the duplicate kept and the pipeless line ignored", got)
	}
}

func TestCEOApprovals_FuzzyMatch(t *testing.T) {
	approvals := CEOApprovals("APPROVED: Ship v2")
	v, ok := approvals.Match("Ship v2 redesign")
	if !ok || v != VerdictApproved {
		t.Fatalf("Match = %q %v, want approved", v, ok)
	}
	if _, ok := approvals.Match("Hire a designer"); ok {
		t.Fatal("unrelated decision matched")
	}
}

func TestCEOApprovals_OrderAndLatestVerdict(t *testing.T) {
	text := `APPROVED: Pricing page
APPROVED: Onboarding
REJECTED: Pricing page | too early
REJECTED: Dark mode`
	approvals := CEOApprovals(text)
	if len(approvals) != 3 {
		t.Fatalf("approvals = %+v", approvals)
	}
	if approvals[0].Title != "Pricing page" || approvals[0].Verdict != VerdictRejected {
		t.Fatalf("first entry = %+v, want Pricing page keeping its position with the later verdict", approvals[0])
	}
	if approvals[2].Title != "Dark mode" || approvals[2].Verdict != VerdictRejected {
		t.Fatalf("last entry = %+v", approvals[2])
	}
	m := approvals.Map()
	if m["Onboarding"] != "approved" || m["Pricing page"] != "rejected" {
		t.Fatalf("map = %v", m)
	}
}

func TestCEOApprovals_FirstEntryWins(t *testing.T) {
	approvals := CEOApprovals("APPROVED: API\nREJECTED: Public API launch | not yet")
	v, _ := approvals.Match("Public API launch")
	if v != VerdictApproved {
		t.Fatalf("verdict = %q, want the first matching entry (approved)", v)
	}
}

func TestCEOApprovals_BlankTitleIgnored(t *testing.T) {
	if got := CEOApprovals("APPROVED:   "); len(got) != 0 {
		t.Fatalf("approvals = %+v", got)
	}
}

func TestArtifacts_FileAndDocument(t *testing.T) {
	got := Artifacts("## Artifacts\n- src/api.go\n- notes.md")
	if len(got) != 2 {
		t.Fatalf("artifacts = %+v", got)
	}
	if got[0].Kind != KindFile || got[0].Location != "src/api.go" {
		t.Fatalf("first = %+v", got[0])
	}
	if got[1].Kind != KindDocument || got[1].Location != "notes.md" {
		t.Fatalf("second = %+v", got[1])
	}
}

func TestArtifacts_SkipsBlankLinesUntilHeading(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []Artifact
	}{
		{
			name: "blank separated entries",
			in:   "Done.\n\n## Artifacts\n\n- src/api.go\n\n- notes.md\n- docs/diagram.png\n\n## Next\nfoo",
			want: []Artifact{
				{Kind: KindFile, Location: "src/api.go", Description: "src/api.go"},
				{Kind: KindDocument, Location: "notes.md", Description: "notes.md"},
				{Kind: KindImage, Location: "docs/diagram.png", Description: "docs/diagram.png"},
			},
		},
		{
			name: "lowercase heading with descriptions",
			in:   "## artifacts\n\n- https://example.com/pr/1 the pull request\n- mock.PNG homepage mock\n\n- report.pdf\n",
			want: []Artifact{
				{Kind: KindURL, Location: "https://example.com/pr/1", Description: "https://example.com/pr/1 the pull request"},
				{Kind: KindImage, Location: "mock.PNG", Description: "mock.PNG homepage mock"},
				{Kind: KindDocument, Location: "report.pdf", Description: "report.pdf"},
			},
		},
		{
			name: "heading ends the list",
			in:   "## Artifacts\n- a.go\n# Notes\n- b.go",
			want: []Artifact{{Kind: KindFile, Location: "a.go", Description: "a.go"}},
		},
		{
			name: "no section",
			in:   "no section here",
		},
	}
	for _, tc := range cases {
		got := Artifacts(tc.in)
		if len(got) != len(tc.want) {
			t.Fatalf("%s: artifacts = %+v", tc.name, got)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("%s: artifact %d = %+v, want %+v", tc.name, i, got[i], tc.want[i])
			}
		}
	}
}

func TestCommits(t *testing.T) {
	logs := []map[string]any{
		{"role": "tool_result", "output": "[main 3f2a9bc1] git commit done"},
		{"role": "tool_result", "output": "created 3f2a9bc1 files"},
		{"role": "tool_use", "command": "git commit -m fix", "sha": "deadbeefcafe more"},
		{"role": "tool_result", "output": "commit 0a1b2c3d4e\n"},
		{"role": "tool_result", "output": "commit message only"},
		{"role": "tool_result", "output": "git commit id=abcdef1234gh"},
	}
	got := Commits(logs)
	want := []string{"3f2a9bc1", "deadbeefcafe", "0a1b2c3d4e"}
	if len(got) != len(want) {
		t.Fatalf("commits = %+v", got)
	}
	for i, loc := range want {
		if got[i].Location != loc || got[i].Kind != KindCommit {
			t.Fatalf("commit %d = %+v, want %s", i, got[i], loc)
		}
	}
	if got[1].Description != "Git commit detected in tool logs" || !strings.Contains(got[1].MetadataJSON, `"command":"git commit -m fix"`) {
		t.Fatalf("commit metadata = %+v", got[1])
	}
}
