package parse

import "strings"

type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictRejected Verdict = "rejected"
)

// Approval is one CEO verdict on a decision title.
type Approval struct {
	Title   string
	Verdict Verdict
}

// Approvals is an insertion-ordered title -> verdict map.
type Approvals []Approval

func (a Approvals) set(title string, v Verdict) Approvals {
	for i := range a {
		if a[i].Title == title {
			a[i].Verdict = v
			return a
		}
	}
	return append(a, Approval{Title: title, Verdict: v})
}

// Map returns the verdicts keyed by title, for event payloads.
func (a Approvals) Map() map[string]string {
	out := make(map[string]string, len(a))
	for _, ap := range a {
		out[ap.Title] = string(ap.Verdict)
	}
	return out
}

// CEOApprovals collects APPROVED lines first and REJECTED lines second. A
// title seen twice keeps its first position and takes the later verdict.
// Blank titles are dropped because they would match every decision.
func CEOApprovals(text string) Approvals {
	var out Approvals
	for _, m := range approvedRe.FindAllStringSubmatch(text, -1) {
		if title := strings.TrimSpace(m[1]); title != "" {
			out = out.set(title, VerdictApproved)
		}
	}
	for _, m := range rejectedRe.FindAllStringSubmatch(text, -1) {
		if title := strings.TrimSpace(m[1]); title != "" {
			out = out.set(title, VerdictRejected)
		}
	}
	return out
}

// Match returns the verdict of the first approval whose lowercased title
// contains, or is contained in, the lowercased decision title. A short
// approval such as "API" can therefore claim an unrelated decision.
func (a Approvals) Match(decisionTitle string) (Verdict, bool) {
	dt := strings.ToLower(decisionTitle)
	for _, ap := range a {
		key := strings.ToLower(ap.Title)
		if strings.Contains(dt, key) || strings.Contains(key, dt) {
			return ap.Verdict, true
		}
	}
	return "", false
}
