// Package parse extracts structured signals from free-text agent output.
// Every function here is pure and never fails: text that does not match a
// grammar simply yields nothing. Results are not deduplicated.
package parse

import (
	"regexp"
	"strings"

	"github.com/basket/clawboard/internal/roles"
)

var (
	decisionRe = regexp.MustCompile(`DECISION:\s*(.+?)\s*\|\s*(.+)`)
	actionRe   = regexp.MustCompile(`ACTION:\s*(\w+)\s*\|\s*(.+)`)
	approvedRe = regexp.MustCompile(`APPROVED:\s*(.+)`)
	rejectedRe = regexp.MustCompile(`(?m)REJECTED:\s*(.+?)(?:\s*\|\s*(.+))?$`)
)

// Decision is a proposed decision found in reconciliation output.
type Decision struct {
	Title     string
	Rationale string
}

// ActionItem is an action line with its owner already mapped onto a panel
// role.
type ActionItem struct {
	OwnerRole   string
	Description string
}

// Decisions returns every `DECISION: <title> | <rationale>` match in order.
func Decisions(text string) []Decision {
	var out []Decision
	for _, m := range decisionRe.FindAllStringSubmatch(text, -1) {
		out = append(out, Decision{
			Title:     strings.TrimSpace(m[1]),
			Rationale: strings.TrimSpace(m[2]),
		})
	}
	return out
}

// ActionItems returns every `ACTION: <role> | <description>` match in order.
// Unknown owner tokens are assigned to the PM.
func ActionItems(text string) []ActionItem {
	var out []ActionItem
	for _, m := range actionRe.FindAllStringSubmatch(text, -1) {
		out = append(out, ActionItem{
			OwnerRole:   roles.NormalizeOwner(strings.ToLower(strings.TrimSpace(m[1]))),
			Description: strings.TrimSpace(m[2]),
		})
	}
	return out
}
