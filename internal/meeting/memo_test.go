package meeting

import (
	"strings"
	"testing"
	"time"
)

func TestExecutiveSummary(t *testing.T) {
	cases := []struct {
		name, memo, want string
	}{
		{"section", "# T\n\n## Executive Summary\n\n- a\n- b\n\n## What We Decided\nx", "- a\n- b"},
		{"last section", "## Executive Summary\n- only\n", "- only"},
		{"heading needs newline", "## Executive Summary", "## Executive Summary"},
		{"fallback", "  no sections here  ", "no sections here"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExecutiveSummary(tc.memo); got != tc.want {
				t.Fatalf("ExecutiveSummary = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExecutiveSummary_FallbackIsBounded(t *testing.T) {
	memo := strings.Repeat("x", 800)
	if got := ExecutiveSummary(memo); len(got) != 500 {
		t.Fatalf("fallback length = %d, want 500", len(got))
	}
}

func TestMemoTitleUsesUTC(t *testing.T) {
	at := time.Date(2026, 1, 1, 1, 0, 0, 0, time.FixedZone("plus3", 3*3600))
	if got := MemoTitle(at); got != "Product Team Memo - 2025-12-31" {
		t.Fatalf("title = %q", got)
	}
}

func TestBuildContextKeepsNewest(t *testing.T) {
	got := BuildContext([]string{"old", "new"}, 8)
	if got != "---\n\nnew" {
		t.Fatalf("context = %q", got)
	}
	if got := BuildContext([]string{"a", "b"}, 100); got != "a\n\n---\n\nb" {
		t.Fatalf("context = %q", got)
	}
}

func TestRoundsAgenda(t *testing.T) {
	if len(Rounds) != 7 {
		t.Fatalf("rounds = %d", len(Rounds))
	}
	for i, r := range Rounds {
		if r.Number != i {
			t.Fatalf("round %d numbered %d", i, r.Number)
		}
		if !strings.Contains(r.Template, "{context}") {
			t.Fatalf("round %d template lacks context", i)
		}
	}
	if Rounds[0].RoleName() != "system" || Rounds[6].RoleName() != "ceo" {
		t.Fatalf("roles = %s/%s", Rounds[0].RoleName(), Rounds[6].RoleName())
	}
}
