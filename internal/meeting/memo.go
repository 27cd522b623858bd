package meeting

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/basket/clawboard/internal/events"
	"github.com/basket/clawboard/internal/invoke"
	"github.com/basket/clawboard/internal/persistence"
	"github.com/basket/clawboard/internal/roles"
	"github.com/basket/clawboard/internal/shared"
)

const summaryFallbackChars = 500

const memoTemplate = "You are the Memo Writer. Produce an investor-style memo in Markdown " +
	"summarizing what the product team discussed and decided. Use this exact structure:\n\n" +
	"# <Title> - <date>\n\n" +
	"## Executive Summary\n" +
	"- (5 bullet points)\n\n" +
	"## What We Decided\n" +
	"(List each decision with rationale)\n\n" +
	"## What We Considered\n" +
	"(Alternatives and tradeoffs discussed)\n\n" +
	"## Risks & Unknowns\n" +
	"(Key risks identified)\n\n" +
	"## Next Steps\n" +
	"(Action items with owner roles)\n\n" +
	"## Metrics to Watch\n" +
	"(KPIs and success metrics)\n\n" +
	"---\n\n" +
	"Original prompt: %s\n\n" +
	"Discussion transcript:\n%s"

var executiveSummaryRe = regexp.MustCompile(`## Executive Summary\s*\n`)

// memo asks the memo writer for the closing memo. A failed invocation is
// reported as an event and yields a nil memo, not an error.
func (p *Pipeline) memo(ctx context.Context, req MeetingRequest, outputs []string) (*persistence.Memo, error) {
	contextText := BuildContext(outputs, p.cfg.MemoContextMaxChars)
	instruction := fmt.Sprintf(memoTemplate, req.Prompt, contextText)

	if _, err := p.events.Emit(ctx, req.ProjectID, events.MemoGenerationStarted, events.Payload{
		"thread_id": req.ThreadID,
	}); err != nil {
		return nil, err
	}

	out := p.client.Invoke(ctx, invoke.Request{
		Role:        roles.MemoWriter,
		Instruction: instruction,
		Context:     contextText,
	})
	if !out.Success {
		p.logger.Error("memo generation failed", "project_id", req.ProjectID, "thread_id", req.ThreadID, "error", out.Error)
		_, err := p.events.Emit(ctx, req.ProjectID, events.MemoGenerationFailed, events.Payload{
			"error": out.Error,
		})
		return nil, err
	}

	title := MemoTitle(p.now())
	memo, err := p.store.CreateMemo(ctx, req.ProjectID, req.ThreadID, title, out.Output)
	if err != nil {
		return nil, fmt.Errorf("create memo: %w", err)
	}
	if _, err := p.store.AppendMessage(ctx, req.ThreadID, persistence.AuthorSystem, "", "Memo generated: "+title); err != nil {
		return nil, fmt.Errorf("append memo message: %w", err)
	}
	if _, err := p.events.Emit(ctx, req.ProjectID, events.MemoGenerationCompleted, events.Payload{
		"memo_id": memo.ID,
		"title":   title,
	}); err != nil {
		return nil, err
	}

	p.notify(ctx, req.ProjectID, title, out.Output)
	return memo, nil
}

func (p *Pipeline) notify(ctx context.Context, projectID, title, memo string) {
	if p.notifier == nil {
		return
	}
	project, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		p.logger.Warn("memo notification skipped", "project_id", projectID, "error", err)
		return
	}
	if project.NotifyChatID == "" {
		return
	}
	text := title + "\n\n" + ExecutiveSummary(memo)
	if err := p.notifier.Notify(ctx, project.NotifyChatID, text); err != nil {
		p.logger.Warn("memo notification failed", "project_id", projectID, "error", err)
	}
}

// MemoTitle names the memo after the UTC day it was written.
func MemoTitle(t time.Time) string {
	return "Product Team Memo - " + t.UTC().Format("2006-01-02")
}

// ExecutiveSummary returns the body of the memo's "## Executive Summary"
// section, or the start of the memo when the section is missing.
func ExecutiveSummary(memo string) string {
	loc := executiveSummaryRe.FindStringIndex(memo)
	if loc == nil {
		return strings.TrimSpace(shared.Truncate(memo, summaryFallbackChars))
	}
	body := memo[loc[1]:]
	if i := strings.Index(body, "\n## "); i >= 0 {
		body = body[:i]
	}
	return strings.TrimSpace(body)
}
