package agent

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/openloop-dev/openloop/pkg/llm"
	"github.com/openloop-dev/openloop/pkg/models"
	"github.com/openloop-dev/openloop/pkg/services"
)

const basePrompt = `You are a capable coding agent operating inside a sandboxed workspace.
Use the available tools to inspect and modify files, search, fetch web content, and delegate self-contained tasks to subagents.
Work step by step. When the task is complete, reply with a final answer and stop calling tools.`

const summaryPrompt = "Summarize the following content in a few short paragraphs. Keep identifiers, paths and key facts intact.\n\n"

// buildSystemPrompt renders the base prompt plus the pinned-context section.
func (r *Runner) buildSystemPrompt(ctx context.Context, sessionID, model string) string {
	pinned, err := r.contexts.ListPinned(ctx, sessionID)
	if err != nil {
		r.logger.Warn("Failed to list pinned context", "session_id", sessionID, "error", err)
		return basePrompt
	}
	if len(pinned) == 0 {
		return basePrompt
	}

	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\n## Pinned context\n")
	for _, item := range pinned {
		b.WriteString(fmt.Sprintf("\n### %s (%s)\n", item.Title, item.Kind))
		b.WriteString(r.pinnedContent(ctx, item, model))
		b.WriteString("\n")
	}
	return b.String()
}

// pinnedContent resolves one pinned item's text. Content over the summary
// trigger is replaced by a cached LLM summary keyed by content hash.
func (r *Runner) pinnedContent(ctx context.Context, item *models.ContextItem, model string) string {
	content := r.loadContextContent(item)
	if len(content) <= r.cfg.SummaryTriggerBytes {
		return content
	}

	sha := services.HashContent(content)
	if item.Summary != "" && item.SummarySHA256 == sha {
		return item.Summary
	}

	summary, err := r.summarize(ctx, model, content)
	if err != nil {
		r.logger.Warn("Context summarization failed", "item_id", item.ID, "error", err)
		return content[:r.cfg.SummaryTriggerBytes]
	}
	if err := r.contexts.SetSummary(ctx, item.SessionID, item.ID, summary, sha); err != nil {
		r.logger.Warn("Failed to cache context summary", "item_id", item.ID, "error", err)
	}
	return summary
}

func (r *Runner) loadContextContent(item *models.ContextItem) string {
	switch item.Kind {
	case models.ContextKindFile:
		resolved, errText := r.sandbox.Resolve(item.ContentRef)
		if errText != "" {
			return item.ContentRef
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return item.ContentRef
		}
		return string(data)
	case models.ContextKindWeb:
		if item.Summary != "" {
			return item.Summary
		}
		return item.ContentRef
	default:
		return item.ContentRef
	}
}

func (r *Runner) summarize(ctx context.Context, model, content string) (string, error) {
	result, err := r.llm.Complete(ctx, llm.Request{
		Model: model,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: summaryPrompt + content},
		},
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	if result.Text == "" {
		return "", fmt.Errorf("empty summary")
	}
	return result.Text, nil
}

// buildHistory converts the persisted conversation into provider messages,
// bounded to the most recent window. The current user message is already
// persisted and arrives as the last entry.
func (r *Runner) buildHistory(ctx context.Context, sessionID string) ([]llm.Message, error) {
	history, err := r.sessions.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	msgs := make([]llm.Message, 0, len(history))
	for _, m := range history {
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			continue
		}
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	if max := r.cfg.MaxHistoryMessages; max > 0 && len(msgs) > max {
		msgs = msgs[len(msgs)-max:]
	}
	return msgs, nil
}
