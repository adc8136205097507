package agent

import (
	"context"
	"strings"

	"github.com/openloop-dev/openloop/pkg/llm"
)

const titlePrompt = "Write a short title (at most six words, no quotes, no trailing punctuation) for a conversation that starts with this message:\n\n"

// GenerateTitle sets a session title derived from its first user message.
// The LLM call is best-effort; any failure falls back to a prefix of the
// user text. Existing titles are never overwritten.
func (r *Runner) GenerateTitle(ctx context.Context, sessionID, userText string) {
	title := r.llmTitle(ctx, sessionID, userText)
	if title == "" {
		title = fallbackTitle(userText, r.cfg.TitleMaxChars)
	}
	if title == "" {
		return
	}
	if err := r.sessions.SetTitleIfEmpty(ctx, sessionID, title); err != nil {
		r.logger.Warn("Failed to set session title", "session_id", sessionID, "error", err)
	}
}

func (r *Runner) llmTitle(ctx context.Context, sessionID, userText string) string {
	result, err := r.llm.Complete(ctx, llm.Request{
		Model: r.resolveModel(ctx, sessionID),
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: titlePrompt + userText},
		},
		MaxTokens:   60,
		Temperature: 0.2,
	})
	if err != nil {
		r.logger.Debug("Title generation failed", "session_id", sessionID, "error", err)
		return ""
	}
	title := strings.TrimSpace(strings.Trim(strings.TrimSpace(result.Text), `"'`))
	if max := r.cfg.TitleMaxChars; max > 0 && len(title) > max {
		title = title[:max]
	}
	return title
}

// fallbackTitle derives a title from the first line of the user text.
func fallbackTitle(userText string, maxChars int) string {
	line := strings.TrimSpace(userText)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if maxChars > 0 && len(line) > maxChars {
		line = strings.TrimSpace(line[:maxChars])
	}
	return line
}
