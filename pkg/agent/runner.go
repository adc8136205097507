// Package agent implements the turn runner: the loop that drives streaming
// completions, dispatches tool calls through the permission gate, captures
// file and terminal artifacts, and emits the session event stream.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/openloop-dev/openloop/pkg/config"
	"github.com/openloop-dev/openloop/pkg/events"
	"github.com/openloop-dev/openloop/pkg/llm"
	"github.com/openloop-dev/openloop/pkg/models"
	"github.com/openloop-dev/openloop/pkg/permissions"
	"github.com/openloop-dev/openloop/pkg/services"
	"github.com/openloop-dev/openloop/pkg/tools"
)

// ErrCancelled reports that a turn ended because it was cancelled.
var ErrCancelled = errors.New("turn cancelled")

// Deps wires the runner's collaborators.
type Deps struct {
	Config   *config.Config
	LLM      llm.Client
	Bus      *events.Bus
	Gate     *permissions.Gate
	Registry *tools.Registry
	Sandbox  *tools.Sandbox
	Sessions *services.SessionService
	Turns    *services.TurnService
	Files    *services.FileService
	Contexts *services.ContextService
	Terminal *services.TerminalService
	Logger   *slog.Logger
}

// Runner executes turns. One runner serves all sessions; all per-turn state
// lives on the stack of RunTurn.
type Runner struct {
	cfg      *config.Config
	llm      llm.Client
	bus      *events.Bus
	gate     *permissions.Gate
	registry *tools.Registry
	sandbox  *tools.Sandbox
	sessions *services.SessionService
	turns    *services.TurnService
	files    *services.FileService
	contexts *services.ContextService
	terminal *services.TerminalService
	logger   *slog.Logger
}

// NewRunner creates a runner.
func NewRunner(d Deps) *Runner {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:      d.Config,
		llm:      d.LLM,
		bus:      d.Bus,
		gate:     d.Gate,
		registry: d.Registry,
		sandbox:  d.Sandbox,
		sessions: d.Sessions,
		turns:    d.Turns,
		files:    d.Files,
		contexts: d.Contexts,
		terminal: d.Terminal,
		logger:   logger,
	}
}

// RunTurn drives one turn to its final text or error. The caller persists
// the returned assistant text to the conversation history.
func (r *Runner) RunTurn(ctx context.Context, sessionID, turnID, userText string) (string, error) {
	model := r.resolveModel(ctx, sessionID)

	// step 0 surfaces the user message on the event stream
	step0, err := r.turns.CreateStep(ctx, turnID, 0)
	if err != nil {
		return "", r.failTurn(ctx, sessionID, turnID, "", err)
	}
	r.publish(ctx, sessionID, turnID, step0.ID, events.TypeMessageDelta, events.MessageDeltaPayload{
		Role:      models.RoleUser,
		MessageID: models.NewMessageID(),
		Delta:     userText,
	})
	r.finishStep(ctx, step0.ID, models.StepCompleted)

	system := r.buildSystemPrompt(ctx, sessionID, model)
	msgs, err := r.buildHistory(ctx, sessionID)
	if err != nil {
		return "", r.failTurn(ctx, sessionID, turnID, "", err)
	}
	defs := toolDefinitions(r.registry)

	var usage models.Usage
	var lastText string

	for idx := 1; idx <= r.cfg.MaxIterations; idx++ {
		step, err := r.turns.CreateStep(ctx, turnID, idx)
		if err != nil {
			return "", r.failTurn(ctx, sessionID, turnID, "", err)
		}

		result, messageID, err := r.completeStep(ctx, sessionID, turnID, step.ID, llm.Request{
			Model:       model,
			System:      system,
			Messages:    msgs,
			Tools:       defs,
			MaxTokens:   r.cfg.MaxTokens,
			Temperature: r.cfg.Temperature,
		})
		if err != nil {
			r.finishStep(ctx, step.ID, models.StepError)
			if ctx.Err() != nil {
				return "", r.emitCancelled(ctx, sessionID, turnID)
			}
			r.publish(ctx, sessionID, turnID, step.ID, events.TypeError, events.ErrorPayload{
				Code:    events.CodeLLMStreamError,
				Message: err.Error(),
			})
			return "", err
		}

		usage.Add(result.Usage)
		lastText = result.Text

		if len(result.ToolCalls) == 0 {
			r.publish(ctx, sessionID, turnID, step.ID, events.TypeFinal, events.FinalPayload{
				Role:         models.RoleAssistant,
				MessageID:    messageID,
				Text:         result.Text,
				FinishReason: result.FinishReason,
				Usage:        usage,
			})
			r.finishStep(ctx, step.ID, models.StepCompleted)
			return result.Text, nil
		}

		for i := range result.ToolCalls {
			if result.ToolCalls[i].ID == "" {
				result.ToolCalls[i].ID = models.NewToolCallID()
			}
		}
		msgs = append(msgs, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   result.Text,
			ToolCalls: result.ToolCalls,
		})

		for _, tc := range result.ToolCalls {
			if ctx.Err() != nil {
				r.finishStep(ctx, step.ID, models.StepError)
				return "", r.emitCancelled(ctx, sessionID, turnID)
			}
			output := r.dispatchToolCall(ctx, sessionID, turnID, step.ID, tc)
			msgs = append(msgs, llm.Message{Role: llm.RoleTool, Content: output, ToolCallID: tc.ID})
		}
		r.finishStep(ctx, step.ID, models.StepCompleted)
	}

	// iteration budget exhausted: surface what we have as the final answer
	step, err := r.turns.CreateStep(ctx, turnID, r.cfg.MaxIterations+1)
	if err != nil {
		return "", r.failTurn(ctx, sessionID, turnID, "", err)
	}
	r.publish(ctx, sessionID, turnID, step.ID, events.TypeFinal, events.FinalPayload{
		Role:         models.RoleAssistant,
		MessageID:    models.NewMessageID(),
		Text:         lastText,
		FinishReason: "max_iterations",
		Usage:        usage,
	})
	r.finishStep(ctx, step.ID, models.StepCompleted)
	return lastText, nil
}

// completeStep runs one streaming completion, emitting message and thinking
// events per chunk. A failed stream is retried once without streaming.
func (r *Runner) completeStep(ctx context.Context, sessionID, turnID, stepID string, req llm.Request) (*llm.Result, string, error) {
	messageID := models.NewMessageID()
	var thinkingStart time.Time

	emit := func(chunk llm.Chunk) {
		switch c := chunk.(type) {
		case llm.TextChunk:
			r.publish(ctx, sessionID, turnID, stepID, events.TypeMessageDelta, events.MessageDeltaPayload{
				Role:      models.RoleAssistant,
				MessageID: messageID,
				Delta:     c.Text,
			})
		case llm.ThinkingChunk:
			if thinkingStart.IsZero() {
				thinkingStart = time.Now()
				r.publish(ctx, sessionID, turnID, stepID, events.TypeThinking, events.ThinkingPayload{Status: events.ThinkingStart})
			}
			r.publish(ctx, sessionID, turnID, stepID, events.TypeThinking, events.ThinkingPayload{
				Status: events.ThinkingDelta,
				Text:   c.Text,
			})
		}
	}

	result, err := r.llm.Stream(ctx, req, emit)
	if err != nil && ctx.Err() == nil {
		r.logger.Warn("Streaming completion failed, retrying without streaming",
			"session_id", sessionID, "turn_id", turnID, "error", err)
		result, err = r.llm.Complete(ctx, req)
		if err == nil && result.Text != "" {
			r.publish(ctx, sessionID, turnID, stepID, events.TypeMessageDelta, events.MessageDeltaPayload{
				Role:      models.RoleAssistant,
				MessageID: messageID,
				Delta:     result.Text,
			})
		}
	}

	if !thinkingStart.IsZero() {
		r.publish(ctx, sessionID, turnID, stepID, events.TypeThinking, events.ThinkingPayload{
			Status:     events.ThinkingEnd,
			DurationMs: time.Since(thinkingStart).Milliseconds(),
		})
	}
	return result, messageID, err
}

// dispatchToolCall gates, executes and reports one tool call, returning the
// text fed back to the model.
func (r *Runner) dispatchToolCall(ctx context.Context, sessionID, turnID, stepID string, tc llm.ToolCall) string {
	params := parseToolArgs(tc.Arguments)

	tool, found := r.registry.Get(tc.Name)
	if !found {
		output := fmt.Sprintf("Error: Unknown tool: %s", tc.Name)
		r.publishToolResult(ctx, sessionID, turnID, stepID, tc, false, "", output, 0)
		return output
	}

	policy, err := r.gate.EffectivePolicy(ctx, sessionID, tc.Name)
	if err != nil {
		r.logger.Error("Policy resolution failed", "tool", tc.Name, "error", err)
		policy = models.PolicyDeny
	}
	if policy == models.PolicyAsk {
		if r.askPermission(ctx, sessionID, turnID, stepID, tc, params) {
			policy = models.PolicyAllow
		} else {
			policy = models.PolicyDeny
		}
	}
	if policy == models.PolicyDeny {
		denial := fmt.Sprintf("Permission denied for tool '%s'", tc.Name)
		r.publishToolResult(ctx, sessionID, turnID, stepID, tc, false, "", denial, 0)
		return denial
	}

	r.publish(ctx, sessionID, turnID, stepID, events.TypeToolCall, events.ToolCallPayload{
		ToolCallID: tc.ID,
		ToolName:   tc.Name,
		Input:      params,
		Status:     events.ToolCallRunning,
	})

	output, ok, durationMs := r.invokeTool(ctx, sessionID, turnID, stepID, tc.ID, "", tool, params)
	if ok {
		r.publishToolResult(ctx, sessionID, turnID, stepID, tc, true, output, "", durationMs)
	} else {
		r.publishToolResult(ctx, sessionID, turnID, stepID, tc, false, "", output, durationMs)
	}
	return output
}

// askPermission creates a pending request, announces it, and blocks until
// resolution or timeout.
func (r *Runner) askPermission(ctx context.Context, sessionID, turnID, stepID string, tc llm.ToolCall, params map[string]any) bool {
	input, err := json.Marshal(params)
	if err != nil {
		input = []byte("{}")
	}
	req, err := r.gate.CreateRequest(ctx, sessionID, turnID, stepID, tc.Name, input)
	if err != nil {
		r.logger.Error("Failed to create permission request", "tool", tc.Name, "error", err)
		return false
	}

	r.publish(ctx, sessionID, turnID, stepID, events.TypeToolCall, events.ToolCallPayload{
		ToolCallID:          tc.ID,
		ToolName:            tc.Name,
		Input:               params,
		Status:              events.ToolCallPermissionRequired,
		PermissionRequestID: req.ID,
		Choices:             []string{models.ScopeOnce, models.ScopeSession, models.ScopeAlways, "deny"},
	})

	decision, err := r.gate.Wait(ctx, req.ID)
	if err != nil {
		return false
	}
	return decision.Approved
}

// invokeTool executes an approved tool call and captures its artifacts:
// file versions, file changes, diff events, and opportunistic context items.
func (r *Runner) invokeTool(ctx context.Context, sessionID, turnID, stepID, toolCallID, parentToolCallID string, tool tools.Tool, params map[string]any) (string, bool, int64) {
	execCtx := tools.WithExecContext(ctx, tools.ExecContext{
		SessionID:        sessionID,
		TurnID:           turnID,
		StepID:           stepID,
		ToolCallID:       toolCallID,
		ParentToolCallID: parentToolCallID,
	})
	execCtx = tools.WithChunkWriter(execCtx, r.chunkWriter(ctx, sessionID, turnID, stepID, toolCallID))

	before := r.snapshotBefore(tool.Name(), params)

	start := time.Now()
	output := tool.Execute(execCtx, params)
	durationMs := time.Since(start).Milliseconds()

	ok := !isErrorResult(tool.Name(), output)
	if ok {
		r.recordMutations(ctx, sessionID, turnID, stepID, toolCallID, tool.Name(), before, output)
		r.captureContext(ctx, sessionID, tool.Name(), params, output)
	}
	return output, ok, durationMs
}

// snapshotBefore captures the pre-execution content of every path a mutating
// tool may touch, keyed by display path.
func (r *Runner) snapshotBefore(toolName string, params map[string]any) map[string]string {
	var paths []string
	switch toolName {
	case "write_file", "edit_file":
		if path, ok := params["path"].(string); ok && path != "" {
			paths = append(paths, path)
		}
	case "apply_patch":
		patch, _ := params["patch"].(string)
		for _, f := range tools.ExtractFilesFromPatch(patch) {
			if f.Path != "" {
				paths = append(paths, f.Path)
			}
		}
	default:
		return nil
	}

	before := map[string]string{}
	for _, path := range paths {
		resolved, errText := r.sandbox.Resolve(path)
		if errText != "" {
			continue
		}
		content := ""
		if data, err := os.ReadFile(resolved); err == nil {
			content = string(data)
		}
		before[r.sandbox.Display(resolved)] = content
	}
	return before
}

// recordMutations persists version history, file changes and diff events for
// every snapshotted path whose content actually changed.
func (r *Runner) recordMutations(ctx context.Context, sessionID, turnID, stepID, toolCallID, toolName string, before map[string]string, output string) {
	if len(before) == 0 {
		return
	}
	if toolName == "apply_patch" {
		var res tools.PatchResult
		if err := json.Unmarshal([]byte(output), &res); err != nil || !res.Applied {
			return
		}
	}

	for path, beforeContent := range before {
		resolved, errText := r.sandbox.Resolve(path)
		if errText != "" {
			continue
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			continue
		}
		after := string(data)
		if after == beforeContent {
			continue
		}

		if _, err := r.files.EnsureBaseVersion(ctx, sessionID, path, beforeContent, turnID, stepID); err != nil {
			r.logger.Warn("Failed to record base file version", "path", path, "error", err)
		}
		if _, err := r.files.AddVersion(ctx, sessionID, path, after, toolName, turnID, stepID); err != nil {
			r.logger.Warn("Failed to record file version", "path", path, "error", err)
		}

		diff, err := UnifiedDiff(path, beforeContent, after)
		if err != nil {
			r.logger.Warn("Failed to render diff", "path", path, "error", err)
			continue
		}
		if _, err := r.files.AddFileChange(ctx, sessionID, turnID, stepID, path, diff); err != nil {
			r.logger.Warn("Failed to record file change", "path", path, "error", err)
		}
		r.publish(ctx, sessionID, turnID, stepID, events.TypeDiff, events.DiffPayload{
			ToolCallID: toolCallID,
			Path:       path,
			Diff:       diff,
		})
	}
}

// captureContext records successful reads and fetches as context items.
func (r *Runner) captureContext(ctx context.Context, sessionID, toolName string, params map[string]any, output string) {
	switch toolName {
	case "read_file":
		path, ok := params["path"].(string)
		if !ok || path == "" {
			return
		}
		if resolved, errText := r.sandbox.Resolve(path); errText == "" {
			path = r.sandbox.Display(resolved)
		}
		if _, err := r.contexts.UpsertByRef(ctx, sessionID, models.ContextKindFile, path, path); err != nil {
			r.logger.Warn("Failed to capture file context", "path", path, "error", err)
		}
	case "http_fetch":
		var doc struct {
			URL   string `json:"url"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(output), &doc); err != nil || doc.Error != "" || doc.URL == "" {
			return
		}
		if _, err := r.contexts.UpsertByRef(ctx, sessionID, models.ContextKindWeb, doc.URL, doc.URL); err != nil {
			r.logger.Warn("Failed to capture web context", "url", doc.URL, "error", err)
		}
	}
}

// chunkWriter persists streamed terminal output and mirrors it onto the
// event stream.
func (r *Runner) chunkWriter(ctx context.Context, sessionID, turnID, stepID, toolCallID string) tools.ChunkWriter {
	return func(stream, text string) {
		if _, err := r.terminal.AddChunk(ctx, sessionID, turnID, stepID, toolCallID, stream, text); err != nil {
			r.logger.Warn("Failed to persist terminal chunk", "error", err)
		}
		r.publish(ctx, sessionID, turnID, stepID, events.TypeTerminalChunk, events.TerminalChunkPayload{
			ToolCallID: toolCallID,
			Stream:     stream,
			Text:       text,
		})
	}
}

// emitCancelled reports cancellation on a fresh terminal step so consumers
// always observe it even when the interrupted step already closed.
func (r *Runner) emitCancelled(ctx context.Context, sessionID, turnID string) error {
	bg := context.WithoutCancel(ctx)
	idx, err := r.turns.NextStepIdx(bg, turnID)
	if err != nil {
		r.logger.Error("Failed to allocate cancellation step idx", "turn_id", turnID, "error", err)
		return ErrCancelled
	}
	step, err := r.turns.CreateStep(bg, turnID, idx)
	if err != nil {
		r.logger.Error("Failed to create cancellation step", "turn_id", turnID, "error", err)
		return ErrCancelled
	}
	r.publish(bg, sessionID, turnID, step.ID, events.TypeError, events.ErrorPayload{
		Code:    events.CodeCancelled,
		Message: "turn cancelled",
	})
	r.finishStep(bg, step.ID, models.StepError)
	return ErrCancelled
}

// failTurn reports an infrastructure failure and returns the original error.
func (r *Runner) failTurn(ctx context.Context, sessionID, turnID, stepID string, err error) error {
	if ctx.Err() != nil {
		return r.emitCancelled(ctx, sessionID, turnID)
	}
	r.publish(ctx, sessionID, turnID, stepID, events.TypeError, events.ErrorPayload{
		Code:    events.CodeTurnError,
		Message: err.Error(),
	})
	return err
}

func (r *Runner) resolveModel(ctx context.Context, sessionID string) string {
	override, err := r.sessions.GetModelOverride(ctx, sessionID)
	if err != nil {
		r.logger.Warn("Failed to read model override", "session_id", sessionID, "error", err)
	}
	if override != "" {
		return override
	}
	return r.cfg.DefaultModel
}

func (r *Runner) publish(ctx context.Context, sessionID, turnID, stepID, eventType string, payload any) {
	if _, err := r.bus.Publish(ctx, sessionID, turnID, stepID, eventType, payload); err != nil {
		r.logger.Error("Failed to publish event", "type", eventType, "session_id", sessionID, "error", err)
	}
}

func (r *Runner) publishToolResult(ctx context.Context, sessionID, turnID, stepID string, tc llm.ToolCall, ok bool, output, errText string, durationMs int64) {
	limit := r.cfg.ToolOutputEventLimit
	r.publish(ctx, sessionID, turnID, stepID, events.TypeToolResult, events.ToolResultPayload{
		ToolCallID: tc.ID,
		ToolName:   tc.Name,
		OK:         ok,
		Output:     truncate(output, limit),
		Error:      truncate(errText, limit),
		DurationMs: durationMs,
	})
}

func (r *Runner) finishStep(ctx context.Context, stepID, status string) {
	if err := r.turns.FinishStep(ctx, stepID, status); err != nil {
		r.logger.Warn("Failed to finish step", "step_id", stepID, "error", err)
	}
}

// parseToolArgs decodes the model's argument JSON; malformed input is kept
// verbatim under a raw key so nothing the model said is lost.
func parseToolArgs(raw string) map[string]any {
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil || params == nil {
		return map[string]any{"raw": raw}
	}
	return params
}

// isErrorResult classifies a tool result: an Error-prefixed string, or for
// JSON-returning tools a document carrying error / applied=false.
func isErrorResult(toolName, output string) bool {
	if strings.HasPrefix(output, "Error:") || strings.HasPrefix(output, "Error ") {
		return true
	}
	switch toolName {
	case "apply_patch", "http_fetch":
		var doc struct {
			Error   string `json:"error"`
			Applied *bool  `json:"applied"`
		}
		if err := json.Unmarshal([]byte(output), &doc); err == nil {
			if doc.Error != "" {
				return true
			}
			if doc.Applied != nil && !*doc.Applied {
				return true
			}
		}
	}
	return false
}

func toolDefinitions(reg *tools.Registry) []llm.ToolDefinition {
	defs := reg.Definitions()
	out := make([]llm.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, llm.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Schema:      d.Schema,
		})
	}
	return out
}

func truncate(s string, limit int) string {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}
