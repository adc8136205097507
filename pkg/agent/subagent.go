package agent

import (
	"context"
	"fmt"

	"github.com/openloop-dev/openloop/pkg/events"
	"github.com/openloop-dev/openloop/pkg/llm"
	"github.com/openloop-dev/openloop/pkg/models"
	"github.com/openloop-dev/openloop/pkg/tools"
)

const subagentPrompt = `You are a focused subagent carrying out one delegated task inside a sandboxed workspace.
Use the available tools as needed, then reply with a concise final answer. Do not ask questions.`

// subagentExcludedTools are withheld from nested loops: no recursive
// delegation and no shell access.
var subagentExcludedTools = []string{"spawn_subagent", "run_command"}

// RunSubagent runs a bounded, non-streaming nested agent loop for one
// delegated task. Progress is surfaced through subagent and subagent_block
// events; the returned text is what the parent model sees.
func (r *Runner) RunSubagent(ctx context.Context, task, label string) string {
	ec := tools.ExecContextFrom(ctx)
	subID := models.NewSubagentID()

	r.publish(ctx, ec.SessionID, ec.TurnID, ec.StepID, events.TypeSubagent, events.SubagentPayload{
		ParentToolCallID: ec.ToolCallID,
		SubagentID:       subID,
		Status:           events.SubagentStart,
		Label:            label,
		Task:             task,
	})

	result, errText := r.runSubagentLoop(ctx, ec, subID, task)
	if errText != "" {
		r.publish(ctx, ec.SessionID, ec.TurnID, ec.StepID, events.TypeSubagent, events.SubagentPayload{
			ParentToolCallID: ec.ToolCallID,
			SubagentID:       subID,
			Status:           events.SubagentError,
			Label:            label,
			Task:             task,
			Error:            errText,
		})
		return "Error: " + errText
	}

	r.publish(ctx, ec.SessionID, ec.TurnID, ec.StepID, events.TypeSubagent, events.SubagentPayload{
		ParentToolCallID: ec.ToolCallID,
		SubagentID:       subID,
		Status:           events.SubagentEnd,
		Label:            label,
		Task:             task,
		Result:           truncate(result, r.cfg.ToolOutputEventLimit),
	})
	return result
}

func (r *Runner) runSubagentLoop(ctx context.Context, ec tools.ExecContext, subID, task string) (string, string) {
	model := r.resolveModel(ctx, ec.SessionID)
	registry := r.registry.Without(subagentExcludedTools...)
	defs := toolDefinitions(registry)

	msgs := []llm.Message{{Role: llm.RoleUser, Content: task}}

	for i := 1; i <= r.cfg.SubagentMaxIterations; i++ {
		if ctx.Err() != nil {
			return "", "subagent cancelled"
		}

		result, err := r.llm.Complete(ctx, llm.Request{
			Model:       model,
			System:      subagentPrompt,
			Messages:    msgs,
			Tools:       defs,
			MaxTokens:   r.cfg.MaxTokens,
			Temperature: r.cfg.Temperature,
		})
		if err != nil {
			return "", fmt.Sprintf("subagent completion failed: %v", err)
		}

		if result.Text != "" {
			r.publishBlock(ctx, ec, subID, map[string]any{
				"id":   models.NewMessageID(),
				"type": "assistant",
				"text": truncate(result.Text, r.cfg.ToolOutputEventLimit),
			})
		}

		if len(result.ToolCalls) == 0 {
			return result.Text, ""
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
			output, ok := r.dispatchSubagentTool(ctx, ec, registry, tc)
			r.publishBlock(ctx, ec, subID, map[string]any{
				"id":        tc.ID,
				"type":      "tool_call",
				"tool_name": tc.Name,
				"input":     parseToolArgs(tc.Arguments),
				"ok":        ok,
				"output":    truncate(output, r.cfg.ToolOutputEventLimit),
			})
			msgs = append(msgs, llm.Message{Role: llm.RoleTool, Content: output, ToolCallID: tc.ID})
		}
	}

	return "", "subagent iteration budget exhausted"
}

// dispatchSubagentTool executes one nested tool call. Subagents never block
// on interactive approval: anything short of an allow policy is denied.
func (r *Runner) dispatchSubagentTool(ctx context.Context, ec tools.ExecContext, registry *tools.Registry, tc llm.ToolCall) (string, bool) {
	tool, found := registry.Get(tc.Name)
	if !found {
		return fmt.Sprintf("Error: Unknown tool: %s", tc.Name), false
	}

	policy, err := r.gate.EffectivePolicy(ctx, ec.SessionID, tc.Name)
	if err != nil {
		r.logger.Error("Policy resolution failed", "tool", tc.Name, "error", err)
		policy = models.PolicyDeny
	}
	if policy != models.PolicyAllow {
		return fmt.Sprintf("Permission denied for tool '%s'", tc.Name), false
	}

	params := parseToolArgs(tc.Arguments)
	output, ok, _ := r.invokeTool(ctx, ec.SessionID, ec.TurnID, ec.StepID, tc.ID, ec.ToolCallID, tool, params)
	return output, ok
}

func (r *Runner) publishBlock(ctx context.Context, ec tools.ExecContext, subID string, block map[string]any) {
	r.publish(ctx, ec.SessionID, ec.TurnID, ec.StepID, events.TypeSubagentBlock, events.SubagentBlockPayload{
		ParentToolCallID: ec.ToolCallID,
		SubagentID:       subID,
		Block:            block,
	})
}
