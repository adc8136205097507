package tools

import "context"

// SubagentLauncher runs a bounded nested agent loop for a delegated task and
// returns its final text. Implemented by the agent package; the indirection
// keeps tools free of a dependency on the loop that dispatches them.
type SubagentLauncher interface {
	RunSubagent(ctx context.Context, task, label string) string
}

// SpawnSubagentTool delegates a task to a nested agent loop.
type SpawnSubagentTool struct {
	launcher SubagentLauncher
}

// NewSpawnSubagentTool creates a spawn_subagent tool.
func NewSpawnSubagentTool(launcher SubagentLauncher) *SpawnSubagentTool {
	return &SpawnSubagentTool{launcher: launcher}
}

func (t *SpawnSubagentTool) Name() string { return "spawn_subagent" }

func (t *SpawnSubagentTool) Description() string {
	return "Delegate a self-contained task to a subagent that runs its own tool loop and returns a final answer."
}

func (t *SpawnSubagentTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"task": map[string]any{
			"type":        "string",
			"description": "The task for the subagent to carry out",
		},
		"label": map[string]any{
			"type":        "string",
			"description": "Optional short label shown in the event stream",
		},
	}, "task")
}

func (t *SpawnSubagentTool) Execute(ctx context.Context, params map[string]any) string {
	task, errText := stringParam(params, "task")
	if errText != "" {
		return errText
	}
	label, _ := params["label"].(string)
	if t.launcher == nil {
		return "Error: subagent launcher is not configured"
	}
	return t.launcher.RunSubagent(ctx, task, label)
}
