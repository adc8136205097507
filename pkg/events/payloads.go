// Package events provides the durable event bus: publish appends to the
// per-session event log and wakes every SSE consumer.
package events

import "github.com/openloop-dev/openloop/pkg/models"

// Persisted event types.
const (
	TypeMessageDelta  = "message_delta"
	TypeThinking      = "thinking"
	TypeToolCall      = "tool_call"
	TypeToolResult    = "tool_result"
	TypeDiff          = "diff"
	TypeTerminalChunk = "terminal_chunk"
	TypeFsRollback    = "fs_rollback"
	TypeSubagent      = "subagent"
	TypeSubagentBlock = "subagent_block"
	TypeFinal         = "final"
	TypeError         = "error"
)

// SSE-only frame names, never persisted.
const (
	TypeConnected = "connected"
	TypeHeartbeat = "heartbeat"
)

// Thinking statuses.
const (
	ThinkingStart = "start"
	ThinkingDelta = "delta"
	ThinkingEnd   = "end"
)

// Tool-call statuses.
const (
	ToolCallRunning            = "running"
	ToolCallPermissionRequired = "permission_required"
	ToolCallError              = "error"
)

// Subagent statuses.
const (
	SubagentStart = "start"
	SubagentEnd   = "end"
	SubagentError = "error"
)

// Turn-terminating error codes.
const (
	CodeCancelled      = "CANCELLED"
	CodeTurnError      = "TURN_ERROR"
	CodeLLMStreamError = "LLM_STREAM_ERROR"
)

// MessageDeltaPayload is one streamed text fragment of a user or assistant
// message.
type MessageDeltaPayload struct {
	Role      string `json:"role"`
	MessageID string `json:"message_id"`
	Delta     string `json:"delta"`
}

// ThinkingPayload tracks a model reasoning phase.
type ThinkingPayload struct {
	Status     string `json:"status"` // start, delta, end
	Text       string `json:"text,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// ToolCallPayload announces a tool invocation or a pending approval.
type ToolCallPayload struct {
	ToolCallID          string         `json:"tool_call_id"`
	ToolName            string         `json:"tool_name"`
	Input               map[string]any `json:"input"`
	Status              string         `json:"status"` // running, permission_required, error
	PermissionRequestID string         `json:"permission_request_id,omitempty"`
	Choices             []string       `json:"choices,omitempty"`
}

// ToolResultPayload reports a tool's outcome. Output and Error are truncated
// for the event; the untruncated text goes back to the model.
type ToolResultPayload struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	OK         bool   `json:"ok"`
	Output     string `json:"output"`
	Error      string `json:"error"`
	DurationMs int64  `json:"duration_ms"`
}

// DiffPayload carries the unified diff of one file mutation.
type DiffPayload struct {
	ToolCallID string `json:"tool_call_id"`
	Path       string `json:"path"`
	Diff       string `json:"diff"`
}

// TerminalChunkPayload is one streamed stdout/stderr fragment.
type TerminalChunkPayload struct {
	ToolCallID string `json:"tool_call_id"`
	Stream     string `json:"stream"`
	Text       string `json:"text"`
}

// FsRollbackPayload records a file restored to an earlier version.
type FsRollbackPayload struct {
	ToolCallID string `json:"tool_call_id"`
	Path       string `json:"path"`
	VersionID  string `json:"version_id"`
	Idx        int    `json:"idx"`
}

// SubagentPayload tracks a nested agent's lifecycle.
type SubagentPayload struct {
	ParentToolCallID string `json:"parent_tool_call_id"`
	SubagentID       string `json:"subagent_id"`
	Status           string `json:"status"` // start, end, error
	Label            string `json:"label"`
	Task             string `json:"task"`
	Result           string `json:"result,omitempty"`
	Error            string `json:"error,omitempty"`
}

// SubagentBlockPayload surfaces one block of a nested agent's transcript.
type SubagentBlockPayload struct {
	ParentToolCallID string         `json:"parent_tool_call_id"`
	SubagentID       string         `json:"subagent_id"`
	Block            map[string]any `json:"block"`
}

// FinalPayload is the assistant's terminal message for a turn.
type FinalPayload struct {
	Role         string       `json:"role"` // always assistant
	MessageID    string       `json:"message_id"`
	Text         string       `json:"text"`
	FinishReason string       `json:"finish_reason"`
	Usage        models.Usage `json:"usage"`
}

// ErrorPayload terminates a turn abnormally.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConnectedPayload is the SSE handshake frame.
type ConnectedPayload struct {
	ServerTime float64 `json:"server_time"`
	LatestID   int64   `json:"latest_id"`
}
