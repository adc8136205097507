// Package models defines the persistent entities of the orchestrator and the
// enumerations shared across services, the agent loop and the HTTP API.
package models

import (
	"encoding/json"
	"time"
)

// Step status values.
const (
	StepRunning   = "running"
	StepCompleted = "completed"
	StepError     = "error"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Permission request status values.
const (
	PermissionPending  = "pending"
	PermissionApproved = "approved"
	PermissionDenied   = "denied"
	PermissionExpired  = "expired"
)

// Permission decision scopes.
const (
	ScopeOnce    = "once"
	ScopeSession = "session"
	ScopeAlways  = "always"
)

// Tool policies.
const (
	PolicyDeny  = "deny"
	PolicyAsk   = "ask"
	PolicyAllow = "allow"
)

// Context item kinds.
const (
	ContextKindDoc  = "doc"
	ContextKindFile = "file"
	ContextKindWeb  = "web"
)

// Terminal streams.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Session is one chat session. ModelOverride, when non-empty, replaces the
// configured default model for every completion in the session.
type Session struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	ModelOverride string    `json:"model_override,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Message is one entry of the session conversation history.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Turn is one user submission. It is immutable once created and owns the
// steps produced while processing it.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	UserText  string    `json:"user_text"`
	CreatedAt time.Time `json:"created_at"`
}

// Step is one LLM completion within a turn plus the tool calls it produced.
// Idx 0 carries the user message.
type Step struct {
	ID         string     `json:"id"`
	TurnID     string     `json:"turn_id"`
	Idx        int        `json:"idx"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Event is an immutable record on the per-session event log. ID is globally
// monotonic; Seq is dense and monotonic within a session, starting at 1.
// Ts is fractional seconds since the Unix epoch, matching the wire envelope.
type Event struct {
	ID        int64           `json:"id"`
	Seq       int64           `json:"seq"`
	Ts        float64         `json:"ts"`
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	TurnID    string          `json:"turn_id"`
	StepID    string          `json:"step_id"`
	Payload   json.RawMessage `json:"payload"`
}

// FileChange records a single file mutation as a unified diff.
type FileChange struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	TurnID      string    `json:"turn_id"`
	StepID      string    `json:"step_id"`
	Path        string    `json:"path"`
	UnifiedDiff string    `json:"unified_diff"`
	CreatedAt   time.Time `json:"created_at"`
}

// FileVersion is one snapshot on a file's rollback line. Idx 0 is the
// pre-mutation base; consecutive versions never share a sha256.
type FileVersion struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Path      string    `json:"path"`
	Idx       int       `json:"idx"`
	SHA256    string    `json:"sha256"`
	Content   string    `json:"content,omitempty"`
	Note      string    `json:"note"`
	TurnID    string    `json:"turn_id"`
	StepID    string    `json:"step_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TerminalChunk is one streamed stdout/stderr fragment from a command tool.
type TerminalChunk struct {
	ID         int64   `json:"id"`
	SessionID  string  `json:"session_id"`
	TurnID     string  `json:"turn_id"`
	StepID     string  `json:"step_id"`
	ToolCallID string  `json:"tool_call_id"`
	Stream     string  `json:"stream"`
	Text       string  `json:"text"`
	Ts         float64 `json:"ts"`
}

// PermissionRequest is a pending or resolved tool-approval request.
type PermissionRequest struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	TurnID     string          `json:"turn_id"`
	StepID     string          `json:"step_id"`
	ToolName   string          `json:"tool_name"`
	Input      json.RawMessage `json:"input"`
	Status     string          `json:"status"`
	Scope      string          `json:"scope"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}

// ContextItem is a captured or pinned piece of session context. Pinned items
// are rendered into the system prompt; Summary caches an LLM summary of
// large content, keyed by SummarySHA256.
type ContextItem struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	Kind          string    `json:"kind"`
	Title         string    `json:"title"`
	ContentRef    string    `json:"content_ref"`
	Pinned        bool      `json:"pinned"`
	Summary       string    `json:"summary,omitempty"`
	SummarySHA256 string    `json:"summary_sha256,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ToolPolicy is a durable global policy row for one tool.
type ToolPolicy struct {
	ToolName  string    `json:"tool_name"`
	Policy    string    `json:"policy"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Usage totals accumulated across the iterations of a turn.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add merges another usage sample into the running total.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}
