// Package llm abstracts the completion provider behind a streaming client
// interface so the agent loop never depends on a concrete SDK.
package llm

import (
	"context"

	"github.com/openloop-dev/openloop/pkg/models"
)

// Message roles mirror the chat-completion wire roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the conversation sent to the provider.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall // assistant messages only
	ToolCallID string     // tool messages only
}

// ToolCall is a fully assembled tool invocation requested by the model.
// Arguments is the raw JSON argument string as produced by the provider.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDefinition describes one callable tool to the provider.
type ToolDefinition struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Request is one completion call.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float64
}

// Chunk is one streamed fragment. Implementations are TextChunk,
// ThinkingChunk, ToolCallChunk and FinishChunk.
type Chunk interface {
	chunkType() string
}

// TextChunk is an assistant text delta.
type TextChunk struct {
	Text string
}

// ThinkingChunk is a reasoning text delta, present only on providers that
// expose reasoning content.
type ThinkingChunk struct {
	Text string
}

// ToolCallChunk is a tool-call fragment. Fragments sharing an Index belong
// to the same call; ID and Name arrive once, ArgumentsFragment accumulates.
type ToolCallChunk struct {
	Index             int
	ID                string
	Name              string
	ArgumentsFragment string
}

// FinishChunk carries the finish reason once the provider stops emitting.
type FinishChunk struct {
	Reason string
}

func (TextChunk) chunkType() string     { return "text" }
func (ThinkingChunk) chunkType() string { return "thinking" }
func (ToolCallChunk) chunkType() string { return "tool_call" }
func (FinishChunk) chunkType() string   { return "finish" }

// Result is the assembled outcome of one completion call.
type Result struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        models.Usage
}

// Client is a completion provider. Stream invokes emit for every fragment
// as it arrives and returns the assembled result; Complete performs a
// single non-streaming call.
type Client interface {
	Stream(ctx context.Context, req Request, emit func(Chunk)) (*Result, error)
	Complete(ctx context.Context, req Request) (*Result, error)
}
