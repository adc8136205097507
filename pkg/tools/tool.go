// Package tools defines the callable units the agent loop dispatches to:
// sandboxed filesystem access, patching, search, web fetch, command
// execution, and subagent delegation.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Tool is a named, schema-described callable unit. Execute returns the text
// fed back to the model; failures are reported as strings beginning with
// "Error" so the model can self-correct, never as Go errors.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Execute(ctx context.Context, params map[string]any) string
}

// Definition is the provider-facing description of one tool.
type Definition struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ExecContext identifies the turn a tool invocation belongs to. It travels
// on the context so concurrent sessions never share tool state.
type ExecContext struct {
	SessionID        string
	TurnID           string
	StepID           string
	ToolCallID       string
	ParentToolCallID string
}

type execContextKey struct{}

// WithExecContext attaches the execution context for one invocation.
func WithExecContext(ctx context.Context, ec ExecContext) context.Context {
	return context.WithValue(ctx, execContextKey{}, ec)
}

// ExecContextFrom returns the invocation's execution context, zero if unset.
func ExecContextFrom(ctx context.Context) ExecContext {
	ec, _ := ctx.Value(execContextKey{}).(ExecContext)
	return ec
}

// ChunkWriter receives streamed stdout/stderr fragments from tools that
// produce them.
type ChunkWriter func(stream, text string)

type chunkWriterKey struct{}

// WithChunkWriter attaches a terminal stream sink for one invocation.
func WithChunkWriter(ctx context.Context, w ChunkWriter) context.Context {
	return context.WithValue(ctx, chunkWriterKey{}, w)
}

// ChunkWriterFrom returns the invocation's stream sink, nil if unset.
func ChunkWriterFrom(ctx context.Context) ChunkWriter {
	w, _ := ctx.Value(chunkWriterKey{}).(ChunkWriter)
	return w
}

// Registry holds the tools available to one agent loop.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

// Register adds a tool, replacing any previous tool of the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	r.tools[t.Name()] = t
	r.mu.Unlock()
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the provider-facing definitions, sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Without returns a copy of the registry lacking the named tools. Used to
// build the reduced subagent tool set.
func (r *Registry) Without(names ...string) *Registry {
	excluded := map[string]bool{}
	for _, name := range names {
		excluded[name] = true
	}
	out := NewRegistry()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, t := range r.tools {
		if !excluded[name] {
			out.tools[name] = t
		}
	}
	return out
}

// stringParam extracts a required string parameter.
func stringParam(params map[string]any, key string) (string, string) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Sprintf("Error: %s is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Sprintf("Error: %s must be a string", key)
	}
	return s, ""
}

// objectSchema builds the JSON schema shared by every tool definition.
func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
