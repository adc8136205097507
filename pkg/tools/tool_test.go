package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name string
}

func (t *stubTool) Name() string            { return t.name }
func (t *stubTool) Description() string     { return "stub" }
func (t *stubTool) Schema() map[string]any  { return objectSchema(map[string]any{}) }
func (t *stubTool) Execute(context.Context, map[string]any) string {
	return "ok"
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{name: "beta"})
	reg.Register(&stubTool{name: "alpha"})

	assert.Equal(t, []string{"alpha", "beta"}, reg.Names())

	got, ok := reg.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", got.Name())

	_, ok = reg.Get("gamma")
	assert.False(t, ok)

	defs := reg.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "beta", defs[1].Name)
}

func TestRegistryWithout(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{name: "read_file"})
	reg.Register(&stubTool{name: "spawn_subagent"})
	reg.Register(&stubTool{name: "run_command"})

	reduced := reg.Without("spawn_subagent", "run_command")
	assert.Equal(t, []string{"read_file"}, reduced.Names())

	// original untouched
	assert.Len(t, reg.Names(), 3)
}

func TestExecContextRoundTrip(t *testing.T) {
	ec := ExecContext{SessionID: "ses_1", TurnID: "turn_1", StepID: "step_1", ToolCallID: "tc_1"}
	ctx := WithExecContext(context.Background(), ec)
	assert.Equal(t, ec, ExecContextFrom(ctx))

	assert.Zero(t, ExecContextFrom(context.Background()))
}

func TestChunkWriterRoundTrip(t *testing.T) {
	var got []string
	ctx := WithChunkWriter(context.Background(), func(stream, text string) {
		got = append(got, stream+":"+text)
	})

	w := ChunkWriterFrom(ctx)
	require.NotNil(t, w)
	w("stdout", "hi")
	assert.Equal(t, []string{"stdout:hi"}, got)

	assert.Nil(t, ChunkWriterFrom(context.Background()))
}

func TestStringParam(t *testing.T) {
	v, errText := stringParam(map[string]any{"path": "x"}, "path")
	assert.Equal(t, "x", v)
	assert.Empty(t, errText)

	_, errText = stringParam(map[string]any{}, "path")
	assert.Equal(t, "Error: path is required", errText)

	_, errText = stringParam(map[string]any{"path": 3}, "path")
	assert.Equal(t, "Error: path must be a string", errText)
}
