package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchFilesTool(t *testing.T) {
	sb := newTestSandbox(t)
	tool := NewSearchFilesTool(sb)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(sb.Root(), "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sb.Root(), "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sb.Root(), "pkg", "util.go"), []byte("package pkg\n// Helper FUNC\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sb.Root(), "notes.txt"), []byte("nothing here\n"), 0o644))

	out := tool.Execute(ctx, map[string]any{"query": "func"})
	assert.Contains(t, out, "main.go:3: func main() {}")
	assert.Contains(t, out, "pkg/util.go:2: // Helper FUNC")
	assert.NotContains(t, out, "notes.txt")
}

func TestSearchFilesToolGlob(t *testing.T) {
	sb := newTestSandbox(t)
	tool := NewSearchFilesTool(sb)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(sb.Root(), "a.go"), []byte("match\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sb.Root(), "a.txt"), []byte("match\n"), 0o644))

	out := tool.Execute(ctx, map[string]any{"query": "match", "glob": "**/*.go"})
	assert.Contains(t, out, "a.go:1: match")
	assert.NotContains(t, out, "a.txt")
}

func TestSearchFilesToolNoMatches(t *testing.T) {
	sb := newTestSandbox(t)
	tool := NewSearchFilesTool(sb)

	out := tool.Execute(context.Background(), map[string]any{"query": "absent"})
	assert.Equal(t, "No matches found", out)
}

func TestSearchFilesToolValidation(t *testing.T) {
	sb := newTestSandbox(t)
	tool := NewSearchFilesTool(sb)
	ctx := context.Background()

	assert.Equal(t, "Error: query is required", tool.Execute(ctx, map[string]any{"query": ""}))
	out := tool.Execute(ctx, map[string]any{"query": "x", "glob": "[unclosed"})
	assert.Contains(t, out, "invalid glob pattern")
}
