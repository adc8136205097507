package tools

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoFilePatch = `diff --git a/one.txt b/one.txt
--- a/one.txt
+++ b/one.txt
@@ -1 +1 @@
-old one
+new one
diff --git a/two.txt b/two.txt
--- a/two.txt
+++ b/two.txt
@@ -1 +1 @@
-old two
+new two
`

func TestExtractFilesFromPatch(t *testing.T) {
	files := ExtractFilesFromPatch(twoFilePatch)
	require.Len(t, files, 2)
	assert.Equal(t, "one.txt", files[0].Path)
	assert.Equal(t, "two.txt", files[1].Path)
	assert.Contains(t, files[0].Diff, "+new one")
	assert.Contains(t, files[1].Diff, "+new two")
	assert.NotContains(t, files[0].Diff, "two.txt")
}

func TestExtractFilesFromPatchPlusFallback(t *testing.T) {
	patch := `--- a/only.txt
+++ b/only.txt
@@ -1 +1 @@
-before
+after
`
	files := ExtractFilesFromPatch(patch)
	require.Len(t, files, 1)
	assert.Equal(t, "only.txt", files[0].Path)
}

func TestExtractFilesFromPatchHeaderless(t *testing.T) {
	files := ExtractFilesFromPatch("@@ -1 +1 @@\n-x\n+y")
	require.Len(t, files, 1)
	assert.Empty(t, files[0].Path)
}

func TestValidatePatchPath(t *testing.T) {
	assert.Empty(t, validatePatchPath("src/main.go"))
	assert.Empty(t, validatePatchPath(""))
	assert.NotEmpty(t, validatePatchPath("/etc/passwd"))
	assert.NotEmpty(t, validatePatchPath(`C:\windows\system32`))
	assert.NotEmpty(t, validatePatchPath("../escape.txt"))
	assert.NotEmpty(t, validatePatchPath("a/../../b"))
}

func TestApplyPatchTool(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	sb := newTestSandbox(t)
	tool := NewApplyPatchTool(sb)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(sb.Root(), "one.txt"), []byte("old one\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sb.Root(), "two.txt"), []byte("old two\n"), 0o644))

	var result PatchResult
	require.NoError(t, json.Unmarshal([]byte(tool.Execute(ctx, map[string]any{"patch": twoFilePatch})), &result))
	assert.True(t, result.Applied)
	require.NotNil(t, result.ExitCode)
	assert.Equal(t, 0, *result.ExitCode)
	require.Len(t, result.Files, 2)

	data, err := os.ReadFile(filepath.Join(sb.Root(), "one.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new one\n", string(data))
}

func TestApplyPatchToolCwd(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	sb := newTestSandbox(t)
	tool := NewApplyPatchTool(sb)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(sb.Root(), "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sb.Root(), "sub", "one.txt"), []byte("old one\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sb.Root(), "sub", "two.txt"), []byte("old two\n"), 0o644))

	var result PatchResult
	require.NoError(t, json.Unmarshal([]byte(tool.Execute(ctx, map[string]any{
		"patch": twoFilePatch,
		"cwd":   "sub",
	})), &result))
	assert.True(t, result.Applied)

	data, err := os.ReadFile(filepath.Join(sb.Root(), "sub", "one.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new one\n", string(data))
}

func TestApplyPatchToolRejectsCwdEscape(t *testing.T) {
	sb := newTestSandbox(t)
	tool := NewApplyPatchTool(sb)

	var result PatchResult
	require.NoError(t, json.Unmarshal([]byte(tool.Execute(context.Background(), map[string]any{
		"patch": twoFilePatch,
		"cwd":   "../outside",
	})), &result))
	assert.False(t, result.Applied)
	assert.NotEmpty(t, result.Error)
}

func TestApplyPatchToolRejectsTraversal(t *testing.T) {
	sb := newTestSandbox(t)
	tool := NewApplyPatchTool(sb)

	patch := `diff --git a/../evil.txt b/../evil.txt
--- a/../evil.txt
+++ b/../evil.txt
@@ -0,0 +1 @@
+boom
`
	var result PatchResult
	require.NoError(t, json.Unmarshal([]byte(tool.Execute(context.Background(), map[string]any{"patch": patch})), &result))
	assert.False(t, result.Applied)
	assert.Contains(t, result.Error, "invalid path in patch")
}

func TestApplyPatchToolMismatch(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	sb := newTestSandbox(t)
	tool := NewApplyPatchTool(sb)

	require.NoError(t, os.WriteFile(filepath.Join(sb.Root(), "one.txt"), []byte("completely different\n"), 0o644))

	var result PatchResult
	require.NoError(t, json.Unmarshal([]byte(tool.Execute(context.Background(), map[string]any{"patch": twoFilePatch})), &result))
	assert.False(t, result.Applied)
	require.NotNil(t, result.ExitCode)
	assert.NotEqual(t, 0, *result.ExitCode)
}
