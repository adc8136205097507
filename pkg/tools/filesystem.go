package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadFileTool reads file contents from the sandboxed workspace.
type ReadFileTool struct {
	sandbox *Sandbox
}

// NewReadFileTool creates a read_file tool.
func NewReadFileTool(sandbox *Sandbox) *ReadFileTool {
	return &ReadFileTool{sandbox: sandbox}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file at the given path."
}

func (t *ReadFileTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"path": map[string]any{
			"type":        "string",
			"description": "The file path to read",
		},
	}, "path")
}

func (t *ReadFileTool) Execute(ctx context.Context, params map[string]any) string {
	path, errText := stringParam(params, "path")
	if errText != "" {
		return errText
	}
	resolved, errText := t.sandbox.Resolve(path)
	if errText != "" {
		return errText
	}

	info, err := os.Stat(resolved)
	if os.IsNotExist(err) {
		return fmt.Sprintf("Error: File not found: %s", t.sandbox.Display(resolved))
	}
	if err != nil {
		return fmt.Sprintf("Error reading file: %v", err)
	}
	if info.IsDir() {
		return fmt.Sprintf("Error: Not a file: %s", t.sandbox.Display(resolved))
	}

	content, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsPermission(err) {
			return fmt.Sprintf("Error: Permission denied: %s", t.sandbox.Display(resolved))
		}
		return fmt.Sprintf("Error reading file: %v", err)
	}
	return string(content)
}

// WriteFileTool writes content to a file, creating parent directories.
type WriteFileTool struct {
	sandbox *Sandbox
}

// NewWriteFileTool creates a write_file tool.
func NewWriteFileTool(sandbox *Sandbox) *WriteFileTool {
	return &WriteFileTool{sandbox: sandbox}
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file at the given path. Creates parent directories if needed."
}

func (t *WriteFileTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"path": map[string]any{
			"type":        "string",
			"description": "The file path to write to",
		},
		"content": map[string]any{
			"type":        "string",
			"description": "The content to write",
		},
	}, "path", "content")
}

func (t *WriteFileTool) Execute(ctx context.Context, params map[string]any) string {
	path, errText := stringParam(params, "path")
	if errText != "" {
		return errText
	}
	content, errText := stringParam(params, "content")
	if errText != "" {
		return errText
	}
	resolved, errText := t.sandbox.Resolve(path)
	if errText != "" {
		return errText
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Sprintf("Error writing file: %v", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		if os.IsPermission(err) {
			return fmt.Sprintf("Error: Permission denied: %s", t.sandbox.Display(resolved))
		}
		return fmt.Sprintf("Error writing file: %v", err)
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), t.sandbox.Display(resolved))
}

// EditFileTool replaces one exact occurrence of old_text with new_text.
type EditFileTool struct {
	sandbox *Sandbox
}

// NewEditFileTool creates an edit_file tool.
func NewEditFileTool(sandbox *Sandbox) *EditFileTool {
	return &EditFileTool{sandbox: sandbox}
}

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Description() string {
	return "Edit a file by replacing old_text with new_text. The old_text must exist exactly in the file."
}

func (t *EditFileTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"path": map[string]any{
			"type":        "string",
			"description": "The file path to edit",
		},
		"old_text": map[string]any{
			"type":        "string",
			"description": "The exact text to find and replace",
		},
		"new_text": map[string]any{
			"type":        "string",
			"description": "The text to replace with",
		},
	}, "path", "old_text", "new_text")
}

func (t *EditFileTool) Execute(ctx context.Context, params map[string]any) string {
	path, errText := stringParam(params, "path")
	if errText != "" {
		return errText
	}
	oldText, errText := stringParam(params, "old_text")
	if errText != "" {
		return errText
	}
	newText, errText := stringParam(params, "new_text")
	if errText != "" {
		return errText
	}
	resolved, errText := t.sandbox.Resolve(path)
	if errText != "" {
		return errText
	}

	raw, err := os.ReadFile(resolved)
	if os.IsNotExist(err) {
		return fmt.Sprintf("Error: File not found: %s", t.sandbox.Display(resolved))
	}
	if err != nil {
		return fmt.Sprintf("Error editing file: %v", err)
	}

	content := string(raw)
	count := strings.Count(content, oldText)
	if count == 0 {
		return "Error: old_text not found in file. Make sure it matches exactly."
	}
	if count > 1 {
		return fmt.Sprintf("Warning: old_text appears %d times. Please provide more context to make it unique.", count)
	}

	updated := strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return fmt.Sprintf("Error editing file: %v", err)
	}
	return fmt.Sprintf("Successfully edited %s", t.sandbox.Display(resolved))
}

// ListDirTool lists directory entries, directories suffixed with a slash.
type ListDirTool struct {
	sandbox *Sandbox
}

// NewListDirTool creates a list_dir tool.
func NewListDirTool(sandbox *Sandbox) *ListDirTool {
	return &ListDirTool{sandbox: sandbox}
}

func (t *ListDirTool) Name() string { return "list_dir" }

func (t *ListDirTool) Description() string {
	return "List the contents of a directory."
}

func (t *ListDirTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"path": map[string]any{
			"type":        "string",
			"description": "The directory path to list",
		},
	}, "path")
}

func (t *ListDirTool) Execute(ctx context.Context, params map[string]any) string {
	path, errText := stringParam(params, "path")
	if errText != "" {
		return errText
	}
	resolved, errText := t.sandbox.Resolve(path)
	if errText != "" {
		return errText
	}

	entries, err := os.ReadDir(resolved)
	if os.IsNotExist(err) {
		return fmt.Sprintf("Error: Directory not found: %s", t.sandbox.Display(resolved))
	}
	if err != nil {
		if os.IsPermission(err) {
			return fmt.Sprintf("Error: Permission denied: %s", t.sandbox.Display(resolved))
		}
		return fmt.Sprintf("Error listing directory: %v", err)
	}

	if len(entries) == 0 {
		return fmt.Sprintf("Directory %s is empty", t.sandbox.Display(resolved))
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return strings.Join(names, "\n")
}
