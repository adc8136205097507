package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

var (
	diffStartRe = regexp.MustCompile(`^diff --git a/(.+?) b/(.+?)$`)
	plusFileRe  = regexp.MustCompile(`^\+\+\+ b/(.+)$`)
	drivePathRe = regexp.MustCompile(`^[A-Za-z]:\\`)
)

// PatchFile is one per-file section of a patch.
type PatchFile struct {
	Path string `json:"path"`
	Diff string `json:"diff"`
}

// PatchResult is the JSON document apply_patch returns.
type PatchResult struct {
	Applied  bool        `json:"applied"`
	Files    []PatchFile `json:"files"`
	Stdout   string      `json:"stdout,omitempty"`
	Stderr   string      `json:"stderr,omitempty"`
	ExitCode *int        `json:"exit_code,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// ApplyPatchTool applies a unified diff atomically via git apply. Partial
// application never happens: git apply validates the whole patch before
// touching any file.
type ApplyPatchTool struct {
	sandbox *Sandbox
}

// NewApplyPatchTool creates an apply_patch tool.
func NewApplyPatchTool(sandbox *Sandbox) *ApplyPatchTool {
	return &ApplyPatchTool{sandbox: sandbox}
}

func (t *ApplyPatchTool) Name() string { return "apply_patch" }

func (t *ApplyPatchTool) Description() string {
	return "Apply a unified diff patch to the workspace (git apply)."
}

func (t *ApplyPatchTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"patch": map[string]any{
			"type":        "string",
			"description": "Unified diff to apply",
		},
		"cwd": map[string]any{
			"type":        "string",
			"description": "Directory within the workspace to apply the patch from (default: workspace root)",
		},
	}, "patch")
}

func (t *ApplyPatchTool) Execute(ctx context.Context, params map[string]any) string {
	patch, errText := stringParam(params, "patch")
	if errText != "" {
		return errText
	}

	files := ExtractFilesFromPatch(patch)
	for _, f := range files {
		if reason := validatePatchPath(f.Path); reason != "" {
			return marshalPatchResult(PatchResult{
				Applied: false,
				Files:   files,
				Error:   fmt.Sprintf("invalid path in patch: %s", reason),
			})
		}
	}

	dir := t.sandbox.Root()
	if cwd, ok := params["cwd"].(string); ok && cwd != "" {
		resolved, errText := t.sandbox.Resolve(cwd)
		if errText != "" {
			return marshalPatchResult(PatchResult{
				Applied: false,
				Files:   files,
				Error:   errText,
			})
		}
		dir = resolved
	}

	cmd := exec.CommandContext(ctx, "git", "apply", "--whitespace=nowarn", "-")
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(patch)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		return marshalPatchResult(PatchResult{
			Applied: false,
			Files:   files,
			Error:   err.Error(),
		})
	}

	return marshalPatchResult(PatchResult{
		Applied:  exitCode == 0,
		Files:    files,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: &exitCode,
	})
}

// ExtractFilesFromPatch splits a patch into per-file sections on diff --git
// markers, preferring the b/ path. Patches without diff --git lines fall
// back to the +++ b/ header; a completely headerless patch yields a single
// pathless section.
func ExtractFilesFromPatch(patch string) []PatchFile {
	lines := strings.Split(patch, "\n")
	var files []PatchFile
	var curPath string
	var curLines []string

	flush := func() {
		if curPath != "" && len(curLines) > 0 {
			files = append(files, PatchFile{
				Path: curPath,
				Diff: strings.Join(curLines, "\n") + "\n",
			})
		}
		curPath = ""
		curLines = nil
	}

	for _, line := range lines {
		if m := diffStartRe.FindStringSubmatch(line); m != nil {
			flush()
			curPath = m[2]
			curLines = append(curLines, line)
			continue
		}
		if curPath == "" {
			if m := plusFileRe.FindStringSubmatch(line); m != nil {
				curPath = m[1]
			}
		}
		curLines = append(curLines, line)
	}
	flush()

	if len(files) == 0 {
		if !strings.HasSuffix(patch, "\n") {
			patch += "\n"
		}
		return []PatchFile{{Path: "", Diff: patch}}
	}
	return files
}

// validatePatchPath rejects absolute paths, Windows drive prefixes, and
// traversal segments. Returns the rejection reason, empty when valid.
func validatePatchPath(path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "/") || strings.HasPrefix(path, `\`) || drivePathRe.MatchString(path) {
		return "absolute paths are not allowed"
	}
	for _, part := range strings.Split(path, "/") {
		if part == ".." {
			return "path traversal is not allowed"
		}
	}
	return ""
}

func marshalPatchResult(result PatchResult) string {
	out, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf(`{"applied":false,"error":%q}`, err.Error())
	}
	return string(out)
}
