package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	searchMaxResults  = 100
	searchMaxFileSize = 1 << 20
)

// SearchFilesTool scans workspace files for a substring, optionally
// restricted by a doublestar glob.
type SearchFilesTool struct {
	sandbox *Sandbox
}

// NewSearchFilesTool creates a search_files tool.
func NewSearchFilesTool(sandbox *Sandbox) *SearchFilesTool {
	return &SearchFilesTool{sandbox: sandbox}
}

func (t *SearchFilesTool) Name() string { return "search_files" }

func (t *SearchFilesTool) Description() string {
	return "Search workspace files for a text query. Returns matching lines as path:line: text."
}

func (t *SearchFilesTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"query": map[string]any{
			"type":        "string",
			"description": "Text to search for (case-insensitive)",
		},
		"glob": map[string]any{
			"type":        "string",
			"description": "Optional glob pattern restricting the files searched, e.g. **/*.go",
		},
	}, "query")
}

func (t *SearchFilesTool) Execute(ctx context.Context, params map[string]any) string {
	query, errText := stringParam(params, "query")
	if errText != "" {
		return errText
	}
	if query == "" {
		return "Error: query is required"
	}

	pattern := "**/*"
	if raw, ok := params["glob"].(string); ok && raw != "" {
		if !doublestar.ValidatePattern(raw) {
			return fmt.Sprintf("Error: invalid glob pattern: %s", raw)
		}
		pattern = raw
	}

	matches, err := doublestar.Glob(os.DirFS(t.sandbox.Root()), pattern)
	if err != nil {
		return fmt.Sprintf("Error searching files: %v", err)
	}

	lowered := strings.ToLower(query)
	var results []string
	for _, rel := range matches {
		if ctx.Err() != nil {
			break
		}
		if len(results) >= searchMaxResults {
			break
		}
		full := filepath.Join(t.sandbox.Root(), filepath.FromSlash(rel))
		info, err := os.Stat(full)
		if err != nil || info.IsDir() || info.Size() > searchMaxFileSize {
			continue
		}
		results = append(results, searchFile(full, rel, lowered, searchMaxResults-len(results))...)
	}

	if len(results) == 0 {
		return "No matches found"
	}
	return strings.Join(results, "\n")
}

func searchFile(full, rel, lowered string, limit int) []string {
	f, err := os.Open(full)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), searchMaxFileSize)
	lineNo := 0
	for scanner.Scan() && len(out) < limit {
		lineNo++
		line := scanner.Text()
		if strings.Contains(line, "\x00") {
			return nil // binary file
		}
		if strings.Contains(strings.ToLower(line), lowered) {
			out = append(out, fmt.Sprintf("%s:%d: %s", rel, lineNo, strings.TrimSpace(line)))
		}
	}
	return out
}
