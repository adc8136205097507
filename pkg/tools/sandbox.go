package tools

import (
	"os"
	"path/filepath"
	"strings"
)

// Sandbox confines all filesystem-touching tools to one allowed root. The
// root is resolved once at construction; every call re-validates its input
// against it.
type Sandbox struct {
	root string
}

// NewSandbox resolves the root (following symlinks) and returns a sandbox.
func NewSandbox(root string) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &Sandbox{root: abs}, nil
}

// Root returns the resolved allowed root.
func (s *Sandbox) Root() string {
	return s.root
}

// Resolve maps a user-supplied path to an absolute path inside the root.
// Relative paths are interpreted relative to the root. The second return is
// a tool error string, empty on success.
func (s *Sandbox) Resolve(raw string) (string, string) {
	if raw == "" {
		return "", "Error: path is required"
	}

	p := expandHome(raw)
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.root, p)
	}
	p = filepath.Clean(p)

	resolved := resolveSymlinks(p)
	if resolved != s.root && !strings.HasPrefix(resolved, s.root+string(filepath.Separator)) {
		return "", "Error: path is outside allowed root"
	}
	return resolved, ""
}

// Display returns the root-relative slash path used in tool output and
// artifact records.
func (s *Sandbox) Display(path string) string {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p[1:], "/"))
		}
	}
	return p
}

// resolveSymlinks resolves the deepest existing ancestor so symlinked
// escapes are caught even for paths that do not exist yet.
func resolveSymlinks(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	dir, base := filepath.Split(filepath.Clean(p))
	dir = strings.TrimSuffix(dir, string(filepath.Separator))
	if dir == "" || dir == p {
		return p
	}
	return filepath.Join(resolveSymlinks(dir), base)
}
