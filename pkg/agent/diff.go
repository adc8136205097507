package agent

import (
	"github.com/pmezard/go-difflib/difflib"
)

// UnifiedDiff renders a git-style unified diff between two file states.
func UnifiedDiff(path, before, after string) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  3,
	})
}
