package pipeline

import (
	"log/slog"

	"github.com/pmezard/go-difflib/difflib"
)

// unifiedDiff renders the change between two document versions. Diff failure
// is non-fatal; the write has its own error path.
func unifiedDiff(filename, before, after string) string {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: filename + " (previous)",
		ToFile:   filename,
		Context:  3,
	})
	if err != nil {
		slog.Warn("pipeline: diff computation failed", "file", filename, "error", err)
		return ""
	}
	return text
}
