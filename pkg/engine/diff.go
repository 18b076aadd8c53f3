package engine

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// NoChanges is the diff text when the revision equals the original.
const NoChanges = "No changes detected."

// DiffContext is the number of unchanged lines around each hunk.
const DiffContext = 3

// DiffResult is a line-based unified diff with change statistics.
type DiffResult struct {
	Original string
	Revised  string
	Unified  string
	Added    int
	Removed  int
	Err      error
}

// Changed reports whether the diff has any added or removed line.
func (d DiffResult) Changed() bool {
	return d.Added > 0 || d.Removed > 0
}

// String renders the diff followed by the change summary line.
func (d DiffResult) String() string {
	if !d.Changed() {
		return d.Unified
	}
	return d.Unified + fmt.Sprintf("\n📊 Changes: +%d additions, -%d deletions", d.Added, d.Removed)
}

var unifiedDiff = difflib.GetUnifiedDiffString

// Diff computes the unified diff between original and revised. label names the
// artifact in the --- / +++ headers.
func Diff(original, revised, label string) DiffResult {
	res := DiffResult{Original: original, Revised: revised, Unified: NoChanges}
	if original == revised {
		return res
	}

	text, err := unifiedDiff(difflib.UnifiedDiff{
		A:        splitLines(original),
		B:        splitLines(revised),
		FromFile: label + " (original)",
		ToFile:   label + " (modified)",
		Context:  DiffContext,
	})
	if err != nil {
		res.Err = err
		res.Unified = fmt.Sprintf("Diff failed: %v", err)
		return res
	}
	if text == "" {
		return res
	}

	res.Unified = text
	res.Added, res.Removed = countChanges(text)
	return res
}

// countChanges counts +/- lines, skipping the +++ and --- headers.
func countChanges(unified string) (added, removed int) {
	for _, line := range strings.Split(unified, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return added, removed
}

// splitLines keeps line endings and terminates the last line, so a missing
// trailing newline does not show up as a change.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if last := lines[len(lines)-1]; !strings.HasSuffix(last, "\n") {
		lines[len(lines)-1] = last + "\n"
	}
	return lines
}
