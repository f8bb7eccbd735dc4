package codeact

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// codeDiff renders a line diff between two versions of the generated code,
// with "+", "-" and " " prefixes, and counts the changed lines.
func codeDiff(before, after string) (string, int, int) {
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(beforeChars, afterChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var sb strings.Builder
	added, removed := 0, 0
	for _, d := range diffs {
		lines := strings.Split(d.Text, "\n")
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
			added += len(lines)
		case diffmatchpatch.DiffDelete:
			prefix = "- "
			removed += len(lines)
		case diffmatchpatch.DiffEqual:
		}
		for _, l := range lines {
			sb.WriteString(prefix)
			sb.WriteString(l)
			sb.WriteString("\n")
		}
	}
	return sb.String(), added, removed
}
