package testutils

import (
	"fmt"
	"strings"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
)

// TextAsserter compares command output line by line and reports a unified diff.
// Trailing whitespace on each line and trailing empty lines are ignored, which
// is what tabwriter output needs.
type TextAsserter struct {
	t TestingT
}

// NewTextAsserter creates a text asserter reporting through t.
func NewTextAsserter(t TestingT) *TextAsserter {
	return &TextAsserter{t: t}
}

// Assert fails the test when actual differs from expected.
func (ta *TextAsserter) Assert(actual, expected string) bool {
	ta.t.Helper()
	if diff := TextDiff(actual, expected); diff != "" {
		ta.t.Errorf("Text assertion failed - unified diff:\n%s", diff)
		return false
	}
	return true
}

// TextDiff returns a unified diff of the normalised texts, empty when equal.
func TextDiff(actual, expected string) string {
	a, e := normalizeText(actual), normalizeText(expected)
	if a == e {
		return ""
	}
	edits := myers.ComputeEdits("", e, a)
	return fmt.Sprint(gotextdiff.ToUnified("expected", "actual", e, edits))
}

func normalizeText(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n") + "\n"
}
