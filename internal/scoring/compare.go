// Package scoring holds the pure grading arithmetic: output comparison,
// complexity estimation and the three-part score.
package scoring

import (
	"regexp"
	"strings"
)

var newlineRuns = regexp.MustCompile(`\n+`)

// Normalize trims the output, converts CRLF and CR line endings to LF and
// collapses runs of newlines into one.
func Normalize(output string) string {
	normalized := strings.TrimSpace(output)
	normalized = strings.ReplaceAll(normalized, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	normalized = newlineRuns.ReplaceAllString(normalized, "\n")
	return strings.TrimSpace(normalized)
}

// Compare reports whether actual and expected are equal after normalisation.
func Compare(actual, expected string) bool {
	return Normalize(actual) == Normalize(expected)
}
