// pkg/charon_err/summary.go

package charon_err

import (
	"context"
	"strings"
)

// errorMarkers are scanned for, in order, when condensing command output
// into a one-line diagnostic for logs and ExecutionResults.
var errorMarkers = []string{"error", "failed", "fatal", "panic", "denied", "refused"}

// ExtractSummary condenses raw command output to the most relevant lines.
// maxCandidates bounds how many marker-matching lines are joined.
func ExtractSummary(ctx context.Context, output string, maxCandidates int) string {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return "no output"
	}
	if maxCandidates <= 0 {
		maxCandidates = 1
	}

	var candidates []string
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		for _, marker := range errorMarkers {
			if strings.Contains(lower, marker) {
				candidates = append(candidates, line)
				break
			}
		}
		if len(candidates) >= maxCandidates {
			break
		}
	}

	if len(candidates) == 0 {
		// Fall back to the last line, which is usually the verdict.
		lines := strings.Split(trimmed, "\n")
		return strings.TrimSpace(lines[len(lines)-1])
	}
	return strings.Join(candidates, "; ")
}
