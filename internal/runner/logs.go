package runner

import "strings"

// SplitLintOutput extracts the lint segment from combined build logs: lines
// from the first lint token onward, truncated at the first blank line after
// an error or warning has been seen.
func SplitLintOutput(logs string) string {
	var out []string
	inLint, sawIssue := false, false
	for _, line := range strings.Split(logs, "\n") {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "lint") {
			inLint = true
		}
		if !inLint {
			continue
		}
		if strings.TrimSpace(line) == "" && sawIssue {
			break
		}
		out = append(out, line)
		if strings.Contains(lower, "error") || strings.Contains(lower, "warning") {
			sawIssue = true
		}
	}
	return strings.Join(out, "\n")
}

// SplitBuildOutput extracts the production-build segment: every line from
// the first "next build" or "npm run build" marker onward.
func SplitBuildOutput(logs string) string {
	var out []string
	inBuild := false
	for _, line := range strings.Split(logs, "\n") {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "next build") || strings.Contains(lower, "npm run build") {
			inBuild = true
		}
		if inBuild {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
