// Package repair classifies failed build attempts and generates small
// mechanical patches for the failure classes that are worth retrying. Patch
// generation is deliberately bounded; anything it cannot fix within the caps
// ends the repair cycle instead of growing the change.
package repair

import (
	"regexp"
	"strings"
)

// Kind names a failure class recognized in build output.
type Kind string

const (
	KindMissingDependency Kind = "missing_dependency"
	KindSyntaxError       Kind = "syntax_error"
	KindTypeError         Kind = "type_error"
	KindLintError         Kind = "lint_error"
	KindImportError       Kind = "import_error"
	KindUnknown           Kind = "unknown"
)

// Analysis is the classification of one failed attempt. Fixable reports
// whether patch generation has a move to make for this class.
type Analysis struct {
	Kind        Kind
	Suggestions []string
	Confidence  float64
	Fixable     bool
}

var (
	modulePattern     = regexp.MustCompile(`Cannot find module ['"]([^'"]+)['"]`)
	syntaxPosPattern  = regexp.MustCompile(`SyntaxError.*?\((\d+):(\d+)\)`)
	tsCodePattern     = regexp.MustCompile(`\bTS\d+`)
	tsPosPattern      = regexp.MustCompile(`TS\d+.*?\((\d+):(\d+)\)`)
	lintIssuePattern  = regexp.MustCompile(`(?m)(\d+):(\d+)\s+error\s+(.+)$`)
	stackFilePattern  = regexp.MustCompile(`at\s+([^\s]+\.(?:tsx?|jsx?))`)
	sourceFilePattern = regexp.MustCompile(`([^\s]+\.(?:tsx?|jsx?))`)
)

// Analyze classifies a failed attempt from its combined logs. Classes are
// checked from most to least specific signature; the first hit wins.
func Analyze(buildLogs, lintOutput, buildOutput string) Analysis {
	logs := buildLogs + "\n" + lintOutput + "\n" + buildOutput
	lower := strings.ToLower(logs)

	switch {
	case strings.Contains(logs, "Cannot find module") || strings.Contains(logs, "Module not found"):
		a := Analysis{Kind: KindMissingDependency, Confidence: 0.7}
		if m := modulePattern.FindStringSubmatch(logs); m != nil {
			a.Suggestions = []string{"Add missing dependency: " + m[1]}
			a.Confidence = 0.8
			a.Fixable = true
		} else {
			a.Suggestions = []string{"Add missing dependency to package.json"}
		}
		return a

	case strings.Contains(logs, "SyntaxError") || strings.Contains(logs, "Unexpected token"):
		a := Analysis{Kind: KindSyntaxError, Confidence: 0.7}
		if m := syntaxPosPattern.FindStringSubmatch(logs); m != nil {
			a.Suggestions = []string{"Fix syntax error around line " + m[1]}
			a.Confidence = 0.8
			// A located error gives the patcher a line to work on.
			a.Fixable = true
		} else {
			a.Suggestions = []string{"Fix syntax error in source code"}
		}
		return a

	case strings.Contains(logs, "Type error") || strings.Contains(logs, "TypeError") || tsCodePattern.MatchString(logs):
		a := Analysis{Kind: KindTypeError, Confidence: 0.5}
		if m := tsPosPattern.FindStringSubmatch(logs); m != nil {
			a.Suggestions = []string{"Fix TypeScript error at line " + m[1]}
			a.Confidence = 0.6
		} else {
			a.Suggestions = []string{"Fix TypeScript type errors"}
		}
		return a

	case strings.Contains(lower, "eslint"):
		a := Analysis{Kind: KindLintError, Confidence: 0.8}
		matches := lintIssuePattern.FindAllStringSubmatch(logs, -1)
		if len(matches) > 0 {
			for _, m := range matches[:min(len(matches), 3)] {
				a.Suggestions = append(a.Suggestions, "Line "+m[1]+": "+strings.TrimSpace(m[3]))
			}
			a.Confidence = 0.9
			a.Fixable = true
		} else {
			a.Suggestions = []string{"Fix ESLint errors"}
		}
		return a

	case strings.Contains(lower, "import") && strings.Contains(lower, "error"):
		return Analysis{Kind: KindImportError, Suggestions: []string{"Fix import statements"}, Confidence: 0.6}
	}

	return Analysis{Kind: KindUnknown}
}
