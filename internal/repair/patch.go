package repair

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Caps on a single repair patch. A repair that needs more than this is not a
// mechanical fix and should fail the build instead.
const (
	MaxFilesPerRepair = 3
	MaxLinesPerRepair = 50
)

// Patch maps project-relative paths to full replacement contents.
type Patch map[string]string

// Generator produces bounded patches from a failure analysis.
type Generator struct {
	log zerolog.Logger
}

func NewGenerator(log zerolog.Logger) *Generator {
	return &Generator{log: log.With().Str("component", "repair").Logger()}
}

// Generate returns a patch for a fixable analysis, or nil when no safe
// mechanical fix exists. Exceeding either cap mid-generation discards the
// whole patch.
func (g *Generator) Generate(analysis Analysis, projectDir, buildLogs string) Patch {
	if !analysis.Fixable {
		return nil
	}

	patch := Patch{}
	filesChanged, linesChanged := 0, 0

	switch analysis.Kind {
	case KindMissingDependency:
		g.patchMissingDependency(patch, projectDir, buildLogs, &filesChanged)
	case KindSyntaxError:
		g.patchSyntaxError(patch, projectDir, buildLogs, &filesChanged, &linesChanged)
	case KindLintError:
		g.patchLintErrors(patch, projectDir, buildLogs, &filesChanged, &linesChanged)
	}

	if filesChanged > MaxFilesPerRepair || linesChanged > MaxLinesPerRepair {
		g.log.Warn().Int("files", filesChanged).Int("lines", linesChanged).Msg("repair caps exceeded, discarding patch")
		return nil
	}
	if len(patch) == 0 {
		return nil
	}
	return patch
}

// patchMissingDependency adds the module named in the logs to package.json
// with a placeholder version, iff it is not already a dependency.
func (g *Generator) patchMissingDependency(patch Patch, projectDir, buildLogs string, filesChanged *int) {
	m := modulePattern.FindStringSubmatch(buildLogs)
	if m == nil {
		return
	}
	base := m[1]
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.Index(base, "@"); i >= 0 {
		base = base[:i]
	}
	if base == "" {
		return
	}

	raw, err := os.ReadFile(filepath.Join(projectDir, "package.json"))
	if err != nil {
		g.log.Warn().Err(err).Msg("package.json unreadable, skipping dependency repair")
		return
	}
	var pkg map[string]any
	if err := json.Unmarshal(raw, &pkg); err != nil {
		g.log.Warn().Err(err).Msg("package.json unparseable, skipping dependency repair")
		return
	}
	deps, _ := pkg["dependencies"].(map[string]any)
	if deps == nil {
		deps = map[string]any{}
		pkg["dependencies"] = deps
	}
	if _, ok := deps[base]; ok {
		return
	}
	deps[base] = "^latest"

	out, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return
	}
	patch["package.json"] = string(out) + "\n"
	*filesChanged++
	g.log.Info().Str("module", base).Msg("repair adds dependency")
}

// patchSyntaxError rewrites the single line named in the error position,
// trying a trailing semicolon first and an unclosed quote second. The patch
// is kept only when the line text actually changes.
func (g *Generator) patchSyntaxError(patch Patch, projectDir, buildLogs string, filesChanged, linesChanged *int) {
	pos := syntaxPosPattern.FindStringSubmatch(buildLogs)
	file := stackFilePattern.FindStringSubmatch(buildLogs)
	if pos == nil || file == nil {
		return
	}
	rel := file[1]
	lines, ok := readLines(filepath.Join(projectDir, rel))
	if !ok {
		return
	}
	idx := atoi(pos[1]) - 1
	if idx < 0 || idx >= len(lines) {
		return
	}

	line := strings.TrimRight(lines[idx], " \t")
	switch {
	case !endsWithAny(line, ";", "{", "}", ")", "]", ","):
		lines[idx] = line + ";"
		*linesChanged++
	case strings.Count(line, `"`)%2 != 0:
		lines[idx] = line + `"`
		*linesChanged++
	default:
		return
	}

	patch[rel] = strings.Join(lines, "\n") + "\n"
	*filesChanged++
	g.log.Info().Str("file", rel).Int("line", idx+1).Msg("repair fixes syntax error")
}

// patchLintErrors applies up to three line-local lint fixes in the file
// named by the diagnostics.
func (g *Generator) patchLintErrors(patch Patch, projectDir, buildLogs string, filesChanged, linesChanged *int) {
	issues := lintIssuePattern.FindAllStringSubmatch(buildLogs, -1)
	file := sourceFilePattern.FindStringSubmatch(buildLogs)
	if len(issues) == 0 || file == nil {
		return
	}
	rel := file[1]
	lines, ok := readLines(filepath.Join(projectDir, rel))
	if !ok {
		return
	}

	fixes := 0
	for _, issue := range issues[:min(len(issues), 3)] {
		if fixes >= 3 || *linesChanged >= MaxLinesPerRepair {
			break
		}
		idx := atoi(issue[1]) - 1
		if idx < 0 || idx >= len(lines) {
			continue
		}
		msg := issue[3]
		switch {
		case strings.Contains(msg, "is assigned a value but never used"):
			lines[idx] = "// " + lines[idx]
			*linesChanged++
			fixes++
		case strings.Contains(strings.ToLower(msg), "missing return type") && !strings.Contains(lines[idx], ":"):
			lines[idx] = strings.ReplaceAll(lines[idx], "function", "function: any")
			*linesChanged++
			fixes++
		}
	}
	if fixes == 0 {
		return
	}

	patch[rel] = strings.Join(lines, "\n") + "\n"
	*filesChanged++
	g.log.Info().Str("file", rel).Int("fixes", fixes).Msg("repair fixes lint errors")
}

func readLines(path string) ([]string, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n"), true
}

func endsWithAny(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

// atoi converts a digits-only regex capture.
func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
