package diff

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// The supported prompt grammar. Keywords match case-insensitively; captured
// values keep the author's casing.
var (
	changePattern = regexp.MustCompile(`(?i)\bchange\s+(\w+)\s+(\w+)\s+to\s+"?([^"]+)"?`)
	updatePattern = regexp.MustCompile(`(?i)\bupdate\s+"?([^"]+)"?\s+to\s+"?([^"]+)"?`)
)

// titlePatterns are tried in order; the first that matches the component
// source wins.
var titlePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(<h1[^>]*>)([^<]+)(</h1>)`),
	regexp.MustCompile(`("title":\s*")([^"]+)(")`),
	regexp.MustCompile(`(title\s*=\s*")([^"]+)(")`),
}

var ErrUnsupportedPrompt = errors.New(`prompt does not match any supported pattern; supported: 'change <component> <field> to <value>' or 'update "<old>" to "<new>"'`)

// GenerateChanges translates a prompt into a map of relative path to full
// replacement content. The prompt must match one of the two grammar forms;
// anything else fails with ErrUnsupportedPrompt rather than guessing.
func GenerateChanges(projectDir, prompt string) (map[string]string, error) {
	changes := map[string]string{}

	if m := changePattern.FindStringSubmatch(prompt); m != nil {
		component := strings.ToLower(m[1])
		field := strings.ToLower(m[2])
		value := strings.TrimSpace(m[3])

		rel, ok := findComponentFile(projectDir, component)
		if !ok {
			return nil, fmt.Errorf("component %q not found", component)
		}
		if err := Editable(projectDir, rel); err != nil {
			return nil, fmt.Errorf("cannot edit %s: %w", rel, err)
		}
		if field != "title" {
			return nil, fmt.Errorf("field %q is not editable; only \"title\" is supported", field)
		}

		raw, err := os.ReadFile(filepath.Join(projectDir, rel))
		if err != nil {
			return nil, fmt.Errorf("read component %s: %w", rel, err)
		}
		content := string(raw)

		replaced := false
		for _, pat := range titlePatterns {
			if !pat.MatchString(content) {
				continue
			}
			content = pat.ReplaceAllStringFunc(content, func(match string) string {
				sub := pat.FindStringSubmatch(match)
				return sub[1] + value + sub[3]
			})
			replaced = true
			break
		}
		if !replaced {
			return nil, fmt.Errorf("no title found in %s component to change", component)
		}
		changes[rel] = content

	} else if m := updatePattern.FindStringSubmatch(prompt); m != nil {
		oldText := m[1]
		newText := m[2]

		matches, err := doublestar.Glob(os.DirFS(projectDir), "**/*.tsx")
		if err != nil {
			return nil, fmt.Errorf("scan project files: %w", err)
		}
		found := false
		for _, rel := range matches {
			if Editable(projectDir, rel) != nil {
				continue
			}
			raw, err := os.ReadFile(filepath.Join(projectDir, rel))
			if err != nil {
				continue
			}
			content := string(raw)
			if strings.Contains(content, oldText) {
				changes[rel] = strings.ReplaceAll(content, oldText, newText)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("text %q not found in any files", oldText)
		}

	} else {
		return nil, ErrUnsupportedPrompt
	}

	if len(changes) > MaxFilesPerChange {
		return nil, fmt.Errorf("too many files to change (%d > %d)", len(changes), MaxFilesPerChange)
	}
	return changes, nil
}

// findComponentFile locates a component source by name. Fixed candidate
// locations are tried first, then a recursive glob as a last resort.
func findComponentFile(projectDir, name string) (string, bool) {
	candidates := []string{
		filepath.Join("components", "sections", name+".tsx"),
		filepath.Join("components", "sections", capitalize(name)+".tsx"),
		filepath.Join("app", name, "page.tsx"),
		filepath.Join("components", name+".tsx"),
	}
	for _, rel := range candidates {
		if isRegularFile(filepath.Join(projectDir, rel)) {
			return rel, true
		}
	}

	matches, err := doublestar.Glob(os.DirFS(projectDir), "**/*"+name+"*.tsx")
	if err != nil {
		return "", false
	}
	for _, rel := range matches {
		if isRegularFile(filepath.Join(projectDir, rel)) && Editable(projectDir, rel) == nil {
			return rel, true
		}
	}
	return "", false
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
