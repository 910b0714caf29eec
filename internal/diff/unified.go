package diff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/vsavkov/sitesmith/internal/store"
)

// Unified renders a unified diff between two contents of the same file, with
// the conventional a/ and b/ prefixes.
func Unified(oldContent, newContent, path string) (string, error) {
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldContent),
		B:        difflib.SplitLines(newContent),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return "", fmt.Errorf("diff %s: %w", path, err)
	}
	return text, nil
}

// Compute derives the structured change set between two file snapshots. The
// three categories are disjoint: a path is modified, added, or deleted,
// never more than one.
func Compute(oldFiles, newFiles map[string]string) (*store.CodeDiff, error) {
	d := &store.CodeDiff{
		Modified: map[string]string{},
		Added:    []string{},
		Deleted:  []string{},
	}
	for path, oldContent := range oldFiles {
		newContent, ok := newFiles[path]
		if !ok {
			d.Deleted = append(d.Deleted, path)
			continue
		}
		if oldContent != newContent {
			text, err := Unified(oldContent, newContent, path)
			if err != nil {
				return nil, err
			}
			d.Modified[path] = text
		}
	}
	for path := range newFiles {
		if _, ok := oldFiles[path]; !ok {
			d.Added = append(d.Added, path)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Deleted)
	return d, nil
}

// ChangedLines counts added and removed lines across all modified-file
// diffs, for change-size classification.
func ChangedLines(d *store.CodeDiff) int {
	if d == nil {
		return 0
	}
	total := 0
	for _, text := range d.Modified {
		total += countPrefixed(text)
	}
	return total
}

func countPrefixed(diffText string) int {
	count := 0
	for _, line := range strings.Split(diffText, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			// headers
		case strings.HasPrefix(line, "+"), strings.HasPrefix(line, "-"):
			count++
		}
	}
	return count
}
