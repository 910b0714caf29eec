// Package diff turns constrained prompts into file-level changes, applies
// them with a guaranteed revert path, and renders unified diffs. All writes
// go through the editable-file predicate so an edit can never escape the
// project directory or touch generated trees.
package diff

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Caps on a single change set.
const (
	MaxFilesPerChange = 10
	MaxLinesPerFile   = 1000
)

var allowedExtensions = map[string]bool{
	".ts":   true,
	".tsx":  true,
	".js":   true,
	".jsx":  true,
	".css":  true,
	".json": true,
	".md":   true,
	".txt":  true,
}

var forbiddenSegments = map[string]bool{
	"node_modules": true,
	".next":        true,
	".git":         true,
	"dist":         true,
	"build":        true,
}

var (
	ErrOutsideProject = errors.New("file path outside project directory")
	ErrForbiddenType  = errors.New("file type not allowed for edits")
	ErrForbiddenDir   = errors.New("file in forbidden directory")
)

// Editable reports whether path (relative to projectDir, or absolute) may be
// written by an edit. A path is editable iff its canonical form stays inside
// projectDir, its extension is in the allowed set, and no path segment names
// a generated or VCS tree.
func Editable(projectDir, path string) error {
	rel, err := confine(projectDir, path)
	if err != nil {
		return err
	}
	if ext := filepath.Ext(rel); !allowedExtensions[ext] {
		return fmt.Errorf("%w: %s", ErrForbiddenType, ext)
	}
	for _, seg := range strings.Split(rel, string(filepath.Separator)) {
		if forbiddenSegments[seg] {
			return fmt.Errorf("%w: %s", ErrForbiddenDir, seg)
		}
	}
	return nil
}

// Readable reports whether path may be read back and served to the project
// owner. Reads share the edit scope except for the extension restriction:
// the file browser shows configs and assets that edits may not touch.
func Readable(projectDir, path string) error {
	rel, err := confine(projectDir, path)
	if err != nil {
		return err
	}
	for _, seg := range strings.Split(rel, string(filepath.Separator)) {
		if forbiddenSegments[seg] {
			return fmt.Errorf("%w: %s", ErrForbiddenDir, seg)
		}
	}
	return nil
}

// SkipDir reports whether a directory entry belongs to a generated or VCS
// tree that listings leave out.
func SkipDir(name string) bool {
	return forbiddenSegments[name]
}

// confine canonicalizes path under projectDir and returns its in-project
// relative form. Symlinked paths are re-checked at their resolved location.
func confine(projectDir, path string) (string, error) {
	root, err := filepath.Abs(projectDir)
	if err != nil {
		return "", fmt.Errorf("resolve project dir: %w", err)
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, path)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(root, abs)
	if err != nil || escapes(rel) {
		return "", ErrOutsideProject
	}

	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		resolvedRoot, err := filepath.EvalSymlinks(root)
		if err != nil {
			return "", fmt.Errorf("resolve project dir: %w", err)
		}
		rel, err := filepath.Rel(resolvedRoot, resolved)
		if err != nil || escapes(rel) {
			return "", ErrOutsideProject
		}
	}
	return rel, nil
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
