package diff

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/zeebo/blake3"
)

// Snapshot reads every in-scope text file under projectDir, keyed by
// slash-separated relative path. Hidden entries, generated trees, and binary
// content are skipped.
func Snapshot(projectDir string) (map[string]string, error) {
	files := map[string]string{}
	err := filepath.WalkDir(projectDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != projectDir && (forbiddenSegments[name] || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !d.Type().IsRegular() {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if !utf8.Valid(raw) {
			return nil
		}
		rel, err := filepath.Rel(projectDir, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(raw)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", projectDir, err)
	}
	return files, nil
}

// Fingerprint digests a snapshot into a stable hex string. Paths are hashed
// in sorted order with length prefixes, so equal trees fingerprint equal no
// matter how the map was assembled.
func Fingerprint(files map[string]string) string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := blake3.New()
	for _, p := range paths {
		fmt.Fprintf(h, "%d:%s", len(p), p)
		fmt.Fprintf(h, "%d:", len(files[p]))
		io.WriteString(h, files[p])
	}
	return hex.EncodeToString(h.Sum(nil))
}
