package diff

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vsavkov/sitesmith/internal/execx"
)

// verifyTimeout bounds the post-apply lint run. A linter that cannot finish
// in time skips verification instead of failing the change set.
const verifyTimeout = 30 * time.Second

const verifyOutputLimit = 500

// LocalVerifyError reports a lint failure observed after a change set was
// written. The project directory has already been restored when this is
// returned.
type LocalVerifyError struct {
	Output string
}

func (e *LocalVerifyError) Error() string {
	return "local verification failed: " + e.Output
}

// Applier writes change sets into a project directory as a transaction:
// originals are saved before the first write, and any failure on the way to
// a verified state restores them.
type Applier struct {
	log zerolog.Logger

	// verify is replaced in tests to avoid a real npm dependency.
	verify func(ctx context.Context, dir string) error
}

func NewApplier(log zerolog.Logger) *Applier {
	a := &Applier{log: log.With().Str("component", "diff").Logger()}
	a.verify = a.runLint
	return a
}

// Apply validates every path in changes against the edit scope, saves the
// current contents, writes the new contents in one pass, and runs local
// verification. On any failure the directory is restored before returning.
// On success the returned revert rolls the writes back, for callers whose
// follow-up work fails after the files already changed.
func (a *Applier) Apply(ctx context.Context, projectDir string, changes map[string]string) (revert func() error, err error) {
	if len(changes) == 0 {
		return nil, errors.New("empty change set")
	}
	if len(changes) > MaxFilesPerChange {
		return nil, fmt.Errorf("too many files to change (%d > %d)", len(changes), MaxFilesPerChange)
	}

	paths := make([]string, 0, len(changes))
	for rel := range changes {
		paths = append(paths, rel)
	}
	sort.Strings(paths)

	// Validate the whole set before touching the disk.
	for _, rel := range paths {
		if err := Editable(projectDir, rel); err != nil {
			return nil, fmt.Errorf("cannot edit %s: %w", rel, err)
		}
		if n := strings.Count(changes[rel], "\n") + 1; n > MaxLinesPerFile {
			return nil, fmt.Errorf("%s: too many lines (%d > %d)", rel, n, MaxLinesPerFile)
		}
	}

	originals := map[string]string{}
	var created []string
	for _, rel := range paths {
		abs := filepath.Join(projectDir, rel)
		raw, err := os.ReadFile(abs)
		switch {
		case err == nil:
			originals[rel] = string(raw)
		case errors.Is(err, fs.ErrNotExist):
			created = append(created, rel)
		default:
			a.restoreOrLog(projectDir, originals, created)
			return nil, fmt.Errorf("read %s: %w", rel, err)
		}

		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			a.restoreOrLog(projectDir, originals, created)
			return nil, fmt.Errorf("create parent of %s: %w", rel, err)
		}
		if err := os.WriteFile(abs, []byte(changes[rel]), 0o644); err != nil {
			a.restoreOrLog(projectDir, originals, created)
			return nil, fmt.Errorf("write %s: %w", rel, err)
		}
	}

	if err := a.verify(ctx, projectDir); err != nil {
		a.restoreOrLog(projectDir, originals, created)
		return nil, err
	}

	a.log.Debug().Int("files", len(paths)).Str("dir", projectDir).Msg("change set applied")
	return func() error { return a.restore(projectDir, originals, created) }, nil
}

func (a *Applier) restoreOrLog(projectDir string, originals map[string]string, created []string) {
	if err := a.restore(projectDir, originals, created); err != nil {
		a.log.Error().Err(err).Str("dir", projectDir).Msg("restore after failed apply")
	}
}

// restore puts back saved contents and removes files the apply created, so
// the on-disk file set matches the pre-apply snapshot.
func (a *Applier) restore(projectDir string, originals map[string]string, created []string) error {
	var firstErr error
	for rel, content := range originals {
		if err := os.WriteFile(filepath.Join(projectDir, rel), []byte(content), 0o644); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("restore %s: %w", rel, err)
		}
	}
	root := filepath.Clean(projectDir)
	for _, rel := range created {
		abs := filepath.Join(root, rel)
		if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) && firstErr == nil {
			firstErr = fmt.Errorf("remove %s: %w", rel, err)
		}
		// Prune directories the write created. Remove stops at the first
		// non-empty parent.
		for dir := filepath.Dir(abs); dir != root && strings.HasPrefix(dir, root+string(filepath.Separator)); dir = filepath.Dir(dir) {
			if os.Remove(dir) != nil {
				break
			}
		}
	}
	return firstErr
}

// runLint runs the project linter when npm is on PATH. Only a clean non-zero
// exit inside the time budget fails verification; a missing toolchain or a
// timeout skips it.
func (a *Applier) runLint(ctx context.Context, dir string) error {
	if !execx.Available("npm") {
		return nil
	}
	res, err := execx.RunShell(ctx, dir, verifyTimeout, "npm run lint")
	if err == nil {
		return nil
	}
	if res.TimedOut {
		a.log.Warn().Str("dir", dir).Msg("lint verification timed out, skipping")
		return nil
	}
	var ce *execx.CommandError
	if errors.As(err, &ce) && res.ExitCode > 0 {
		out := strings.TrimSpace(res.Stderr)
		if out == "" {
			out = strings.TrimSpace(res.Stdout)
		}
		return &LocalVerifyError{Output: truncate(out, verifyOutputLimit)}
	}
	a.log.Warn().Err(err).Str("dir", dir).Msg("lint verification unavailable, skipping")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
