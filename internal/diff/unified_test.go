package diff

import (
	"reflect"
	"strings"
	"testing"
)

func TestUnifiedHeaders(t *testing.T) {
	text, err := Unified("a\nb\nc\n", "a\nB\nc\n", "components/hero.tsx")
	if err != nil {
		t.Fatalf("Unified = %v, want nil", err)
	}
	if !strings.Contains(text, "--- a/components/hero.tsx") || !strings.Contains(text, "+++ b/components/hero.tsx") {
		t.Fatalf("missing a/ b/ headers:\n%s", text)
	}
	if !strings.Contains(text, "-b\n") || !strings.Contains(text, "+B\n") {
		t.Fatalf("missing change lines:\n%s", text)
	}
}

func TestComputeCategoriesAreDisjoint(t *testing.T) {
	oldFiles := map[string]string{
		"kept.tsx":    "same\n",
		"changed.tsx": "one\ntwo\n",
		"gone.tsx":    "bye\n",
	}
	newFiles := map[string]string{
		"kept.tsx":    "same\n",
		"changed.tsx": "one\nTWO\n",
		"fresh.tsx":   "hi\n",
	}

	d, err := Compute(oldFiles, newFiles)
	if err != nil {
		t.Fatalf("Compute = %v, want nil", err)
	}
	if _, ok := d.Modified["changed.tsx"]; !ok {
		t.Fatalf("Modified missing changed.tsx: %v", d.Modified)
	}
	if _, ok := d.Modified["kept.tsx"]; ok {
		t.Fatal("unchanged file reported as modified")
	}
	if !reflect.DeepEqual(d.Added, []string{"fresh.tsx"}) {
		t.Fatalf("Added = %v, want [fresh.tsx]", d.Added)
	}
	if !reflect.DeepEqual(d.Deleted, []string{"gone.tsx"}) {
		t.Fatalf("Deleted = %v, want [gone.tsx]", d.Deleted)
	}
}

func TestComputeEmpty(t *testing.T) {
	files := map[string]string{"a.tsx": "x\n"}
	d, err := Compute(files, files)
	if err != nil {
		t.Fatalf("Compute = %v, want nil", err)
	}
	if !d.Empty() {
		t.Fatalf("identical snapshots produced non-empty diff: %+v", d)
	}
}

func TestChangedLines(t *testing.T) {
	oldFiles := map[string]string{"a.tsx": "one\ntwo\nthree\n"}
	newFiles := map[string]string{"a.tsx": "one\nTWO\nthree\nfour\n"}

	d, err := Compute(oldFiles, newFiles)
	if err != nil {
		t.Fatalf("Compute = %v, want nil", err)
	}
	// one line replaced (one - plus one +) and one added.
	if got := ChangedLines(d); got != 3 {
		t.Fatalf("ChangedLines = %d, want 3", got)
	}
	if got := ChangedLines(nil); got != 0 {
		t.Fatalf("ChangedLines(nil) = %d, want 0", got)
	}
}
