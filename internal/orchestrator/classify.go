package orchestrator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vsavkov/sitesmith/internal/diff"
	"github.com/vsavkov/sitesmith/internal/ledger"
	"github.com/vsavkov/sitesmith/internal/store"
)

// Size is the deterministic change classification driving the edit price.
type Size string

const (
	SizeSmall  Size = "small"
	SizeMedium Size = "medium"
	SizeLarge  Size = "large"
)

// Action maps the size onto its ledger action.
func (s Size) Action() ledger.Action {
	switch s {
	case SizeSmall:
		return ledger.ActionSmallEdit
	case SizeLarge:
		return ledger.ActionLargeEdit
	default:
		return ledger.ActionMediumEdit
	}
}

// Title renders the size capitalized for charge descriptions.
func (s Size) Title() string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s)[:1]) + string(s)[1:]
}

// sizeRule matches when the message contains a keyword or the change fits
// within both limits. A limit of -1 is unbounded.
type sizeRule struct {
	size     Size
	maxFiles int
	maxLines int
	keywords []string
}

// Rules are evaluated in order; the first match wins, so an oversized change
// with a "change" keyword still classifies small.
var sizeRules = []sizeRule{
	{SizeSmall, 1, 50, []string{"change", "update", "replace", "fix typo"}},
	{SizeMedium, 3, 200, []string{"add", "remove", "modify", "update component"}},
	{SizeLarge, -1, -1, []string{"refactor", "restructure", "redesign", "major"}},
}

// ClassifySize classifies a change set and returns the matched rule rendered
// for the credit-info response.
func ClassifySize(message string, d *store.CodeDiff) (Size, string) {
	lower := strings.ToLower(message)
	files := 0
	lines := 0
	if d != nil {
		files = len(d.Modified) + len(d.Added) + len(d.Deleted)
		lines = diff.ChangedLines(d)
	}

	for _, r := range sizeRules {
		keyword := false
		for _, k := range r.keywords {
			if strings.Contains(lower, k) {
				keyword = true
				break
			}
		}
		within := withinLimit(files, r.maxFiles) && withinLimit(lines, r.maxLines)
		if keyword || within {
			rule := fmt.Sprintf("%s: files=%d<=%s, lines=%d<=%s, pattern_match=%t",
				r.size, files, renderLimit(r.maxFiles), lines, renderLimit(r.maxLines), keyword)
			return r.size, rule
		}
	}
	return SizeMedium, "default: no rule matched"
}

func withinLimit(n, limit int) bool {
	return limit < 0 || n <= limit
}

func renderLimit(limit int) string {
	if limit < 0 {
		return "inf"
	}
	return strconv.Itoa(limit)
}
