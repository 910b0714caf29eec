package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vsavkov/sitesmith/internal/diff"
	"github.com/vsavkov/sitesmith/internal/ledger"
	"github.com/vsavkov/sitesmith/internal/runner"
	"github.com/vsavkov/sitesmith/internal/store"
)

func TestIterateSmallEdit(t *testing.T) {
	env := newTestEnv(t, "10.00")
	ctx := context.Background()
	project := env.seedProject(t, "user-1")

	res, err := env.orch.Iterate(ctx, "user-1", project.ID, "change hero title to Welcome")
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}

	if res.ChangeSize != SizeSmall {
		t.Errorf("change size = %q, want small", res.ChangeSize)
	}
	if !res.CreditsCharged.Equal(decimal.RequireFromString("1.00")) {
		t.Errorf("credits charged = %s, want 1.00", res.CreditsCharged)
	}
	if res.CreditInfo.ChargedAction != "small_edit" {
		t.Errorf("charged action = %q, want small_edit", res.CreditInfo.ChargedAction)
	}
	wantRule := "small: files=1<=1, lines=2<=50, pattern_match=true"
	if res.CreditInfo.RuleApplied != wantRule {
		t.Errorf("rule applied = %q, want %q", res.CreditInfo.RuleApplied, wantRule)
	}
	if res.Version.VersionNumber != 2 {
		t.Errorf("version number = %d, want 2", res.Version.VersionNumber)
	}
	if res.Version.CreatedBy != "user-1" {
		t.Errorf("version created_by = %q, want user-1", res.Version.CreatedBy)
	}

	if len(env.ledger.charges) != 1 {
		t.Fatalf("charges = %d, want exactly 1", len(env.ledger.charges))
	}
	charge := env.ledger.charges[0]
	if charge.description != "Small edit on Landing" {
		t.Errorf("charge description = %q", charge.description)
	}
	if charge.projectID != project.ID {
		t.Errorf("charge project id = %q, want %q", charge.projectID, project.ID)
	}

	hero := readProjectFile(t, env, project.ID, "components/sections/Hero.tsx")
	if !strings.Contains(hero, "<h1>Welcome</h1>") {
		t.Errorf("hero not edited:\n%s", hero)
	}

	unified, ok := res.Version.CodeDiff.Modified["components/sections/Hero.tsx"]
	if !ok {
		t.Fatalf("diff missing hero entry: %+v", res.Version.CodeDiff)
	}
	if !strings.Contains(unified, "+  return <h1>Welcome</h1>;") {
		t.Errorf("diff missing added line:\n%s", unified)
	}

	if len(env.store.messages) != 1 || env.store.messages[0].Role != store.MessageUser {
		t.Errorf("chat message not recorded: %+v", env.store.messages)
	}
	if env.store.lockCalls != 1 {
		t.Errorf("lock calls = %d, want 1", env.store.lockCalls)
	}

	row := env.store.projects[project.ID]
	if row.Status != store.ProjectReady {
		t.Errorf("project status = %q, want ready", row.Status)
	}
	if !strings.Contains(string(row.CurrentSpec), `"last_update":"change hero title to Welcome"`) {
		t.Errorf("spec missing update overlay: %s", row.CurrentSpec)
	}
}

func TestIterateUnsupportedPrompt(t *testing.T) {
	env := newTestEnv(t, "10.00")
	ctx := context.Background()
	project := env.seedProject(t, "user-1")

	_, err := env.orch.Iterate(ctx, "user-1", project.ID, "please make it prettier")
	if !errors.Is(err, diff.ErrUnsupportedPrompt) {
		t.Fatalf("err = %v, want ErrUnsupportedPrompt", err)
	}

	if len(env.ledger.charges) != 0 {
		t.Errorf("unsupported prompt charged credits")
	}
	if got := len(env.store.versions); got != 1 {
		t.Errorf("versions = %d, want 1 (seed only)", got)
	}
	hero := readProjectFile(t, env, project.ID, "components/sections/Hero.tsx")
	if !strings.Contains(hero, "<h1>Old</h1>") {
		t.Errorf("files changed by rejected prompt:\n%s", hero)
	}
}

func TestIterateGuards(t *testing.T) {
	env := newTestEnv(t, "10.00")
	ctx := context.Background()
	project := env.seedProject(t, "user-1")

	if _, err := env.orch.Iterate(ctx, "user-1", project.ID, "   "); !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("empty message err = %v, want ErrEmptyPrompt", err)
	}
	long := strings.Repeat("y", MaxPromptLen+1)
	if _, err := env.orch.Iterate(ctx, "user-1", project.ID, long); !errors.Is(err, ErrPromptTooLong) {
		t.Errorf("long message err = %v, want ErrPromptTooLong", err)
	}

	if env.limit.calls != 0 {
		t.Errorf("rate limiter consulted before guards: %d calls", env.limit.calls)
	}
	if len(env.store.messages) != 0 {
		t.Errorf("guard failure recorded a message")
	}
}

func TestIterateRateLimited(t *testing.T) {
	env := newTestEnv(t, "10.00")
	ctx := context.Background()
	project := env.seedProject(t, "user-1")
	env.limit.allowed = false

	_, err := env.orch.Iterate(ctx, "user-1", project.ID, "change hero title to Hi")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if len(env.ledger.charges) != 0 {
		t.Errorf("rate-limited request charged credits")
	}
	if len(env.store.messages) != 0 {
		t.Errorf("rate-limited request recorded a message")
	}
}

func TestIterateInsufficientCreditsRevertsFiles(t *testing.T) {
	env := newTestEnv(t, "10.00")
	ctx := context.Background()
	project := env.seedProject(t, "user-1")
	env.ledger.balance = decimal.RequireFromString("0.50")

	_, err := env.orch.Iterate(ctx, "user-1", project.ID, "change hero title to Welcome")
	var insufficient *ledger.InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientCreditsError", err)
	}

	hero := readProjectFile(t, env, project.ID, "components/sections/Hero.tsx")
	if !strings.Contains(hero, "<h1>Old</h1>") {
		t.Errorf("files not reverted after failed charge:\n%s", hero)
	}
	if got := len(env.store.versions); got != 1 {
		t.Errorf("versions = %d, want 1 (seed only)", got)
	}
	if len(env.runner.calls) != 0 {
		t.Errorf("runner called despite failed charge")
	}
	row := env.store.projects[project.ID]
	if strings.Contains(string(row.CurrentSpec), "last_update") {
		t.Errorf("spec updated despite failed charge: %s", row.CurrentSpec)
	}
}

func TestIterateHidesOtherTenantsProjects(t *testing.T) {
	env := newTestEnv(t, "10.00")
	project := env.seedProject(t, "user-1")

	_, err := env.orch.Iterate(context.Background(), "intruder", project.ID, "change hero title to Mine")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestIterateBuildFailureKeepsCharge(t *testing.T) {
	env := newTestEnv(t, "10.00")
	ctx := context.Background()
	project := env.seedProject(t, "user-1")
	env.runner.results = []*runner.BuildResult{
		{Success: false, ExitCode: 1, Logs: "something inexplicable", Error: "Build failed"},
	}

	res, err := env.orch.Iterate(ctx, "user-1", project.ID, "change hero title to Welcome")
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if res.Build.Status != store.BuildFailed {
		t.Errorf("build status = %q, want failed", res.Build.Status)
	}
	if env.store.projects[project.ID].Status != store.ProjectFailed {
		t.Errorf("project status = %q, want failed", env.store.projects[project.ID].Status)
	}
	// Billing fairness: the edit was applied, so the charge stands.
	if !env.ledger.balance.Equal(decimal.RequireFromString("4.00")) {
		t.Errorf("balance = %s, want 4.00", env.ledger.balance)
	}
}
