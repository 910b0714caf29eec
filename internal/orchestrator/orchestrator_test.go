package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/vsavkov/sitesmith/internal/ledger"
	"github.com/vsavkov/sitesmith/internal/runner"
	"github.com/vsavkov/sitesmith/internal/store"
)

type stubStore struct {
	projects map[string]*store.Project
	versions []*store.Version
	builds   map[string]*store.Build
	messages []*store.ChatMessage

	lockCalls int
}

func newStubStore() *stubStore {
	return &stubStore{
		projects: map[string]*store.Project{},
		builds:   map[string]*store.Build{},
	}
}

func (s *stubStore) CreateProject(_ context.Context, ownerID, name, description, initialPrompt string, spec json.RawMessage) (*store.Project, error) {
	now := time.Now().UTC()
	p := &store.Project{
		ID:               ulid.Make().String(),
		OwnerID:          ownerID,
		Name:             name,
		Description:      description,
		InitialPrompt:    initialPrompt,
		CurrentSpec:      spec,
		Status:           store.ProjectDraft,
		WatermarkEnabled: true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.projects[p.ID] = p
	return p, nil
}

func (s *stubStore) ProjectForOwner(_ context.Context, id, ownerID string) (*store.Project, error) {
	p, ok := s.projects[id]
	if !ok || p.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *stubStore) SetProjectStatus(_ context.Context, id string, status store.ProjectStatus) error {
	p, ok := s.projects[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Status = status
	return nil
}

func (s *stubStore) SetProjectReady(_ context.Context, id, previewURL string) error {
	p, ok := s.projects[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Status = store.ProjectReady
	p.PreviewURL = previewURL
	return nil
}

func (s *stubStore) SetProjectPublished(_ context.Context, id, publishedURL string) error {
	p, ok := s.projects[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Status = store.ProjectPublished
	p.PublishedURL = publishedURL
	return nil
}

func (s *stubStore) UpdateProjectSpec(_ context.Context, id string, spec json.RawMessage) error {
	p, ok := s.projects[id]
	if !ok {
		return store.ErrNotFound
	}
	p.CurrentSpec = spec
	return nil
}

func (s *stubStore) DeleteProject(_ context.Context, id string) error {
	if _, ok := s.projects[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.projects, id)
	return nil
}

func (s *stubStore) CreateVersion(_ context.Context, projectID string, snapshot json.RawMessage, d *store.CodeDiff, createdBy string) (*store.Version, error) {
	next := 1
	for _, v := range s.versions {
		if v.ProjectID == projectID && v.VersionNumber >= next {
			next = v.VersionNumber + 1
		}
	}
	v := &store.Version{
		ID:            ulid.Make().String(),
		ProjectID:     projectID,
		VersionNumber: next,
		SpecSnapshot:  snapshot,
		CodeDiff:      d,
		CreatedBy:     createdBy,
		CreatedAt:     time.Now().UTC(),
	}
	s.versions = append(s.versions, v)
	return v, nil
}

func (s *stubStore) VersionByID(_ context.Context, id string) (*store.Version, error) {
	for _, v := range s.versions {
		if v.ID == id {
			return v, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *stubStore) LatestVersion(_ context.Context, projectID string) (*store.Version, error) {
	var latest *store.Version
	for _, v := range s.versions {
		if v.ProjectID == projectID && (latest == nil || v.VersionNumber > latest.VersionNumber) {
			latest = v
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return latest, nil
}

// CreateBuild returns a copy so tests can verify persistence happens through
// UpdateBuild rather than through shared pointers.
func (s *stubStore) CreateBuild(_ context.Context, projectID, versionID string) (*store.Build, error) {
	b := &store.Build{
		ID:            ulid.Make().String(),
		ProjectID:     projectID,
		VersionID:     versionID,
		Status:        store.BuildPending,
		AttemptNumber: 1,
		StartedAt:     time.Now().UTC(),
	}
	s.builds[b.ID] = b
	cp := *b
	return &cp, nil
}

func (s *stubStore) UpdateBuild(_ context.Context, id string, upd store.BuildUpdate) error {
	b, ok := s.builds[id]
	if !ok {
		return store.ErrNotFound
	}
	if upd.Status != nil {
		b.Status = *upd.Status
	}
	if upd.AttemptNumber != nil {
		b.AttemptNumber = *upd.AttemptNumber
	}
	if upd.BuildLogs != nil {
		b.BuildLogs = *upd.BuildLogs
	}
	if upd.LintOutput != nil {
		b.LintOutput = *upd.LintOutput
	}
	if upd.BuildOutput != nil {
		b.BuildOutput = *upd.BuildOutput
	}
	if upd.ErrorMessage != nil {
		b.ErrorMessage = *upd.ErrorMessage
	}
	if upd.PreviewURL != nil {
		b.PreviewURL = *upd.PreviewURL
	}
	if upd.CompletedAt != nil {
		ts := *upd.CompletedAt
		b.CompletedAt = &ts
	}
	return nil
}

func (s *stubStore) CreateMessage(_ context.Context, projectID, userID string, role store.MessageRole, content string) (*store.ChatMessage, error) {
	m := &store.ChatMessage{
		ID:        ulid.Make().String(),
		ProjectID: projectID,
		UserID:    userID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	s.messages = append(s.messages, m)
	return m, nil
}

func (s *stubStore) WithProjectLock(ctx context.Context, projectID string, fn func(ctx context.Context) error) error {
	s.lockCalls++
	return fn(ctx)
}

type chargeCall struct {
	userID      string
	amount      decimal.Decimal
	description string
	projectID   string
}

type stubLedger struct {
	balance decimal.Decimal
	charges []chargeCall
	refunds []chargeCall
}

func newStubLedger(balance string) *stubLedger {
	return &stubLedger{balance: decimal.RequireFromString(balance)}
}

func (l *stubLedger) Charge(_ context.Context, userID string, amount decimal.Decimal, description, projectID string) (*ledger.Entry, error) {
	next := l.balance.Sub(amount)
	if next.IsNegative() {
		return nil, &ledger.InsufficientCreditsError{Required: amount, Available: l.balance}
	}
	l.balance = next
	l.charges = append(l.charges, chargeCall{userID, amount, description, projectID})
	return &ledger.Entry{TransactionID: ulid.Make().String(), Amount: amount.Neg(), BalanceAfter: next}, nil
}

func (l *stubLedger) Refund(_ context.Context, userID string, amount decimal.Decimal, description, projectID string) (*ledger.Entry, error) {
	l.balance = l.balance.Add(amount)
	l.refunds = append(l.refunds, chargeCall{userID, amount, description, projectID})
	return &ledger.Entry{TransactionID: ulid.Make().String(), Amount: amount, BalanceAfter: l.balance}, nil
}

type runnerCall struct {
	repair    bool
	errorLogs string
}

// stubRunner replays scripted results in call order; the last result repeats
// if the loop calls more often than scripted. A non-nil error at an index
// takes precedence over the result.
type stubRunner struct {
	results []*runner.BuildResult
	errs    []error
	calls   []runnerCall
}

func (r *stubRunner) take() (*runner.BuildResult, error) {
	i := len(r.calls) - 1
	if i < len(r.errs) && r.errs[i] != nil {
		return nil, r.errs[i]
	}
	if len(r.results) == 0 {
		return &runner.BuildResult{Success: true}, nil
	}
	if i >= len(r.results) {
		i = len(r.results) - 1
	}
	cp := *r.results[i]
	return &cp, nil
}

func (r *stubRunner) Build(_ context.Context, projectID, projectPath string) (*runner.BuildResult, error) {
	r.calls = append(r.calls, runnerCall{})
	return r.take()
}

func (r *stubRunner) Repair(_ context.Context, projectID, projectPath, errorLogs string) (*runner.BuildResult, error) {
	r.calls = append(r.calls, runnerCall{repair: true, errorLogs: errorLogs})
	return r.take()
}

type stubLimiter struct {
	allowed bool
	calls   int
}

func (l *stubLimiter) Allow(context.Context, string, string, int, time.Duration) (bool, error) {
	l.calls++
	return l.allowed, nil
}

type testEnv struct {
	orch   *Orchestrator
	store  *stubStore
	ledger *stubLedger
	runner *stubRunner
	limit  *stubLimiter
}

// newTestEnv wires an orchestrator against in-memory collaborators and a
// minimal template. The apply seam writes changes directly and returns a
// real revert closure, standing in for the lint-verifying applier.
func newTestEnv(t *testing.T, balance string) *testEnv {
	t.Helper()
	env := &testEnv{
		store:  newStubStore(),
		ledger: newStubLedger(balance),
		runner: &stubRunner{results: []*runner.BuildResult{{Success: true, ExitCode: 0, Logs: "build ok"}}},
		limit:  &stubLimiter{allowed: true},
	}
	cfg := Config{
		ProjectsDir:  t.TempDir(),
		TemplatesDir: t.TempDir(),
		WebOrigin:    "http://localhost:3000",
		PromptMax:    10,
		PromptWindow: time.Minute,
	}
	writeTemplate(t, filepath.Join(cfg.TemplatesDir, templateName))

	env.orch = New(cfg, env.store, env.ledger, env.runner, env.limit, zerolog.Nop())
	env.orch.apply = applyWithoutVerify
	return env
}

func applyWithoutVerify(_ context.Context, projectDir string, changes map[string]string) (func() error, error) {
	originals := map[string]*string{}
	for rel, content := range changes {
		path := filepath.Join(projectDir, rel)
		if raw, err := os.ReadFile(path); err == nil {
			prev := string(raw)
			originals[rel] = &prev
		} else {
			originals[rel] = nil
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, err
		}
	}
	revert := func() error {
		for rel, prev := range originals {
			path := filepath.Join(projectDir, rel)
			if prev == nil {
				if err := os.Remove(path); err != nil {
					return err
				}
				continue
			}
			if err := os.WriteFile(path, []byte(*prev), 0o644); err != nil {
				return err
			}
		}
		return nil
	}
	return revert, nil
}

func writeTemplate(t *testing.T, dir string) {
	t.Helper()
	files := map[string]string{
		"package.json": `{
  "name": "{{PROJECT_NAME_LOWER}}",
  "version": "0.1.0",
  "dependencies": {
    "next": "14.0.0"
  }
}
`,
		"README.md":                      "# {{PROJECT_NAME}}\n\n{{PROJECT_DESCRIPTION}}\n\nCopyright {{YEAR}} {{PROJECT_DOMAIN}}\n",
		"app/page.tsx":                   "export default function Home() {\n  return <h1>{{PROJECT_NAME}}</h1>;\n}\n",
		"app/globals.css":                ":root {\n  --primary: {{PRIMARY_COLOR}};\n  --secondary: {{SECONDARY_COLOR}};\n  --accent: {{ACCENT_COLOR}};\n}\n",
		"components/sections/Hero.tsx":   "export function Hero() {\n  return <h1>Old</h1>;\n}\n",
		"components/sections/Footer.tsx": "export function Footer() {\n  return <footer>{{PROJECT_NAME}}</footer>;\n}\n",
	}
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir template: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write template: %v", err)
		}
	}
}

// seedProject creates a project row with materialized files and an initial
// version, the state an iteration starts from.
func (env *testEnv) seedProject(t *testing.T, ownerID string) *store.Project {
	t.Helper()
	ctx := context.Background()
	res, err := env.orch.CreateProject(ctx, ownerID, "Landing", "Landing page for a startup")
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
	// Seeding consumed ledger and runner state; reset so tests observe only
	// their own calls.
	env.ledger.charges = nil
	env.ledger.refunds = nil
	env.runner.calls = nil
	env.runner.results = []*runner.BuildResult{{Success: true, ExitCode: 0, Logs: "build ok"}}
	env.runner.errs = nil
	return env.store.projects[res.Project.ID]
}

func readProjectFile(t *testing.T, env *testEnv, projectID, rel string) string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(env.orch.cfg.ProjectsDir, projectID, rel))
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	return string(raw)
}
