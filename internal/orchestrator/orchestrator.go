// Package orchestrator sequences a prompt iteration end to end: authorize,
// rate limit, lock the project, snapshot files, generate and apply edits,
// classify the change, charge credits, record a version, then drive the
// build loop with bounded automatic repair. It owns all writes to projects,
// versions, builds, chat messages, and the project directory while the
// per-project lock is held.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/vsavkov/sitesmith/internal/diff"
	"github.com/vsavkov/sitesmith/internal/ledger"
	"github.com/vsavkov/sitesmith/internal/ratelimit"
	"github.com/vsavkov/sitesmith/internal/runner"
	"github.com/vsavkov/sitesmith/internal/store"
)

// MaxPromptLen bounds prompt and iteration message length.
const MaxPromptLen = 5000

// MaxAttempts bounds the build loop: one build plus up to two repairs.
const MaxAttempts = 3

var (
	ErrEmptyName     = errors.New("project name cannot be empty")
	ErrEmptyPrompt   = errors.New("prompt cannot be empty")
	ErrPromptTooLong = errors.New("prompt exceeds maximum length of 5000 characters")
	ErrRateLimited   = errors.New("too many prompts, retry later")
	ErrNoVersion     = errors.New("no version to rebuild")
)

// Store is the persistence surface the orchestrator drives. *store.Store
// satisfies it.
type Store interface {
	CreateProject(ctx context.Context, ownerID, name, description, initialPrompt string, spec json.RawMessage) (*store.Project, error)
	ProjectForOwner(ctx context.Context, id, ownerID string) (*store.Project, error)
	SetProjectStatus(ctx context.Context, id string, status store.ProjectStatus) error
	SetProjectReady(ctx context.Context, id, previewURL string) error
	SetProjectPublished(ctx context.Context, id, publishedURL string) error
	UpdateProjectSpec(ctx context.Context, id string, spec json.RawMessage) error
	DeleteProject(ctx context.Context, id string) error
	CreateVersion(ctx context.Context, projectID string, snapshot json.RawMessage, diff *store.CodeDiff, createdBy string) (*store.Version, error)
	VersionByID(ctx context.Context, id string) (*store.Version, error)
	LatestVersion(ctx context.Context, projectID string) (*store.Version, error)
	CreateBuild(ctx context.Context, projectID, versionID string) (*store.Build, error)
	UpdateBuild(ctx context.Context, id string, upd store.BuildUpdate) error
	CreateMessage(ctx context.Context, projectID, userID string, role store.MessageRole, content string) (*store.ChatMessage, error)
	WithProjectLock(ctx context.Context, projectID string, fn func(ctx context.Context) error) error
}

// Ledger is the credit surface the orchestrator drives. *ledger.Service
// satisfies it.
type Ledger interface {
	Charge(ctx context.Context, userID string, amount decimal.Decimal, description, projectID string) (*ledger.Entry, error)
	Refund(ctx context.Context, userID string, amount decimal.Decimal, description, projectID string) (*ledger.Entry, error)
}

// Runner executes sandboxed builds. *runner.Client satisfies it.
type Runner interface {
	Build(ctx context.Context, projectID, projectPath string) (*runner.BuildResult, error)
	Repair(ctx context.Context, projectID, projectPath, errorLogs string) (*runner.BuildResult, error)
}

// Config carries the orchestrator's filesystem roots and limits.
type Config struct {
	ProjectsDir  string
	TemplatesDir string
	WebOrigin    string

	// PromptMax prompts per PromptWindow per user.
	PromptMax    int
	PromptWindow time.Duration
}

type Orchestrator struct {
	cfg    Config
	store  Store
	ledger Ledger
	runner Runner
	limit  ratelimit.Limiter
	log    zerolog.Logger

	// Seams for tests.
	apply func(ctx context.Context, projectDir string, changes map[string]string) (func() error, error)
	now   func() time.Time
}

func New(cfg Config, st Store, led Ledger, run Runner, limit ratelimit.Limiter, log zerolog.Logger) *Orchestrator {
	applier := diff.NewApplier(log)
	return &Orchestrator{
		cfg:    cfg,
		store:  st,
		ledger: led,
		runner: run,
		limit:  limit,
		log:    log.With().Str("component", "orchestrator").Logger(),
		apply:  applier.Apply,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (o *Orchestrator) projectDir(projectID string) string {
	return filepath.Join(o.cfg.ProjectsDir, projectID)
}

// CreditInfo explains a charge to the client: what was charged, the balance
// left, and which classification rule priced it.
type CreditInfo struct {
	ChargedAction      string          `json:"charged_action"`
	ChargedAmount      decimal.Decimal `json:"charged_amount"`
	WalletBalanceAfter decimal.Decimal `json:"wallet_balance_after"`
	TransactionID      string          `json:"transaction_id"`
	RuleApplied        string          `json:"rule_applied,omitempty"`
}

func creditInfo(action ledger.Action, amount decimal.Decimal, entry *ledger.Entry, rule string) CreditInfo {
	return CreditInfo{
		ChargedAction:      string(action),
		ChargedAmount:      amount,
		WalletBalanceAfter: entry.BalanceAfter,
		TransactionID:      entry.TransactionID,
		RuleApplied:        rule,
	}
}

// CreateResult is the outcome of project creation.
type CreateResult struct {
	Project    *store.Project
	Version    *store.Version
	Build      *store.Build
	CreditInfo CreditInfo
}

// IterationResult is the outcome of one prompt iteration.
type IterationResult struct {
	Version        *store.Version
	Build          *store.Build
	ChangeSize     Size
	CreditsCharged decimal.Decimal
	CreditInfo     CreditInfo
}

// RebuildResult is the outcome of a rebuild or rollback.
type RebuildResult struct {
	Version    *store.Version
	Build      *store.Build
	CreditInfo CreditInfo
}

// ExportResult is a placeholder archive link pending a real artifact store.
type ExportResult struct {
	DownloadURL string
	ExpiresAt   time.Time
	CreditInfo  CreditInfo
}

// PublishResult reports where the published project lives.
type PublishResult struct {
	ProductionURL string
	CreditInfo    CreditInfo
}

// cost looks up the price of an action. The table is compiled in, so a miss
// is a programming error.
func cost(action ledger.Action) decimal.Decimal {
	c, ok := ledger.Cost(action)
	if !ok {
		panic("no cost for action " + string(action))
	}
	return c
}
