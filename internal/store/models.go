package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type ProjectStatus string

const (
	ProjectDraft     ProjectStatus = "draft"
	ProjectBuilding  ProjectStatus = "building"
	ProjectReady     ProjectStatus = "ready"
	ProjectFailed    ProjectStatus = "failed"
	ProjectPublished ProjectStatus = "published"
)

func ParseProjectStatus(s string) (ProjectStatus, error) {
	switch ProjectStatus(strings.ToLower(strings.TrimSpace(s))) {
	case ProjectDraft:
		return ProjectDraft, nil
	case ProjectBuilding:
		return ProjectBuilding, nil
	case ProjectReady:
		return ProjectReady, nil
	case ProjectFailed:
		return ProjectFailed, nil
	case ProjectPublished:
		return ProjectPublished, nil
	default:
		return "", fmt.Errorf("invalid project status: %q", s)
	}
}

func (s ProjectStatus) Valid() bool {
	_, err := ParseProjectStatus(string(s))
	return err == nil
}

type BuildStatus string

const (
	BuildPending   BuildStatus = "pending"
	BuildBuilding  BuildStatus = "building"
	BuildRepairing BuildStatus = "repairing"
	BuildSuccess   BuildStatus = "success"
	BuildFailed    BuildStatus = "failed"
)

func ParseBuildStatus(s string) (BuildStatus, error) {
	switch BuildStatus(strings.ToLower(strings.TrimSpace(s))) {
	case BuildPending:
		return BuildPending, nil
	case BuildBuilding:
		return BuildBuilding, nil
	case BuildRepairing:
		return BuildRepairing, nil
	case BuildSuccess:
		return BuildSuccess, nil
	case BuildFailed:
		return BuildFailed, nil
	default:
		return "", fmt.Errorf("invalid build status: %q", s)
	}
}

func (s BuildStatus) Valid() bool {
	_, err := ParseBuildStatus(string(s))
	return err == nil
}

// Terminal reports whether no further attempts will mutate this build.
func (s BuildStatus) Terminal() bool {
	return s == BuildSuccess || s == BuildFailed
}

type TxnKind string

const (
	TxnCharge   TxnKind = "charge"
	TxnGrant    TxnKind = "grant"
	TxnRefund   TxnKind = "refund"
	TxnBonus    TxnKind = "bonus"
	TxnPurchase TxnKind = "purchase"
)

func (k TxnKind) Valid() bool {
	switch k {
	case TxnCharge, TxnGrant, TxnRefund, TxnBonus, TxnPurchase:
		return true
	default:
		return false
	}
}

type Role string

const (
	RoleFree       Role = "free"
	RolePro        Role = "pro"
	RoleEnterprise Role = "enterprise"
)

func (r Role) Valid() bool {
	switch r {
	case RoleFree, RolePro, RoleEnterprise:
		return true
	default:
		return false
	}
}

type MessageRole string

const (
	MessageUser      MessageRole = "user"
	MessageAssistant MessageRole = "assistant"
)

type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Role         Role
	Credits      decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Project struct {
	ID               string
	OwnerID          string
	Name             string
	Description      string
	InitialPrompt    string
	CurrentSpec      json.RawMessage
	Status           ProjectStatus
	PreviewURL       string
	PublishedURL     string
	WatermarkEnabled bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CodeDiff is the structured change set recorded on a version. The three
// categories are disjoint.
type CodeDiff struct {
	Modified map[string]string `json:"modified"`
	Added    []string          `json:"added"`
	Deleted  []string          `json:"deleted"`
}

// Empty reports whether the diff carries no changes at all.
func (d *CodeDiff) Empty() bool {
	return d == nil || (len(d.Modified) == 0 && len(d.Added) == 0 && len(d.Deleted) == 0)
}

type Version struct {
	ID            string
	ProjectID     string
	VersionNumber int
	SpecSnapshot  json.RawMessage
	CodeDiff      *CodeDiff
	CreatedBy     string
	CreatedAt     time.Time
}

type Build struct {
	ID            string
	ProjectID     string
	VersionID     string
	Status        BuildStatus
	AttemptNumber int
	BuildLogs     string
	LintOutput    string
	BuildOutput   string
	ErrorMessage  string
	PreviewURL    string
	StartedAt     time.Time
	CompletedAt   *time.Time
}

type ChatMessage struct {
	ID        string
	ProjectID string
	UserID    string
	Role      MessageRole
	Content   string
	CreatedAt time.Time
}

type CreditTransaction struct {
	ID           string
	UserID       string
	Amount       decimal.Decimal
	Kind         TxnKind
	Description  string
	ProjectID    string
	BalanceAfter decimal.Decimal
	CreatedAt    time.Time
}
