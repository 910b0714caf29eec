package server

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vsavkov/sitesmith/internal/store"
)

// money renders credit amounts with a fixed scale so clients never see
// float artifacts or bare integers.
func money(d decimal.Decimal) string { return d.StringFixed(2) }

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Role      string    `json:"role"`
	Credits   string    `json:"credits"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u *store.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      string(u.Role),
		Credits:   money(u.Credits),
		CreatedAt: u.CreatedAt,
	}
}

type projectResponse struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	Status           string          `json:"status"`
	PreviewURL       string          `json:"preview_url,omitempty"`
	PublishedURL     string          `json:"published_url,omitempty"`
	WatermarkEnabled bool            `json:"watermark_enabled"`
	CurrentSpec      json.RawMessage `json:"current_spec,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// toProjectResponse converts a project row. The spec document is heavy, so
// list endpoints leave it out.
func toProjectResponse(p *store.Project, withSpec bool) projectResponse {
	out := projectResponse{
		ID:               p.ID,
		Name:             p.Name,
		Description:      p.Description,
		Status:           string(p.Status),
		PreviewURL:       p.PreviewURL,
		PublishedURL:     p.PublishedURL,
		WatermarkEnabled: p.WatermarkEnabled,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
	if withSpec {
		out.CurrentSpec = p.CurrentSpec
	}
	return out
}

type projectDetailResponse struct {
	projectResponse
	LatestVersion *versionResponse `json:"latest_version,omitempty"`
	LatestBuild   *buildResponse   `json:"latest_build,omitempty"`
}

type versionResponse struct {
	ID              string          `json:"id"`
	VersionNumber   int             `json:"version_number"`
	SpecSnapshot    json.RawMessage `json:"spec_snapshot,omitempty"`
	CodeDiff        *store.CodeDiff `json:"code_diff,omitempty"`
	UnifiedDiffText string          `json:"unified_diff_text,omitempty"`
	CreatedBy       string          `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
}

func toVersionResponse(v *store.Version) versionResponse {
	return versionResponse{
		ID:              v.ID,
		VersionNumber:   v.VersionNumber,
		SpecSnapshot:    v.SpecSnapshot,
		CodeDiff:        v.CodeDiff,
		UnifiedDiffText: unifiedDiffText(v.CodeDiff),
		CreatedBy:       v.CreatedBy,
		CreatedAt:       v.CreatedAt,
	}
}

type buildResponse struct {
	ID            string     `json:"id"`
	VersionID     string     `json:"version_id"`
	Status        string     `json:"status"`
	AttemptNumber int        `json:"attempt_number"`
	BuildLogs     string     `json:"build_logs,omitempty"`
	LintOutput    string     `json:"lint_output,omitempty"`
	BuildOutput   string     `json:"build_output,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	PreviewURL    string     `json:"preview_url,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

func toBuildResponse(b *store.Build) buildResponse {
	return buildResponse{
		ID:            b.ID,
		VersionID:     b.VersionID,
		Status:        string(b.Status),
		AttemptNumber: b.AttemptNumber,
		BuildLogs:     b.BuildLogs,
		LintOutput:    b.LintOutput,
		BuildOutput:   b.BuildOutput,
		ErrorMessage:  b.ErrorMessage,
		PreviewURL:    b.PreviewURL,
		StartedAt:     b.StartedAt,
		CompletedAt:   b.CompletedAt,
	}
}

func toBuildResponsePtr(b *store.Build) *buildResponse {
	if b == nil {
		return nil
	}
	out := toBuildResponse(b)
	return &out
}

type messageResponse struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func toMessageResponse(m *store.ChatMessage) messageResponse {
	return messageResponse{
		ID:        m.ID,
		Role:      string(m.Role),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

type txnResponse struct {
	ID           string    `json:"id"`
	Amount       string    `json:"amount"`
	Kind         string    `json:"kind"`
	Description  string    `json:"description"`
	ProjectID    string    `json:"project_id,omitempty"`
	BalanceAfter string    `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

func toTxnResponse(t *store.CreditTransaction) txnResponse {
	return txnResponse{
		ID:           t.ID,
		Amount:       money(t.Amount),
		Kind:         string(t.Kind),
		Description:  t.Description,
		ProjectID:    t.ProjectID,
		BalanceAfter: money(t.BalanceAfter),
		CreatedAt:    t.CreatedAt,
	}
}

type treeNode struct {
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	Type     string      `json:"type"`
	Children []*treeNode `json:"children,omitempty"`
}

// unifiedDiffText flattens a structured change set into one reviewable
// text: per-file hunks for modifications in path order, then add and
// delete markers.
func unifiedDiffText(d *store.CodeDiff) string {
	if d == nil {
		return ""
	}
	paths := make([]string, 0, len(d.Modified))
	for path := range d.Modified {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, path := range paths {
		text := d.Modified[path]
		b.WriteString(text)
		if !strings.HasSuffix(text, "\n") {
			b.WriteByte('\n')
		}
	}
	for _, path := range d.Added {
		fmt.Fprintf(&b, "Added: %s\n", path)
	}
	for _, path := range d.Deleted {
		fmt.Fprintf(&b, "Deleted: %s\n", path)
	}
	return b.String()
}
