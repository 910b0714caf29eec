package orchestrator

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vsavkov/sitesmith/internal/ledger"
	"github.com/vsavkov/sitesmith/internal/spec"
	"github.com/vsavkov/sitesmith/internal/store"
)

// templateName is the template every new project is materialized from.
const templateName = "nextjs-stable"

// descriptionLimit caps the auto-derived project description.
const descriptionLimit = 200

// substitutableExts are the file types placeholder substitution touches.
// Everything else is copied verbatim.
var substitutableExts = map[string]bool{
	".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".json": true, ".md": true, ".txt": true, ".css": true,
}

// CreateProject charges the creation fee, persists the project with its
// initial spec, materializes the template into the project directory, records
// version 1, and runs the build loop. The charge happens first; every later
// failure refunds it and removes the partial project.
func (o *Orchestrator) CreateProject(ctx context.Context, ownerID, name, prompt string) (*CreateResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if len(prompt) > MaxPromptLen {
		return nil, ErrPromptTooLong
	}

	amount := cost(ledger.ActionCreateProject)
	entry, err := o.ledger.Charge(ctx, ownerID, amount, "Create project: "+name, "")
	if err != nil {
		return nil, err
	}

	doc := spec.Initial(prompt)
	raw, err := doc.JSON()
	if err != nil {
		o.refund(ctx, ownerID, amount, "Refund: project creation failed", "")
		return nil, fmt.Errorf("initial spec: %w", err)
	}

	project, err := o.store.CreateProject(ctx, ownerID, name, truncateRunes(prompt, descriptionLimit), prompt, raw)
	if err != nil {
		o.refund(ctx, ownerID, amount, "Refund: project creation failed", "")
		return nil, fmt.Errorf("create project: %w", err)
	}

	if err := o.materializeTemplate(project); err != nil {
		o.refund(ctx, ownerID, amount, "Refund: project creation failed", project.ID)
		o.discardProject(ctx, project.ID)
		return nil, fmt.Errorf("materialize template: %w", err)
	}

	version, err := o.store.CreateVersion(ctx, project.ID, raw, nil, "system")
	if err != nil {
		o.refund(ctx, ownerID, amount, "Refund: project creation failed", project.ID)
		o.discardProject(ctx, project.ID)
		return nil, fmt.Errorf("create version: %w", err)
	}

	if err := o.store.SetProjectStatus(ctx, project.ID, store.ProjectBuilding); err != nil {
		return nil, fmt.Errorf("set project building: %w", err)
	}
	project.Status = store.ProjectBuilding

	build, err := o.runBuildLoop(ctx, project.ID, version.ID)
	if err != nil {
		return nil, err
	}
	reflectBuildOutcome(project, build)

	o.log.Info().
		Str("project_id", project.ID).
		Str("user_id", ownerID).
		Str("build_status", string(build.Status)).
		Msg("project created")

	return &CreateResult{
		Project:    project,
		Version:    version,
		Build:      build,
		CreditInfo: creditInfo(ledger.ActionCreateProject, amount, entry, ""),
	}, nil
}

// reflectBuildOutcome mirrors the terminal project transition made by the
// build loop onto the in-memory struct returned to the caller.
func reflectBuildOutcome(project *store.Project, build *store.Build) {
	if build.Status == store.BuildSuccess {
		project.Status = store.ProjectReady
		project.PreviewURL = build.PreviewURL
	} else {
		project.Status = store.ProjectFailed
	}
}

// Delete removes the project rows and its working directory. No charge.
func (o *Orchestrator) Delete(ctx context.Context, ownerID, projectID string) error {
	if _, err := o.store.ProjectForOwner(ctx, projectID, ownerID); err != nil {
		return err
	}
	if err := o.store.DeleteProject(ctx, projectID); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if err := os.RemoveAll(o.projectDir(projectID)); err != nil {
		o.log.Error().Err(err).Str("project_id", projectID).Msg("remove project directory failed")
	}
	o.log.Info().Str("project_id", projectID).Str("user_id", ownerID).Msg("project deleted")
	return nil
}

func (o *Orchestrator) refund(ctx context.Context, userID string, amount decimal.Decimal, description, projectID string) {
	if _, err := o.ledger.Refund(ctx, userID, amount, description, projectID); err != nil {
		o.log.Error().Err(err).Str("user_id", userID).Str("amount", amount.StringFixed(2)).Msg("refund failed")
	}
}

// discardProject best-effort removes a half-created project.
func (o *Orchestrator) discardProject(ctx context.Context, projectID string) {
	if err := o.store.DeleteProject(ctx, projectID); err != nil {
		o.log.Error().Err(err).Str("project_id", projectID).Msg("discard project row failed")
	}
	if err := os.RemoveAll(o.projectDir(projectID)); err != nil {
		o.log.Error().Err(err).Str("project_id", projectID).Msg("discard project directory failed")
	}
}

// materializeTemplate copies the stable template into the project directory
// and substitutes placeholders from the project and its spec theme.
func (o *Orchestrator) materializeTemplate(project *store.Project) error {
	src := filepath.Join(o.cfg.TemplatesDir, templateName)
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("template %s: %w", templateName, err)
	}
	dst := o.projectDir(project.ID)
	if err := copyTree(src, dst); err != nil {
		return fmt.Errorf("copy template: %w", err)
	}

	theme := spec.Initial(project.InitialPrompt).Theme
	if doc, err := spec.Parse(project.CurrentSpec); err == nil {
		theme = doc.Theme
	}
	return applyPlaceholders(dst, placeholderValues(project, theme, o.now().Year()))
}

func placeholderValues(p *store.Project, theme spec.Theme, year int) map[string]string {
	lower := strings.ReplaceAll(strings.ToLower(p.Name), " ", "-")
	return map[string]string{
		"{{PROJECT_NAME}}":        p.Name,
		"{{PROJECT_NAME_LOWER}}":  lower,
		"{{PROJECT_DESCRIPTION}}": p.Description,
		"{{YEAR}}":                strconv.Itoa(year),
		"{{PRIMARY_COLOR}}":       theme.PrimaryColor,
		"{{SECONDARY_COLOR}}":     theme.SecondaryColor,
		"{{ACCENT_COLOR}}":        theme.AccentColor,
		"{{PROJECT_DOMAIN}}":      lower + ".com",
	}
}

// applyPlaceholders rewrites every substitutable file under root, replacing
// all placeholder occurrences. Untouched files are not rewritten.
func applyPlaceholders(root string, values map[string]string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !substitutableExts[filepath.Ext(path)] {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		content := string(raw)
		replaced := content
		for placeholder, value := range values {
			replaced = strings.ReplaceAll(replaced, placeholder, value)
		}
		if replaced == content {
			return nil
		}
		if err := os.WriteFile(path, []byte(replaced), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		return nil
	})
}

// copyTree copies regular files and directories from src into dst, which is
// created if missing. Symlinks and other special files are skipped.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if err := os.WriteFile(target, raw, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", target, err)
		}
		return nil
	})
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
