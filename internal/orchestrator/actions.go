package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vsavkov/sitesmith/internal/ledger"
	"github.com/vsavkov/sitesmith/internal/store"
)

// exportLinkTTL is how long an export download link stays valid.
const exportLinkTTL = 24 * time.Hour

// Rebuild charges the rebuild fee and reruns the build loop against the
// latest version. No files change and no new version is recorded. The
// version lookup precedes the charge so a project with nothing to build
// never costs anything.
func (o *Orchestrator) Rebuild(ctx context.Context, ownerID, projectID string) (*RebuildResult, error) {
	project, err := o.store.ProjectForOwner(ctx, projectID, ownerID)
	if err != nil {
		return nil, err
	}

	var result *RebuildResult
	err = o.store.WithProjectLock(ctx, projectID, func(ctx context.Context) error {
		version, err := o.store.LatestVersion(ctx, projectID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNoVersion
			}
			return fmt.Errorf("latest version: %w", err)
		}

		amount := cost(ledger.ActionRebuild)
		entry, err := o.ledger.Charge(ctx, ownerID, amount, "Rebuild "+project.Name, projectID)
		if err != nil {
			return err
		}

		if err := o.store.SetProjectStatus(ctx, projectID, store.ProjectBuilding); err != nil {
			return fmt.Errorf("set project building: %w", err)
		}
		project.Status = store.ProjectBuilding

		build, err := o.runBuildLoop(ctx, projectID, version.ID)
		if err != nil {
			return err
		}
		reflectBuildOutcome(project, build)

		result = &RebuildResult{
			Version:    version,
			Build:      build,
			CreditInfo: creditInfo(ledger.ActionRebuild, amount, entry, ""),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Rollback records a new version whose spec copies the target version's,
// then rebuilds. History stays append-only: the target itself is never
// mutated. Rolling back touches no files; it is a spec-level operation.
func (o *Orchestrator) Rollback(ctx context.Context, ownerID, projectID, versionID string) (*RebuildResult, error) {
	project, err := o.store.ProjectForOwner(ctx, projectID, ownerID)
	if err != nil {
		return nil, err
	}

	var result *RebuildResult
	err = o.store.WithProjectLock(ctx, projectID, func(ctx context.Context) error {
		target, err := o.store.VersionByID(ctx, versionID)
		if err != nil {
			return err
		}
		if target.ProjectID != projectID {
			return store.ErrNotFound
		}

		amount := cost(ledger.ActionRollback)
		entry, err := o.ledger.Charge(ctx, ownerID, amount, "Rollback "+project.Name, projectID)
		if err != nil {
			return err
		}

		if err := o.store.UpdateProjectSpec(ctx, projectID, target.SpecSnapshot); err != nil {
			return fmt.Errorf("restore spec: %w", err)
		}
		if err := o.store.SetProjectStatus(ctx, projectID, store.ProjectBuilding); err != nil {
			return fmt.Errorf("set project building: %w", err)
		}
		project.CurrentSpec = target.SpecSnapshot
		project.Status = store.ProjectBuilding

		version, err := o.store.CreateVersion(ctx, projectID, target.SpecSnapshot, target.CodeDiff, ownerID)
		if err != nil {
			return fmt.Errorf("create rollback version: %w", err)
		}

		build, err := o.runBuildLoop(ctx, projectID, version.ID)
		if err != nil {
			return err
		}
		reflectBuildOutcome(project, build)

		o.log.Info().
			Str("project_id", projectID).
			Int("target_version", target.VersionNumber).
			Int("new_version", version.VersionNumber).
			Msg("rolled back")

		result = &RebuildResult{
			Version:    version,
			Build:      build,
			CreditInfo: creditInfo(ledger.ActionRollback, amount, entry, ""),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Export charges the export fee and returns a time-limited download link.
// TODO: generate a real archive once an artifact store exists; the token is
// not yet redeemable.
func (o *Orchestrator) Export(ctx context.Context, ownerID, projectID string) (*ExportResult, error) {
	project, err := o.store.ProjectForOwner(ctx, projectID, ownerID)
	if err != nil {
		return nil, err
	}

	amount := cost(ledger.ActionExport)
	entry, err := o.ledger.Charge(ctx, ownerID, amount, "Export "+project.Name, projectID)
	if err != nil {
		return nil, err
	}

	return &ExportResult{
		DownloadURL: fmt.Sprintf("/projects/%s/download?token=%s", projectID, ulid.Make().String()),
		ExpiresAt:   o.now().Add(exportLinkTTL),
		CreditInfo:  creditInfo(ledger.ActionExport, amount, entry, ""),
	}, nil
}

// Publish charges the publish fee and marks the project published at its
// public URL under the web origin.
func (o *Orchestrator) Publish(ctx context.Context, ownerID, projectID string) (*PublishResult, error) {
	project, err := o.store.ProjectForOwner(ctx, projectID, ownerID)
	if err != nil {
		return nil, err
	}

	amount := cost(ledger.ActionPublish)
	entry, err := o.ledger.Charge(ctx, ownerID, amount, "Publish "+project.Name, projectID)
	if err != nil {
		return nil, err
	}

	productionURL := strings.TrimRight(o.cfg.WebOrigin, "/") + "/p/" + projectID
	if err := o.store.SetProjectPublished(ctx, projectID, productionURL); err != nil {
		return nil, fmt.Errorf("set published: %w", err)
	}

	o.log.Info().Str("project_id", projectID).Str("url", productionURL).Msg("project published")
	return &PublishResult{
		ProductionURL: productionURL,
		CreditInfo:    creditInfo(ledger.ActionPublish, amount, entry, ""),
	}, nil
}
