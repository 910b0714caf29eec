package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/vsavkov/sitesmith/internal/diff"
	"github.com/vsavkov/sitesmith/internal/metrics"
	"github.com/vsavkov/sitesmith/internal/spec"
	"github.com/vsavkov/sitesmith/internal/store"
)

// Iterate processes one prompt against a project: record the message,
// generate and apply edits, classify and charge, snapshot a new version,
// then build with bounded repair. The whole mutation runs under the
// project's advisory lock. Credits are charged only after edits applied
// cleanly; a failed charge reverts the files.
func (o *Orchestrator) Iterate(ctx context.Context, ownerID, projectID, message string) (*IterationResult, error) {
	project, err := o.store.ProjectForOwner(ctx, projectID, ownerID)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyPrompt
	}
	if len(message) > MaxPromptLen {
		return nil, ErrPromptTooLong
	}

	allowed, err := o.limit.Allow(ctx, ownerID, "prompt", o.cfg.PromptMax, o.cfg.PromptWindow)
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		metrics.RateLimited.WithLabelValues("prompt").Inc()
		return nil, ErrRateLimited
	}

	var result *IterationResult
	err = o.store.WithProjectLock(ctx, projectID, func(ctx context.Context) error {
		result, err = o.iterateLocked(ctx, project, ownerID, message)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) iterateLocked(ctx context.Context, project *store.Project, ownerID, message string) (*IterationResult, error) {
	projectID := project.ID
	projectDir := o.projectDir(projectID)

	if _, err := o.store.CreateMessage(ctx, projectID, ownerID, store.MessageUser, message); err != nil {
		return nil, fmt.Errorf("record chat message: %w", err)
	}

	oldFiles, err := diff.Snapshot(projectDir)
	if err != nil {
		return nil, fmt.Errorf("snapshot project files: %w", err)
	}

	doc, err := spec.Parse(project.CurrentSpec)
	if err != nil {
		return nil, fmt.Errorf("parse current spec: %w", err)
	}
	updatedSpec, err := doc.WithUpdate(message, o.now()).JSON()
	if err != nil {
		return nil, fmt.Errorf("update spec: %w", err)
	}

	changes, err := diff.GenerateChanges(projectDir, message)
	if err != nil {
		metrics.IterationsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	revert, err := o.apply(ctx, projectDir, changes)
	if err != nil {
		metrics.IterationsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	newFiles, err := diff.Snapshot(projectDir)
	if err != nil {
		o.revertOrLog(revert, projectID)
		return nil, fmt.Errorf("snapshot changed files: %w", err)
	}
	codeDiff, err := diff.Compute(oldFiles, newFiles)
	if err != nil {
		o.revertOrLog(revert, projectID)
		return nil, fmt.Errorf("compute diff: %w", err)
	}
	o.log.Debug().
		Str("project_id", projectID).
		Str("tree_before", diff.Fingerprint(oldFiles)).
		Str("tree_after", diff.Fingerprint(newFiles)).
		Msg("snapshot fingerprints")

	size, rule := ClassifySize(message, codeDiff)
	amount := cost(size.Action())
	o.log.Info().
		Str("project_id", projectID).
		Str("change_size", string(size)).
		Str("cost", amount.StringFixed(2)).
		Str("rule", rule).
		Msg("change classified")

	entry, err := o.ledger.Charge(ctx, ownerID, amount,
		fmt.Sprintf("%s edit on %s", size.Title(), project.Name), projectID)
	if err != nil {
		o.revertOrLog(revert, projectID)
		metrics.IterationsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	if err := o.store.UpdateProjectSpec(ctx, projectID, updatedSpec); err != nil {
		return nil, fmt.Errorf("persist spec: %w", err)
	}
	if err := o.store.SetProjectStatus(ctx, projectID, store.ProjectBuilding); err != nil {
		return nil, fmt.Errorf("set project building: %w", err)
	}
	project.CurrentSpec = updatedSpec
	project.Status = store.ProjectBuilding

	version, err := o.store.CreateVersion(ctx, projectID, updatedSpec, codeDiff, ownerID)
	if err != nil {
		return nil, fmt.Errorf("create version: %w", err)
	}

	build, err := o.runBuildLoop(ctx, projectID, version.ID)
	if err != nil {
		return nil, err
	}
	reflectBuildOutcome(project, build)

	if build.Status == store.BuildSuccess {
		metrics.IterationsTotal.WithLabelValues("success").Inc()
	} else {
		metrics.IterationsTotal.WithLabelValues("build_failed").Inc()
	}

	return &IterationResult{
		Version:        version,
		Build:          build,
		ChangeSize:     size,
		CreditsCharged: amount,
		CreditInfo:     creditInfo(size.Action(), amount, entry, rule),
	}, nil
}

// revertOrLog undoes applied file changes. Failure to revert leaves the
// directory inconsistent with the version history, which is worth a loud log.
func (o *Orchestrator) revertOrLog(revert func() error, projectID string) {
	if revert == nil {
		return
	}
	if err := revert(); err != nil {
		o.log.Error().Err(err).Str("project_id", projectID).Msg("revert of applied changes failed")
	}
}
