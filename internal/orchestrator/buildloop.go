package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vsavkov/sitesmith/internal/diff"
	"github.com/vsavkov/sitesmith/internal/metrics"
	"github.com/vsavkov/sitesmith/internal/repair"
	"github.com/vsavkov/sitesmith/internal/runner"
	"github.com/vsavkov/sitesmith/internal/sanitize"
	"github.com/vsavkov/sitesmith/internal/store"
)

// runBuildLoop drives one build row through up to MaxAttempts runner calls:
// attempt 1 is a plain build, later attempts apply a generated patch and run
// a repair build. Logs are sanitized before every persist. The loop owns the
// terminal project transition: ready on success, failed otherwise.
func (o *Orchestrator) runBuildLoop(ctx context.Context, projectID, versionID string) (*store.Build, error) {
	projectDir := o.projectDir(projectID)
	build, err := o.store.CreateBuild(ctx, projectID, versionID)
	if err != nil {
		return nil, fmt.Errorf("create build: %w", err)
	}
	started := o.now()
	gen := repair.NewGenerator(o.log)

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if attempt == 1 {
			if err := o.markAttempt(ctx, build, store.BuildBuilding, attempt); err != nil {
				return nil, err
			}
		} else {
			analysis := repair.Analyze(build.BuildLogs, build.LintOutput, build.BuildOutput)
			patch := gen.Generate(analysis, projectDir, build.BuildLogs)
			if len(patch) == 0 {
				o.log.Info().
					Str("build_id", build.ID).
					Str("kind", string(analysis.Kind)).
					Msg("no repair available, giving up")
				break
			}
			if err := writePatch(projectDir, patch); err != nil {
				o.log.Warn().Err(err).Str("build_id", build.ID).Msg("repair patch rejected")
				break
			}
			metrics.RepairAttempts.WithLabelValues(string(analysis.Kind)).Inc()
			if err := o.markAttempt(ctx, build, store.BuildRepairing, attempt); err != nil {
				return nil, err
			}
		}

		res := o.callRunner(ctx, projectID, projectDir, attempt, build.BuildLogs)
		if err := o.recordResult(ctx, build, res); err != nil {
			return nil, err
		}

		if res.Success {
			completed := o.now()
			previewURL := fmt.Sprintf("/preview/%s/%s", projectID, build.ID)
			success := store.BuildSuccess
			err := o.store.UpdateBuild(ctx, build.ID, store.BuildUpdate{
				Status:      &success,
				PreviewURL:  &previewURL,
				CompletedAt: &completed,
			})
			if err != nil {
				return nil, fmt.Errorf("finish build: %w", err)
			}
			build.Status = success
			build.PreviewURL = previewURL
			build.CompletedAt = &completed

			if err := o.store.SetProjectReady(ctx, projectID, previewURL); err != nil {
				return nil, fmt.Errorf("set project ready: %w", err)
			}
			metrics.BuildsTotal.WithLabelValues(string(store.BuildSuccess)).Inc()
			metrics.BuildDuration.Observe(completed.Sub(started).Seconds())
			o.log.Info().
				Str("build_id", build.ID).
				Str("project_id", projectID).
				Int("attempt", attempt).
				Msg("build succeeded")
			return build, nil
		}

		o.log.Warn().
			Str("build_id", build.ID).
			Str("project_id", projectID).
			Int("attempt", attempt).
			Int("exit_code", res.ExitCode).
			Msg("build attempt failed")
	}

	completed := o.now()
	failed := store.BuildFailed
	err = o.store.UpdateBuild(ctx, build.ID, store.BuildUpdate{
		Status:      &failed,
		CompletedAt: &completed,
	})
	if err != nil {
		return nil, fmt.Errorf("finish build: %w", err)
	}
	build.Status = failed
	build.CompletedAt = &completed

	if err := o.store.SetProjectStatus(ctx, projectID, store.ProjectFailed); err != nil {
		return nil, fmt.Errorf("set project failed: %w", err)
	}
	metrics.BuildsTotal.WithLabelValues(string(store.BuildFailed)).Inc()
	metrics.BuildDuration.Observe(completed.Sub(started).Seconds())
	return build, nil
}

// callRunner invokes the runner and converts transport failures into a
// failed result so the loop treats infrastructure trouble like any other
// failed attempt.
func (o *Orchestrator) callRunner(ctx context.Context, projectID, projectDir string, attempt int, priorLogs string) *runner.BuildResult {
	var res *runner.BuildResult
	var err error
	if attempt == 1 {
		res, err = o.runner.Build(ctx, projectID, projectDir)
	} else {
		res, err = o.runner.Repair(ctx, projectID, projectDir, priorLogs)
	}
	if err == nil {
		return res
	}

	o.log.Error().Err(err).Str("project_id", projectID).Int("attempt", attempt).Msg("runner call failed")
	synth := &runner.BuildResult{Success: false, ExitCode: 1}
	var unavailable *runner.UnavailableError
	switch {
	case errors.As(err, &unavailable) && unavailable.Timeout:
		synth.ExitCode = runner.ExitTimeout
		synth.Error = "Build request timed out"
	case errors.As(err, &unavailable):
		synth.Error = "Cannot connect to runner service"
	default:
		synth.Error = "Runner call failed: " + err.Error()
	}
	return synth
}

func (o *Orchestrator) markAttempt(ctx context.Context, build *store.Build, status store.BuildStatus, attempt int) error {
	err := o.store.UpdateBuild(ctx, build.ID, store.BuildUpdate{
		Status:        &status,
		AttemptNumber: &attempt,
	})
	if err != nil {
		return fmt.Errorf("mark build attempt: %w", err)
	}
	build.Status = status
	build.AttemptNumber = attempt
	return nil
}

// recordResult sanitizes and persists a runner result onto the build row.
func (o *Orchestrator) recordResult(ctx context.Context, build *store.Build, res *runner.BuildResult) error {
	build.BuildLogs = sanitize.Sanitize(res.Logs)
	build.LintOutput = sanitize.Sanitize(res.LintOutput)
	build.BuildOutput = sanitize.Sanitize(res.BuildOutput)
	build.ErrorMessage = sanitize.Sanitize(res.Error)
	err := o.store.UpdateBuild(ctx, build.ID, store.BuildUpdate{
		BuildLogs:    &build.BuildLogs,
		LintOutput:   &build.LintOutput,
		BuildOutput:  &build.BuildOutput,
		ErrorMessage: &build.ErrorMessage,
	})
	if err != nil {
		return fmt.Errorf("persist build result: %w", err)
	}
	return nil
}

// writePatch re-validates every patched path against the edit scope before
// writing anything; one out-of-scope path rejects the whole patch.
func writePatch(projectDir string, patch repair.Patch) error {
	for rel := range patch {
		if err := diff.Editable(projectDir, rel); err != nil {
			return fmt.Errorf("patch path %s: %w", rel, err)
		}
	}
	for rel, content := range patch {
		path := filepath.Join(projectDir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create patch dir: %w", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write patch %s: %w", rel, err)
		}
	}
	return nil
}
