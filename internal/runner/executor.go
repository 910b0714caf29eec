package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/vsavkov/sitesmith/internal/execx"
)

// buildCommand is the full in-container pipeline. Lint runs before the
// production build so lint output lands in the logs even on build failure.
const buildCommand = "cd /project && npm install && npm run lint && npm run build"

const containerPrefix = "sitesmith-build-"

// Executor runs builds in one-shot docker containers with no network and a
// read-only bind mount of the project.
type Executor struct {
	projectsDir string
	image       string
	log         zerolog.Logger

	// run and available are replaced in tests to avoid a docker dependency.
	run       func(ctx context.Context, dir string, timeout time.Duration, name string, args ...string) (execx.Result, error)
	available func(name string) bool
}

func NewExecutor(projectsDir, image string, log zerolog.Logger) *Executor {
	return &Executor{
		projectsDir: projectsDir,
		image:       image,
		log:         log.With().Str("component", "executor").Logger(),
		run:         execx.Run,
		available:   execx.Available,
	}
}

// DockerAvailable reports whether the docker daemon answers.
func (e *Executor) DockerAvailable(ctx context.Context) bool {
	if !e.available("docker") {
		return false
	}
	res, err := e.run(ctx, "", 3*time.Second, "docker", "version", "--format", "{{.Server.Version}}")
	return err == nil && res.ExitCode == 0
}

// Execute runs one containerized build attempt. It never returns an error:
// every failure mode is folded into the result so the caller records it the
// same way as a failing build.
func (e *Executor) Execute(ctx context.Context, req BuildRequest) *BuildResult {
	name := containerPrefix + req.ProjectID
	abs := filepath.Join(e.projectsDir, req.ProjectPath)

	// A previous attempt may have left its container behind.
	e.removeContainer(name)
	defer e.removeContainer(name)

	timeout := time.Duration(req.Timeout) * time.Second
	args := []string{
		"run",
		"--name", name,
		"--network", "none",
		"--memory", req.MemoryLimit,
		"--cpus", req.CPULimit,
		"--workdir", "/project",
		"-v", abs + ":/project:ro",
		e.image,
		"sh", "-c", buildCommand,
	}

	e.log.Info().Str("project_id", req.ProjectID).Str("container", name).Int("timeout_s", req.Timeout).Msg("build starting")
	res, err := e.run(ctx, "", timeout, "docker", args...)
	logs := res.Stdout + res.Stderr

	if res.TimedOut {
		e.log.Warn().Str("project_id", req.ProjectID).Msg("build timed out")
		return &BuildResult{
			Success:  false,
			ExitCode: ExitTimeout,
			Logs:     logs,
			Error:    fmt.Sprintf("Build timeout after %ds", req.Timeout),
		}
	}
	if err != nil && res.ExitCode < 0 {
		// docker itself could not run or was signalled.
		return &BuildResult{
			Success:  false,
			ExitCode: 1,
			Logs:     logs,
			Error:    fmt.Sprintf("Docker error: %v", err),
		}
	}

	result := &BuildResult{
		Success:     res.ExitCode == 0,
		ExitCode:    res.ExitCode,
		Logs:        logs,
		LintOutput:  SplitLintOutput(logs),
		BuildOutput: SplitBuildOutput(logs),
	}
	if !result.Success {
		result.Error = "Build failed"
	}
	e.log.Info().Str("project_id", req.ProjectID).Bool("success", result.Success).Int("exit_code", result.ExitCode).Msg("build finished")
	return result
}

// removeContainer force-removes a container by name. Errors are expected
// when nothing is left to remove.
func (e *Executor) removeContainer(name string) {
	_, _ = e.run(context.Background(), "", 10*time.Second, "docker", "rm", "-f", name)
}
