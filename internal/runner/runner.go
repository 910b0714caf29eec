// Package runner executes project builds in throwaway containers behind a
// small authenticated HTTP service, and provides the client the control
// plane uses to reach it. The two halves share one wire protocol.
package runner

// BuildRequest asks the runner to build the project at ProjectPath, a path
// relative to the runner's projects directory. ErrorLogs is set on repair
// requests only.
type BuildRequest struct {
	ProjectID   string `json:"project_id"`
	ProjectPath string `json:"project_path"`
	ErrorLogs   string `json:"error_logs,omitempty"`
	Timeout     int    `json:"timeout"`
	MemoryLimit string `json:"memory_limit"`
	CPULimit    string `json:"cpu_limit"`
}

// BuildResult is the runner's verdict on one attempt. Logs carry the full
// container output; LintOutput and BuildOutput are the extracted segments.
type BuildResult struct {
	Success     bool   `json:"success"`
	ExitCode    int    `json:"exit_code"`
	Logs        string `json:"logs"`
	LintOutput  string `json:"lint_output,omitempty"`
	BuildOutput string `json:"build_output,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ExitTimeout is the exit code reserved for builds killed at the deadline.
const ExitTimeout = 124
