package main

import (
	"os"

	"github.com/vsavkov/sitesmith/internal/config"
	"github.com/vsavkov/sitesmith/internal/runner"
)

// cmdRunner runs the build service. It executes builds in Docker sandboxes
// on behalf of the control API and shares nothing with it but the projects
// directory and the bearer secret.
func cmdRunner(args []string) {
	cfg := loadConfig(args, config.RoleRunner)
	log := newLogger(cfg.LogLevel)

	exec := runner.NewExecutor(cfg.ProjectsDir, cfg.Runner.Image, log)
	srv := runner.NewServer(cfg.Runner.Addr, cfg.Runner.Secret, cfg.ProjectsDir, exec, log)

	if err := srv.ListenAndServe(); err != nil {
		log.Error().Err(err).Msg("runner stopped")
		os.Exit(1)
	}
}
