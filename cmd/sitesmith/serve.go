package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/vsavkov/sitesmith/internal/auth"
	"github.com/vsavkov/sitesmith/internal/config"
	"github.com/vsavkov/sitesmith/internal/ledger"
	"github.com/vsavkov/sitesmith/internal/orchestrator"
	"github.com/vsavkov/sitesmith/internal/ratelimit"
	"github.com/vsavkov/sitesmith/internal/runner"
	"github.com/vsavkov/sitesmith/internal/server"
	"github.com/vsavkov/sitesmith/internal/store"
)

// cmdServe runs the control API: connects to the database, assembles the
// orchestrator and its collaborators, and serves until interrupted.
func cmdServe(args []string) {
	cfg := loadConfig(args, config.RoleServe)
	log := newLogger(cfg.LogLevel)

	ctx := context.Background()

	st, err := store.Connect(ctx, cfg.DatabaseURL, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer st.Close()

	led := ledger.New(st.Pool(), log)

	limiter, err := ratelimit.New(ctx, cfg.RateLimit, st.Pool(), log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	runnerClient := runner.NewClient(cfg.Runner, log)

	orch := orchestrator.New(orchestrator.Config{
		ProjectsDir:  cfg.ProjectsDir,
		TemplatesDir: cfg.TemplatesDir,
		WebOrigin:    cfg.WebOrigin,
		PromptMax:    cfg.RateLimit.PromptMax,
		PromptWindow: time.Duration(cfg.RateLimit.PromptWindowS) * time.Second,
	}, st, led, runnerClient, limiter, log)

	srv := server.New(server.Config{
		Addr:        cfg.Addr,
		WebOrigin:   cfg.WebOrigin,
		ProjectsDir: cfg.ProjectsDir,
	}, st, orch, led, auth.NewTokens(cfg.JWTSecret), log)

	if err := srv.ListenAndServe(); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}
