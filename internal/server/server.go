// Package server is the control API: authentication, project CRUD and
// iteration endpoints, the credit wallet, and build previews. Handlers
// validate and translate; every project mutation goes through the
// orchestrator so pricing, locking, and the build pipeline stay in one
// place.
package server

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/vsavkov/sitesmith/internal/auth"
	"github.com/vsavkov/sitesmith/internal/ledger"
	"github.com/vsavkov/sitesmith/internal/orchestrator"
	"github.com/vsavkov/sitesmith/internal/store"
)

// Store is the subset of persistence the API reads directly. Mutations go
// through the Orchestrator so pricing and locking stay in one place.
type Store interface {
	CreateUser(ctx context.Context, email, passwordHash, name string) (*store.User, error)
	UserByEmail(ctx context.Context, email string) (*store.User, error)
	UserByID(ctx context.Context, id string) (*store.User, error)

	ProjectByID(ctx context.Context, id string) (*store.Project, error)
	ProjectForOwner(ctx context.Context, id, ownerID string) (*store.Project, error)
	ProjectsByOwner(ctx context.Context, ownerID string) ([]*store.Project, error)

	LatestVersion(ctx context.Context, projectID string) (*store.Version, error)
	LatestBuild(ctx context.Context, projectID string) (*store.Build, error)
	VersionsByProject(ctx context.Context, projectID string) ([]*store.Version, error)
	BuildsByProject(ctx context.Context, projectID string) ([]*store.Build, error)
	BuildByID(ctx context.Context, id string) (*store.Build, error)
	MessagesByProject(ctx context.Context, projectID string) ([]*store.ChatMessage, error)

	Healthy(ctx context.Context) bool
}

// Orchestrator drives every priced project operation.
type Orchestrator interface {
	CreateProject(ctx context.Context, ownerID, name, prompt string) (*orchestrator.CreateResult, error)
	Iterate(ctx context.Context, ownerID, projectID, message string) (*orchestrator.IterationResult, error)
	Rebuild(ctx context.Context, ownerID, projectID string) (*orchestrator.RebuildResult, error)
	Rollback(ctx context.Context, ownerID, projectID, versionID string) (*orchestrator.RebuildResult, error)
	Export(ctx context.Context, ownerID, projectID string) (*orchestrator.ExportResult, error)
	Publish(ctx context.Context, ownerID, projectID string) (*orchestrator.PublishResult, error)
	Delete(ctx context.Context, ownerID, projectID string) error
}

// Ledger is the wallet surface the credit endpoints use.
type Ledger interface {
	Wallet(ctx context.Context, userID string) (*ledger.Wallet, error)
	Grant(ctx context.Context, userID string, amount decimal.Decimal, kind store.TxnKind, description, projectID string) (*ledger.Entry, error)
}

type Config struct {
	Addr        string
	WebOrigin   string
	ProjectsDir string
}

type Server struct {
	cfg    Config
	store  Store
	orch   Orchestrator
	ledger Ledger
	tokens *auth.Tokens
	log    zerolog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	httpSrv *http.Server
}

func New(cfg Config, st Store, orch Orchestrator, led Ledger, tokens *auth.Tokens, log zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		store:   st,
		orch:    orch,
		ledger:  led,
		tokens:  tokens,
		log:     log.With().Str("component", "server").Logger(),
		baseCtx: ctx,
		cancel:  cancel,
	}

	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.WebOrigin},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/preview/{projectID}/{buildID}", s.handlePreview)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", s.handleSignup)
		r.Post("/signin", s.handleSignin)
		r.With(s.requireAuth).Get("/me", s.handleMe)
	})

	r.Route("/projects", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/", s.handleListProjects)
		r.Post("/", s.handleCreateProject)
		r.Route("/{projectID}", func(r chi.Router) {
			r.Get("/", s.handleGetProject)
			r.Delete("/", s.handleDeleteProject)
			r.Post("/prompt", s.handlePrompt)
			r.Post("/rebuild", s.handleRebuild)
			r.Post("/rollback", s.handleRollback)
			r.Post("/export", s.handleExport)
			r.Post("/publish", s.handlePublish)
			r.Get("/versions", s.handleListVersions)
			r.Get("/builds", s.handleListBuilds)
			r.Get("/messages", s.handleListMessages)
			r.Get("/files/tree", s.handleFileTree)
			r.Get("/files/content", s.handleFileContent)
		})
	})

	r.Route("/credits", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/wallet", s.handleWallet)
		r.Get("/costs", s.handleCosts)
		r.Post("/topup", s.handleTopup)
		r.Post("/grant", s.handleGrant)
	})

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	return s
}

// ListenAndServe starts the server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		s.log.Info().Str("signal", sig.String()).Msg("shutting down")
		s.Shutdown()
	}()

	s.log.Info().Str("addr", s.cfg.Addr).Msg("control API listening")
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests, then cancels whatever is left.
func (s *Server) Shutdown() {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = s.httpSrv.Shutdown(shutdownCtx)
	s.cancel()
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := s.store.Healthy(r.Context())
	status := http.StatusOK
	body := map[string]any{"status": "ok", "database": healthy}
	if !healthy {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	s.writeJSON(w, status, body)
}
