package runner

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// buildExecutor is what the HTTP layer needs from the docker side.
type buildExecutor interface {
	Execute(ctx context.Context, req BuildRequest) *BuildResult
	DockerAvailable(ctx context.Context) bool
}

// Server is the runner's HTTP surface: two authenticated build endpoints and
// an open health check.
type Server struct {
	addr        string
	secret      string
	projectsDir string
	exec        buildExecutor
	log         zerolog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	httpSrv *http.Server
}

func NewServer(addr, secret, projectsDir string, exec buildExecutor, log zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:        addr,
		secret:      secret,
		projectsDir: projectsDir,
		exec:        exec,
		log:         log.With().Str("component", "runner").Logger(),
		baseCtx:     ctx,
		cancel:      cancel,
	}

	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(s.requireSecret)
		r.Post("/build", s.handleBuild)
		r.Post("/repair", s.handleBuild)
	})

	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: r,
		// Build requests are long-lived; only bound the read side.
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
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

	s.log.Info().Str("addr", s.addr).Msg("runner listening")
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and cancels running builds.
func (s *Server) Shutdown() {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = s.httpSrv.Shutdown(shutdownCtx)
	s.cancel()
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

func (s *Server) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			s.writeError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid authorization format")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.secret)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "invalid runner secret")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":           "healthy",
		"docker_available": s.exec.DockerAvailable(r.Context()),
	})
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	var req BuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ProjectID == "" || req.ProjectPath == "" {
		s.writeError(w, http.StatusBadRequest, "project_id and project_path are required")
		return
	}
	if !s.exec.DockerAvailable(r.Context()) {
		s.writeError(w, http.StatusServiceUnavailable, "docker not available")
		return
	}

	abs, err := s.resolveProjectPath(req.ProjectPath)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := os.Stat(abs); err != nil {
		s.writeError(w, http.StatusNotFound, "project path not found: "+req.ProjectPath)
		return
	}

	result := s.exec.Execute(r.Context(), req)
	s.writeJSON(w, http.StatusOK, result)
}

// resolveProjectPath joins the request path onto the projects directory and
// rejects anything that escapes it.
func (s *Server) resolveProjectPath(rel string) (string, error) {
	root, err := filepath.Abs(s.projectsDir)
	if err != nil {
		return "", err
	}
	abs := filepath.Clean(filepath.Join(root, rel))
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", errors.New("project_path escapes projects directory")
	}
	return abs, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
