package server

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/vsavkov/sitesmith/internal/store"
)

// previewLogLimit bounds how much build output the failure page inlines.
const previewLogLimit = 5000

var previewTmpl = template.Must(template.New("preview").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.ProjectName}}</title>
<style>
  body { font-family: system-ui, sans-serif; margin: 0; }
  main { padding: 4rem 2rem; text-align: center; }
  .badge { display: inline-block; padding: 0.25rem 0.75rem; border-radius: 9999px; font-size: 0.8rem; }
  .ok { background: #dcfce7; color: #166534; }
  .bad { background: #fee2e2; color: #991b1b; }
  pre { text-align: left; background: #f4f4f5; padding: 1rem; overflow-x: auto; white-space: pre-wrap; }
  footer { padding: 1rem; font-size: 0.75rem; color: #71717a; text-align: center; }
</style>
</head>
<body>
<main>
  <h1>{{.ProjectName}}</h1>
  {{if .Live}}
  <p><span class="badge ok">build {{.Status}}</span></p>
  <p>Build {{.BuildID}} is live.</p>
  {{else}}
  <p><span class="badge bad">build {{.Status}}</span></p>
  {{if .Error}}<p>{{.Error}}</p>{{end}}
  {{if .Logs}}<pre>{{.Logs}}</pre>{{end}}
  {{end}}
</main>
{{if .Watermark}}<footer>Built with SiteSmith</footer>{{end}}
</body>
</html>
`))

var previewErrTmpl = template.Must(template.New("previewError").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Preview unavailable</title></head>
<body><main><h1>Preview unavailable</h1><p>{{.}}</p></main></body>
</html>
`))

type previewData struct {
	ProjectName string
	BuildID     string
	Status      string
	Live        bool
	Error       string
	Logs        string
	Watermark   bool
}

// handlePreview serves the build status page for a project. The page itself
// is public so iframe embeds work without header plumbing, but a signed-in
// viewer who is not the owner is turned away.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	buildID := chi.URLParam(r, "buildID")
	if !validULID(projectID) || !validULID(buildID) {
		s.previewError(w, http.StatusNotFound, "preview not found")
		return
	}

	project, err := s.store.ProjectByID(r.Context(), projectID)
	if err != nil {
		s.previewError(w, http.StatusNotFound, "preview not found")
		return
	}
	build, err := s.store.BuildByID(r.Context(), buildID)
	if err != nil || build.ProjectID != project.ID {
		s.previewError(w, http.StatusNotFound, "preview not found")
		return
	}

	if viewer := s.previewViewer(r); viewer != "" && viewer != project.OwnerID {
		s.previewError(w, http.StatusForbidden, "this preview belongs to another account")
		return
	}

	logs := build.BuildLogs
	if len(logs) > previewLogLimit {
		logs = logs[:previewLogLimit]
	}
	s.renderPreview(w, http.StatusOK, previewData{
		ProjectName: project.Name,
		BuildID:     build.ID,
		Status:      string(build.Status),
		Live:        build.Status == store.BuildSuccess,
		Error:       build.ErrorMessage,
		Logs:        logs,
		Watermark:   project.WatermarkEnabled,
	})
}

// previewViewer resolves an optional bearer token. Missing or invalid
// tokens mean an anonymous viewer, never an error.
func (s *Server) previewViewer(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	userID, err := s.tokens.Verify(token)
	if err != nil {
		return ""
	}
	return userID
}

func (s *Server) renderPreview(w http.ResponseWriter, status int, data previewData) {
	s.setPreviewHeaders(w)
	w.WriteHeader(status)
	if err := previewTmpl.Execute(w, data); err != nil {
		s.log.Error().Err(err).Msg("render preview")
	}
}

func (s *Server) previewError(w http.ResponseWriter, status int, msg string) {
	s.setPreviewHeaders(w)
	w.WriteHeader(status)
	if err := previewErrTmpl.Execute(w, msg); err != nil {
		s.log.Error().Err(err).Msg("render preview error")
	}
}

// setPreviewHeaders pins the embedding policy: only the web app may frame
// previews, and browsers must not sniff past the declared type.
func (s *Server) setPreviewHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Security-Policy", fmt.Sprintf("frame-ancestors %s", s.cfg.WebOrigin))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
}

func validULID(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}
