package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vsavkov/sitesmith/internal/orchestrator"
	"github.com/vsavkov/sitesmith/internal/store"
)

type createProjectRequest struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

type createProjectResponse struct {
	Project    projectResponse         `json:"project"`
	Version    versionResponse         `json:"version"`
	Build      *buildResponse          `json:"build,omitempty"`
	CreditInfo orchestrator.CreditInfo `json:"credit_info"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}

	res, err := s.orch.CreateProject(r.Context(), principalID(r.Context()), req.Name, req.Prompt)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, createProjectResponse{
		Project:    toProjectResponse(res.Project, true),
		Version:    toVersionResponse(res.Version),
		Build:      toBuildResponsePtr(res.Build),
		CreditInfo: res.CreditInfo,
	})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ProjectsByOwner(r.Context(), principalID(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out := make([]projectResponse, 0, len(projects))
	for _, p := range projects {
		out = append(out, toProjectResponse(p, false))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"projects": out})
}

// handleGetProject is the one read that distinguishes "not yours" from
// "does not exist": the dashboard uses the 403 to explain a stale link.
func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.ProjectByID(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if project.OwnerID != principalID(r.Context()) {
		s.writeError(w, http.StatusForbidden, "FORBIDDEN", "you do not own this project")
		return
	}

	detail := projectDetailResponse{projectResponse: toProjectResponse(project, true)}
	if v, err := s.store.LatestVersion(r.Context(), project.ID); err == nil {
		vr := toVersionResponse(v)
		detail.LatestVersion = &vr
	} else if !errors.Is(err, store.ErrNotFound) {
		s.writeDomainError(w, err)
		return
	}
	if b, err := s.store.LatestBuild(r.Context(), project.ID); err == nil {
		br := toBuildResponse(b)
		detail.LatestBuild = &br
	} else if !errors.Is(err, store.ErrNotFound) {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	err := s.orch.Delete(r.Context(), principalID(r.Context()), chi.URLParam(r, "projectID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type promptRequest struct {
	Message string `json:"message"`
}

type iterationResponse struct {
	Version        versionResponse         `json:"version"`
	Build          *buildResponse          `json:"build,omitempty"`
	ChangeSize     string                  `json:"change_size"`
	CreditsCharged string                  `json:"credits_charged"`
	CreditInfo     orchestrator.CreditInfo `json:"credit_info"`
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}

	res, err := s.orch.Iterate(r.Context(), principalID(r.Context()), chi.URLParam(r, "projectID"), req.Message)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, iterationResponse{
		Version:        toVersionResponse(res.Version),
		Build:          toBuildResponsePtr(res.Build),
		ChangeSize:     string(res.ChangeSize),
		CreditsCharged: money(res.CreditsCharged),
		CreditInfo:     res.CreditInfo,
	})
}

type rebuildResponse struct {
	Version    versionResponse         `json:"version"`
	Build      *buildResponse          `json:"build,omitempty"`
	CreditInfo orchestrator.CreditInfo `json:"credit_info"`
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.Rebuild(r.Context(), principalID(r.Context()), chi.URLParam(r, "projectID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rebuildResponse{
		Version:    toVersionResponse(res.Version),
		Build:      toBuildResponsePtr(res.Build),
		CreditInfo: res.CreditInfo,
	})
}

type rollbackRequest struct {
	VersionID string `json:"version_id"`
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.VersionID) == "" {
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "version_id is required")
		return
	}

	res, err := s.orch.Rollback(r.Context(), principalID(r.Context()), chi.URLParam(r, "projectID"), req.VersionID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rebuildResponse{
		Version:    toVersionResponse(res.Version),
		Build:      toBuildResponsePtr(res.Build),
		CreditInfo: res.CreditInfo,
	})
}

type exportResponse struct {
	DownloadURL string                  `json:"download_url"`
	ExpiresAt   time.Time               `json:"expires_at"`
	CreditInfo  orchestrator.CreditInfo `json:"credit_info"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.Export(r.Context(), principalID(r.Context()), chi.URLParam(r, "projectID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, exportResponse{
		DownloadURL: res.DownloadURL,
		ExpiresAt:   res.ExpiresAt,
		CreditInfo:  res.CreditInfo,
	})
}

type publishResponse struct {
	ProductionURL string                  `json:"production_url"`
	CreditInfo    orchestrator.CreditInfo `json:"credit_info"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.Publish(r.Context(), principalID(r.Context()), chi.URLParam(r, "projectID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, publishResponse{
		ProductionURL: res.ProductionURL,
		CreditInfo:    res.CreditInfo,
	})
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.ProjectForOwner(r.Context(), chi.URLParam(r, "projectID"), principalID(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	versions, err := s.store.VersionsByProject(r.Context(), project.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out := make([]versionResponse, 0, len(versions))
	for _, v := range versions {
		out = append(out, toVersionResponse(v))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"versions": out})
}

func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.ProjectForOwner(r.Context(), chi.URLParam(r, "projectID"), principalID(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	builds, err := s.store.BuildsByProject(r.Context(), project.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out := make([]buildResponse, 0, len(builds))
	for _, b := range builds {
		out = append(out, toBuildResponse(b))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"builds": out})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.ProjectForOwner(r.Context(), chi.URLParam(r, "projectID"), principalID(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	messages, err := s.store.MessagesByProject(r.Context(), project.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out := make([]messageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, toMessageResponse(m))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}
