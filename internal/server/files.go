package server

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/vsavkov/sitesmith/internal/diff"
)

// handleFileTree returns the project's source tree with generated and VCS
// directories pruned.
func (s *Server) handleFileTree(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.ProjectForOwner(r.Context(), chi.URLParam(r, "projectID"), principalID(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	root := filepath.Join(s.cfg.ProjectsDir, project.ID)
	tree, err := listTree(root, "")
	if err != nil {
		if os.IsNotExist(err) {
			s.writeError(w, http.StatusNotFound, "NOT_FOUND", "project files not found")
			return
		}
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tree": tree})
}

func (s *Server) handleFileContent(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.ProjectForOwner(r.Context(), chi.URLParam(r, "projectID"), principalID(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	rel := r.URL.Query().Get("path")
	if rel == "" {
		s.writeError(w, http.StatusBadRequest, "INVALID_PATH", "path query parameter is required")
		return
	}

	root := filepath.Join(s.cfg.ProjectsDir, project.ID)
	if err := diff.Readable(root, rel); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_PATH", err.Error())
		return
	}

	full := filepath.Join(root, rel)
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			s.writeError(w, http.StatusNotFound, "NOT_FOUND", "file not found")
			return
		}
		s.writeDomainError(w, err)
		return
	}
	if info.IsDir() {
		s.writeError(w, http.StatusBadRequest, "INVALID_PATH", "path is a directory")
		return
	}

	data, err := os.ReadFile(full)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"path": rel, "content": string(data)})
}

// listTree walks dir recursively. rel is the path prefix recorded on nodes.
// Directories sort before files, each group alphabetical.
func listTree(dir, rel string) ([]*treeNode, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	nodes := make([]*treeNode, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if diff.SkipDir(name) {
			continue
		}
		path := name
		if rel != "" {
			path = rel + "/" + name
		}
		node := &treeNode{Name: name, Path: path, Type: "file"}
		if entry.IsDir() {
			node.Type = "directory"
			children, err := listTree(filepath.Join(dir, name), path)
			if err != nil {
				return nil, err
			}
			node.Children = children
		}
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Type != nodes[j].Type {
			return nodes[i].Type == "directory"
		}
		return nodes[i].Name < nodes[j].Name
	})
	return nodes, nil
}
