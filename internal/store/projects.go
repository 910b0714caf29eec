package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const projectColumns = `id, user_id, name, description, initial_prompt, current_spec, status, preview_url, published_url, watermark_enabled, created_at, updated_at`

func scanProject(row pgx.Row) (*Project, error) {
	var p Project
	var status string
	var spec []byte
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.InitialPrompt, &spec,
		&status, &p.PreviewURL, &p.PublishedURL, &p.WatermarkEnabled, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan project: %w", err)
	}
	p.Status = ProjectStatus(status)
	p.CurrentSpec = json.RawMessage(spec)
	return &p, nil
}

// CreateProject inserts a project in draft state.
func (s *Store) CreateProject(ctx context.Context, ownerID, name, description, initialPrompt string, spec json.RawMessage) (*Project, error) {
	now := time.Now().UTC()
	p := &Project{
		ID:               ulid.Make().String(),
		OwnerID:          ownerID,
		Name:             name,
		Description:      description,
		InitialPrompt:    initialPrompt,
		CurrentSpec:      spec,
		Status:           ProjectDraft,
		WatermarkEnabled: true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO projects (id, user_id, name, description, initial_prompt, current_spec, status, watermark_enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $9)`,
		p.ID, p.OwnerID, p.Name, p.Description, p.InitialPrompt, string(spec), string(p.Status), p.WatermarkEnabled, now)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	return p, nil
}

func (s *Store) ProjectByID(ctx context.Context, id string) (*Project, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	return scanProject(row)
}

// ProjectForOwner loads a project only when ownerID owns it. A cross-tenant
// id yields ErrNotFound, indistinguishable from a missing row.
func (s *Store) ProjectForOwner(ctx context.Context, id, ownerID string) (*Project, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1 AND user_id = $2`, id, ownerID)
	return scanProject(row)
}

func (s *Store) ProjectsByOwner(ctx context.Context, ownerID string) ([]*Project, error) {
	q, args, err := psql.Select(projectColumns).
		From("projects").
		Where(sq.Eq{"user_id": ownerID}).
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build projects query: %w", err)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := []*Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// SetProjectStatus transitions status and stamps updated_at.
func (s *Store) SetProjectStatus(ctx context.Context, id string, status ProjectStatus) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE projects SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update project status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetProjectReady marks the project ready and records its preview URL.
func (s *Store) SetProjectReady(ctx context.Context, id, previewURL string) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE projects SET status = $1, preview_url = $2, updated_at = $3 WHERE id = $4`,
		string(ProjectReady), previewURL, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update project ready: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetProjectPublished marks the project published at publishedURL.
func (s *Store) SetProjectPublished(ctx context.Context, id, publishedURL string) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE projects SET status = $1, published_url = $2, updated_at = $3 WHERE id = $4`,
		string(ProjectPublished), publishedURL, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update project published: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateProjectSpec overwrites current_spec.
func (s *Store) UpdateProjectSpec(ctx context.Context, id string, spec json.RawMessage) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE projects SET current_spec = $1::jsonb, updated_at = $2 WHERE id = $3`,
		string(spec), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update project spec: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProject removes the project row; versions, builds, and messages
// cascade.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
