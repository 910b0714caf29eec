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

const versionColumns = `id, project_id, version_number, spec_snapshot, code_diff, created_by, created_at`

func scanVersion(row pgx.Row) (*Version, error) {
	var v Version
	var snapshot, diff []byte
	err := row.Scan(&v.ID, &v.ProjectID, &v.VersionNumber, &snapshot, &diff, &v.CreatedBy, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan version: %w", err)
	}
	v.SpecSnapshot = json.RawMessage(snapshot)
	if len(diff) > 0 {
		var cd CodeDiff
		if err := json.Unmarshal(diff, &cd); err != nil {
			return nil, fmt.Errorf("decode code diff: %w", err)
		}
		v.CodeDiff = &cd
	}
	return &v, nil
}

// CreateVersion appends the next version for a project. The version number
// is assigned inside the insert, so callers must hold the project lock to
// keep numbers gapless under concurrent iterations.
func (s *Store) CreateVersion(ctx context.Context, projectID string, snapshot json.RawMessage, diff *CodeDiff, createdBy string) (*Version, error) {
	var diffJSON *string
	if !diff.Empty() {
		b, err := json.Marshal(diff)
		if err != nil {
			return nil, fmt.Errorf("encode code diff: %w", err)
		}
		str := string(b)
		diffJSON = &str
	}

	v := &Version{
		ID:           ulid.Make().String(),
		ProjectID:    projectID,
		SpecSnapshot: snapshot,
		CodeDiff:     diff,
		CreatedBy:    createdBy,
		CreatedAt:    time.Now().UTC(),
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO project_versions (id, project_id, version_number, spec_snapshot, code_diff, created_by, created_at)
		 VALUES ($1, $2,
		   (SELECT COALESCE(MAX(version_number), 0) + 1 FROM project_versions WHERE project_id = $2),
		   $3::jsonb, $4::jsonb, $5, $6)
		 RETURNING version_number`,
		v.ID, projectID, string(snapshot), diffJSON, createdBy, v.CreatedAt).Scan(&v.VersionNumber)
	if err != nil {
		return nil, fmt.Errorf("insert version: %w", err)
	}
	return v, nil
}

func (s *Store) VersionByID(ctx context.Context, id string) (*Version, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+versionColumns+` FROM project_versions WHERE id = $1`, id)
	return scanVersion(row)
}

// VersionByNumber resolves a version by its per-project ordinal.
func (s *Store) VersionByNumber(ctx context.Context, projectID string, number int) (*Version, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM project_versions WHERE project_id = $1 AND version_number = $2`,
		projectID, number)
	return scanVersion(row)
}

func (s *Store) VersionsByProject(ctx context.Context, projectID string) ([]*Version, error) {
	q, args, err := psql.Select(versionColumns).
		From("project_versions").
		Where(sq.Eq{"project_id": projectID}).
		OrderBy("version_number DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build versions query: %w", err)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	versions := []*Version{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *Store) LatestVersion(ctx context.Context, projectID string) (*Version, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM project_versions WHERE project_id = $1 ORDER BY version_number DESC LIMIT 1`,
		projectID)
	return scanVersion(row)
}
