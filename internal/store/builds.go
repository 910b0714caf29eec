package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
)

const buildColumns = `id, project_id, version_id, status, attempt_number, build_logs, lint_output, build_output, error_message, preview_url, started_at, completed_at`

func scanBuild(row pgx.Row) (*Build, error) {
	var b Build
	var status string
	err := row.Scan(&b.ID, &b.ProjectID, &b.VersionID, &status, &b.AttemptNumber,
		&b.BuildLogs, &b.LintOutput, &b.BuildOutput, &b.ErrorMessage, &b.PreviewURL,
		&b.StartedAt, &b.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan build: %w", err)
	}
	b.Status = BuildStatus(status)
	return &b, nil
}

// CreateBuild records a new build in pending state. One build row covers all
// repair attempts for a single iteration.
func (s *Store) CreateBuild(ctx context.Context, projectID, versionID string) (*Build, error) {
	b := &Build{
		ID:            ulid.Make().String(),
		ProjectID:     projectID,
		VersionID:     versionID,
		Status:        BuildPending,
		AttemptNumber: 1,
		StartedAt:     time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO builds (id, project_id, version_id, status, attempt_number, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID, b.ProjectID, b.VersionID, string(b.Status), b.AttemptNumber, b.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("insert build: %w", err)
	}
	return b, nil
}

// BuildUpdate carries the mutable fields of a build row. Nil fields are left
// untouched.
type BuildUpdate struct {
	Status        *BuildStatus
	AttemptNumber *int
	BuildLogs     *string
	LintOutput    *string
	BuildOutput   *string
	ErrorMessage  *string
	PreviewURL    *string
	CompletedAt   *time.Time
}

func (s *Store) UpdateBuild(ctx context.Context, id string, upd BuildUpdate) error {
	b := psql.Update("builds").Where(sq.Eq{"id": id})
	set := false
	if upd.Status != nil {
		b = b.Set("status", string(*upd.Status))
		set = true
	}
	if upd.AttemptNumber != nil {
		b = b.Set("attempt_number", *upd.AttemptNumber)
		set = true
	}
	if upd.BuildLogs != nil {
		b = b.Set("build_logs", *upd.BuildLogs)
		set = true
	}
	if upd.LintOutput != nil {
		b = b.Set("lint_output", *upd.LintOutput)
		set = true
	}
	if upd.BuildOutput != nil {
		b = b.Set("build_output", *upd.BuildOutput)
		set = true
	}
	if upd.ErrorMessage != nil {
		b = b.Set("error_message", *upd.ErrorMessage)
		set = true
	}
	if upd.PreviewURL != nil {
		b = b.Set("preview_url", *upd.PreviewURL)
		set = true
	}
	if upd.CompletedAt != nil {
		b = b.Set("completed_at", *upd.CompletedAt)
		set = true
	}
	if !set {
		return nil
	}
	q, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build update query: %w", err)
	}
	ct, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update build: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) BuildByID(ctx context.Context, id string) (*Build, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+buildColumns+` FROM builds WHERE id = $1`, id)
	return scanBuild(row)
}

func (s *Store) BuildsByProject(ctx context.Context, projectID string) ([]*Build, error) {
	q, args, err := psql.Select(buildColumns).
		From("builds").
		Where(sq.Eq{"project_id": projectID}).
		OrderBy("started_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build builds query: %w", err)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}
	defer rows.Close()

	builds := []*Build{}
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, b)
	}
	return builds, rows.Err()
}

func (s *Store) LatestBuild(ctx context.Context, projectID string) (*Build, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+buildColumns+` FROM builds WHERE project_id = $1 ORDER BY started_at DESC, id DESC LIMIT 1`,
		projectID)
	return scanBuild(row)
}
