package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// ErrDuplicateEmail is returned when a signup collides with an existing
// account.
var ErrDuplicateEmail = errors.New("email already registered")

const userColumns = `id, email, password_hash, name, role, credits::text, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var role, credits string
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &role, &credits, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Role = Role(role)
	d, err := decimal.NewFromString(credits)
	if err != nil {
		return nil, fmt.Errorf("parse credits %q: %w", credits, err)
	}
	u.Credits = d
	return &u, nil
}

// CreateUser inserts a new principal with zero credits. The welcome grant is
// a ledger operation, not part of row creation.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash, name string) (*User, error) {
	now := time.Now().UTC()
	u := &User{
		ID:           ulid.Make().String(),
		Email:        email,
		PasswordHash: passwordHash,
		Name:         name,
		Role:         RoleFree,
		Credits:      decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, name, role, credits, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 0, $6, $6)`,
		u.ID, u.Email, u.PasswordHash, u.Name, string(u.Role), now)
	if err != nil {
		if uniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (s *Store) UserByID(ctx context.Context, id string) (*User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}
