// Package store is the durable adapter for projects, versions, builds, chat
// messages, and principals. All SQL lives here or in the ledger; callers get
// named operations and never assemble query strings.
package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a row does not exist or is not visible to the
// caller. Cross-tenant reads deliberately collapse to this same error.
var ErrNotFound = errors.New("not found")

type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func New(pool *pgxpool.Pool, log zerolog.Logger) *Store {
	return &Store{pool: pool, log: log.With().Str("component", "store").Logger()}
}

// Connect opens a pool against databaseURL and verifies connectivity.
func Connect(ctx context.Context, databaseURL string, log zerolog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(pool, log), nil
}

func (s *Store) Close() { s.pool.Close() }

// Pool exposes the underlying pool for components that own their own SQL
// (the credit ledger, the durable rate limiter).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate applies the schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.log.Info().Msg("schema applied")
	return nil
}

// Healthy reports database reachability for health endpoints.
func (s *Store) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx) == nil
}

// serializationFailure reports Postgres codes that are safe to retry under
// SERIALIZABLE isolation (serialization_failure, deadlock_detected).
func serializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// uniqueViolation reports code 23505 so callers can map duplicates to domain
// errors.
func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505"
}

// WithSerializableTx runs fn inside a SERIALIZABLE transaction, retrying on
// serialization failures with jittered backoff. The rollback error after a
// successful commit is pgx.ErrTxClosed and is ignored.
func WithSerializableTx(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger, fn func(ctx context.Context, tx pgx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt <= txRetryLimit; attempt++ {
		if attempt > 0 {
			delay := DelayForAttempt(attempt, defaultTxBackoff(), fmt.Sprintf("tx:%d", attempt))
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}
			log.Debug().Int("attempt", attempt).Msg("retrying serializable transaction")
		}
		lastErr = runSerializableTx(ctx, pool, log, fn)
		if lastErr == nil || !serializationFailure(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("transaction retries exhausted: %w", lastErr)
}

func runSerializableTx(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			log.Warn().Err(rbErr).Msg("transaction rollback failed")
		}
	}()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
