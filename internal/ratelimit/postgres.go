package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Postgres is the durable backend. Each window is one counter row; the row
// is locked FOR UPDATE so concurrent requests from the same principal
// serialize instead of over-admitting.
type Postgres struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
	now  func() time.Time
}

func NewPostgres(pool *pgxpool.Pool, log zerolog.Logger) *Postgres {
	return &Postgres{
		pool: pool,
		log:  log.With().Str("component", "ratelimit").Logger(),
		now:  time.Now,
	}
}

func (p *Postgres) Allow(ctx context.Context, principal, endpoint string, max int, window time.Duration) (bool, error) {
	if err := validateWindow(max, window); err != nil {
		return false, err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin rate limit tx: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			p.log.Warn().Err(rbErr).Msg("rate limit rollback failed")
		}
	}()

	start := windowStart(p.now(), window)

	ct, err := tx.Exec(ctx,
		`INSERT INTO rate_limits (principal_id, endpoint, window_start, request_count)
		 VALUES ($1, $2, $3, 0)
		 ON CONFLICT DO NOTHING`,
		principal, endpoint, start)
	if err != nil {
		return false, fmt.Errorf("ensure window row: %w", err)
	}
	newWindow := ct.RowsAffected() == 1

	var count int
	err = tx.QueryRow(ctx,
		`SELECT request_count FROM rate_limits
		 WHERE principal_id = $1 AND endpoint = $2 AND window_start = $3
		 FOR UPDATE`,
		principal, endpoint, start).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("lock window row: %w", err)
	}

	if count >= max {
		// Deny without incrementing. Commit anyway so the ensured row stays.
		if err := tx.Commit(ctx); err != nil {
			return false, fmt.Errorf("commit rate limit tx: %w", err)
		}
		return false, nil
	}

	if _, err := tx.Exec(ctx,
		`UPDATE rate_limits SET request_count = request_count + 1
		 WHERE principal_id = $1 AND endpoint = $2 AND window_start = $3`,
		principal, endpoint, start); err != nil {
		return false, fmt.Errorf("increment window: %w", err)
	}

	if newWindow {
		// A fresh window is the opportunistic moment to drop stale rows.
		if _, err := tx.Exec(ctx,
			`DELETE FROM rate_limits WHERE window_start < $1`,
			start.Add(-2*window)); err != nil {
			return false, fmt.Errorf("sweep old windows: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit rate limit tx: %w", err)
	}
	return true, nil
}
