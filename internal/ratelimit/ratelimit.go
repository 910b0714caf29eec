// Package ratelimit implements a fixed-window request counter keyed by
// (principal, endpoint, window start). Three backends conform to the same
// interface: a process-local map for single-process deployments, durable
// counter rows in Postgres, and Redis for multi-process deployments that
// want cheap expiry. Old windows are garbage-collected opportunistically on
// write.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vsavkov/sitesmith/internal/config"
)

// Limiter answers whether one more request fits inside the current window.
// A denied request must not advance the counter.
type Limiter interface {
	Allow(ctx context.Context, principal, endpoint string, max int, window time.Duration) (bool, error)
}

// New builds the limiter selected by configuration.
func New(ctx context.Context, cfg config.RateLimitConfig, pool *pgxpool.Pool, log zerolog.Logger) (Limiter, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemory(), nil
	case config.BackendPostgres:
		if pool == nil {
			return nil, errors.New("postgres rate limit backend requires a database pool")
		}
		return NewPostgres(pool, log), nil
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return NewRedis(client, log), nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.Backend)
	}
}

// windowStart floors now onto the window grid.
func windowStart(now time.Time, window time.Duration) time.Time {
	return now.UTC().Truncate(window)
}

func validateWindow(max int, window time.Duration) error {
	if max <= 0 {
		return fmt.Errorf("rate limit max must be positive, got %d", max)
	}
	if window <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %s", window)
	}
	return nil
}
