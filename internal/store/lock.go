package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// ErrLockBusy is returned when another iteration holds the project lock for
// longer than the acquisition deadline.
var ErrLockBusy = errors.New("project is busy")

const (
	lockAcquireTimeout = 10 * time.Second
	lockPollInterval   = 100 * time.Millisecond
)

// lockKey maps a project id onto the 64-bit advisory lock space.
func lockKey(projectID string) int64 {
	sum := blake3.Sum256([]byte("project-lock:" + projectID))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// WithProjectLock serializes fn against all other holders of the same
// project's advisory lock. The lock is session-scoped on a dedicated
// connection so it survives the multiple transactions an iteration performs,
// and it is released on every exit path. Acquisition blocks by polling
// pg_try_advisory_lock until lockAcquireTimeout, then fails with ErrLockBusy.
func (s *Store) WithProjectLock(ctx context.Context, projectID string, fn func(ctx context.Context) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire lock connection: %w", err)
	}
	defer conn.Release()

	key := lockKey(projectID)
	deadline := time.Now().Add(lockAcquireTimeout)
	for {
		var locked bool
		if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&locked); err != nil {
			return fmt.Errorf("try advisory lock: %w", err)
		}
		if locked {
			break
		}
		if time.Now().After(deadline) {
			return ErrLockBusy
		}
		if err := sleepCtx(ctx, lockPollInterval); err != nil {
			return err
		}
	}
	defer func() {
		// Unlock on a fresh context: the caller's context may already be done.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var unlocked bool
		if err := conn.QueryRow(unlockCtx, `SELECT pg_advisory_unlock($1)`, key).Scan(&unlocked); err != nil || !unlocked {
			s.log.Warn().Err(err).Str("project_id", projectID).Msg("advisory unlock failed")
		}
	}()

	return fn(ctx)
}
