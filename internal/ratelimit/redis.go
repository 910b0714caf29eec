package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// allowScript checks the counter against the cap and increments only when
// admitting, in one atomic server-side step. The key expires two windows
// after creation, which makes garbage collection implicit.
var allowScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current and tonumber(current) >= tonumber(ARGV[1]) then
  return 0
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return current
`)

// Redis is the shared-cache backend for multi-process deployments.
type Redis struct {
	client *redis.Client
	log    zerolog.Logger
	now    func() time.Time
}

func NewRedis(client *redis.Client, log zerolog.Logger) *Redis {
	return &Redis{
		client: client,
		log:    log.With().Str("component", "ratelimit").Logger(),
		now:    time.Now,
	}
}

func (r *Redis) Allow(ctx context.Context, principal, endpoint string, max int, window time.Duration) (bool, error) {
	if err := validateWindow(max, window); err != nil {
		return false, err
	}

	start := windowStart(r.now(), window)
	key := fmt.Sprintf("ratelimit:%s:%s:%d", principal, endpoint, start.Unix())
	ttl := int((2 * window).Seconds())

	n, err := allowScript.Run(ctx, r.client, []string{key}, max, ttl).Int()
	if err != nil {
		return false, fmt.Errorf("run rate limit script: %w", err)
	}
	return n > 0, nil
}
