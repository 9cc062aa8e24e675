package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/broadcast-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 20
	minRetryAfter            = 10 * time.Millisecond
	maxRetryAfter            = 200 * time.Millisecond
	windowMillis             = 1000
	rateLimitKeyPrefix       = "ratelimit"
)

// acquireScript counts calls in a fixed one-second window. The first INCR of
// a window arms its expiry. A rejected call gets the window's remaining
// lifetime in milliseconds, an admitted one gets 0.
var acquireScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  local ttl = redis.call("PTTL", KEYS[1])
  if ttl < 1 then
    ttl = 1
  end
  return ttl
end
return 0
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// Limits is the tenant-wide per-second budget. Scopes missing from PerScope
// use Default.
type Limits struct {
	Default  int
	PerScope map[string]int
}

// RedisRateLimiter shares a per-second call budget across every worker
// process talking to the directory.
type RedisRateLimiter struct {
	client   *goredis.Client
	fallback int64
	perScope map[string]int64
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	script   *goredis.Script
}

func NewRedisRateLimiter(client *goredis.Client, limits Limits) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, limits, time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limits Limits,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	fallback := int64(limits.Default)
	if fallback <= 0 {
		fallback = defaultLimitPerSec
	}
	perScope := make(map[string]int64, len(limits.PerScope))
	for scope, limit := range limits.PerScope {
		if limit > 0 {
			perScope[normalizeScope(scope)] = int64(limit)
		}
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:   client,
		fallback: fallback,
		perScope: perScope,
		now:      nowFn,
		sleep:    sleepFn,
		script:   acquireScript,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	retryAfter, err := r.acquire(ctx, scope)
	if err != nil {
		return false, err
	}
	return retryAfter == 0, nil
}

// Wait blocks until the scope has budget left or ctx is done. Between tries
// it sleeps for what remains of the exhausted window, bounded so a skewed
// clock cannot park a caller for long.
func (r *RedisRateLimiter) Wait(ctx context.Context, scope string) error {
	for {
		retryAfter, err := r.acquire(ctx, scope)
		if err != nil {
			return err
		}
		if retryAfter == 0 {
			return nil
		}

		if err := r.sleep(ctx, min(max(retryAfter, minRetryAfter), maxRetryAfter)); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) acquire(ctx context.Context, scope string) (time.Duration, error) {
	if r == nil || r.client == nil || r.script == nil {
		return 0, fmt.Errorf("rate limiter is not initialized")
	}

	normalized := normalizeScope(scope)
	if normalized == "" {
		return 0, fmt.Errorf("rate limit scope is required")
	}

	key := r.windowKey(normalized)
	retryAfterMs, err := r.script.Run(ctx, r.client, []string{key}, r.limitFor(normalized), windowMillis).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return time.Duration(retryAfterMs) * time.Millisecond, nil
}

func (r *RedisRateLimiter) limitFor(scope string) int64 {
	if limit, ok := r.perScope[scope]; ok {
		return limit
	}
	return r.fallback
}

// windowKey hash-tags the scope so every window of a scope lands on one
// cluster slot.
func (r *RedisRateLimiter) windowKey(scope string) string {
	return fmt.Sprintf("%s:{%s}:%d", rateLimitKeyPrefix, scope, r.now().UTC().Unix())
}

func normalizeScope(scope string) string {
	return strings.ToLower(strings.TrimSpace(scope))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
