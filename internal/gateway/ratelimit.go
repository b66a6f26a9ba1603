package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	requestKeyPrefix = "gw:rpm:"
	tokenKeyPrefix   = "gw:tpm:"
	windowDuration   = 60 * time.Second
	keyTTL           = 90 * time.Second
)

// ErrRateLimitExceeded means a local sliding window is full. The upstream
// was never contacted; callers should back off and retry later.
var ErrRateLimitExceeded = errors.New("provider rate limit exceeded")

// allowScript cleans the window, sums the weighted members, and admits or
// rejects in a single atomic step, so concurrent callers cannot all read
// the same pre-admission total. Each member encodes its weight as a
// ":<n>" suffix so token windows and request windows share one mechanism.
//
// KEYS[1] window key
// ARGV[1] window start (ms), ARGV[2] weight, ARGV[3] limit,
// ARGV[4] now (ms), ARGV[5] member, ARGV[6] key TTL (ms)
var allowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local used = 0
for _, m in ipairs(redis.call('ZRANGE', KEYS[1], 0, -1)) do
	used = used + (tonumber(string.match(m, ':(%d+)$')) or 1)
end
if used + tonumber(ARGV[2]) > tonumber(ARGV[3]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[4], ARGV[5])
redis.call('PEXPIRE', KEYS[1], ARGV[6])
return 1
`)

// RateLimiter enforces per-minute request and token ceilings before a
// provider call leaves the process. Windows are Redis sorted sets keyed
// by provider and credential so tenants sharing a credential share its
// budget.
type RateLimiter struct {
	rdb redis.Cmdable

	// seq disambiguates members created in the same nanosecond, which
	// would otherwise collapse into one sorted-set entry.
	seq atomic.Uint64
}

func NewRateLimiter(rdb redis.Cmdable) *RateLimiter {
	return &RateLimiter{rdb: rdb}
}

// AllowRequest checks and occupies one request slot in the sliding window.
// maxPerMinute <= 0 disables the check.
func (rl *RateLimiter) AllowRequest(ctx context.Context, providerCode, credentialKey string, maxPerMinute int) (bool, error) {
	if maxPerMinute <= 0 {
		return true, nil
	}
	return rl.allow(ctx, requestKeyPrefix+providerCode+":"+credentialKey, 1, int64(maxPerMinute))
}

// AllowTokens checks and occupies estimated token weight in the sliding
// window. maxPerMinute <= 0 disables the check.
func (rl *RateLimiter) AllowTokens(ctx context.Context, providerCode, credentialKey string, tokens int64, maxPerMinute int) (bool, error) {
	if maxPerMinute <= 0 || tokens <= 0 {
		return true, nil
	}
	return rl.allow(ctx, tokenKeyPrefix+providerCode+":"+credentialKey, tokens, int64(maxPerMinute))
}

func (rl *RateLimiter) allow(ctx context.Context, key string, weight, limit int64) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-windowDuration).UnixMilli()
	member := fmt.Sprintf("%d:%d:%d", now.UnixNano(), rl.seq.Add(1), weight)

	admitted, err := allowScript.Run(ctx, rl.rdb, []string{key},
		windowStart, weight, limit, now.UnixMilli(), member, keyTTL.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("rate limiter script: %w", err)
	}
	return admitted == 1, nil
}
