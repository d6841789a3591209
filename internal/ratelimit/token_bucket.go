// Package ratelimit throttles report submissions per reporter.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter admits or refuses one unit of work for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// TokenBucket is a token bucket shared by every process talking to the same Redis.
type TokenBucket struct {
	client   redis.UniversalClient
	prefix   string
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
	now      func() time.Time
}

func NewTokenBucket(client redis.UniversalClient, prefix string, capacity int, refillPerSecond float64) *TokenBucket {
	return &TokenBucket{
		client:   client,
		prefix:   prefix,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      idleTTL(capacity, refillPerSecond),
		now:      time.Now,
	}
}

// Allow consumes a token for key if one is available.
func (b *TokenBucket) Allow(ctx context.Context, key string) (bool, error) {
	res, err := bucketScript.Run(ctx, b.client,
		[]string{fmt.Sprintf("%s:ratelimit:%s", b.prefix, key)},
		b.capacity, b.refill, b.now().UnixMilli(), b.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return len(res) > 0 && res[0] == 1, nil
}

// Tokens are stored as a string so fractional refills survive the Lua number to Redis reply conversion.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
tokens = math.min(capacity, tokens + delta / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed}
`)

// Local keeps one rate.Limiter per key, for single-instance deployments.
// Limiters idle long enough to have refilled completely are pruned.
type Local struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	limiters  map[string]*localEntry
	lastPrune time.Time
	now       func() time.Time
}

type localEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewLocal(capacity int, refillPerSecond float64) *Local {
	return &Local{
		limit:    rate.Limit(refillPerSecond),
		burst:    capacity,
		ttl:      idleTTL(capacity, refillPerSecond),
		limiters: make(map[string]*localEntry),
		now:      time.Now,
	}
}

func (l *Local) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.prune(now)
	e, ok := l.limiters[key]
	if !ok {
		e = &localEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1), nil
}

func (l *Local) prune(now time.Time) {
	if now.Sub(l.lastPrune) < l.ttl {
		return
	}
	l.lastPrune = now
	for key, e := range l.limiters {
		if now.Sub(e.seen) >= l.ttl {
			delete(l.limiters, key)
		}
	}
}

// idleTTL is how long a bucket takes to refill completely; after that its state is redundant.
func idleTTL(capacity int, refill float64) time.Duration {
	if refill <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(float64(capacity)/refill*float64(time.Second)) + time.Minute
}
