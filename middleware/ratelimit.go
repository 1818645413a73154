package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GoCodeAlone/actormesh/envelope"
	"github.com/redis/go-redis/v9"
)

// RateLimitError is the failure kind surfaced when a token bucket is
// exhausted (§4.N).
type RateLimitError struct {
	Key string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %q", e.Key)
}

// KeyFunc derives the rate-limit bucket key for an invocation. The
// recommendation is per-principal (Principal.ID); passing a constant
// function yields a single global bucket.
type KeyFunc func(mctx *Context) string

// PerPrincipalKey buckets by the authenticated Principal's ID, falling
// back to the raw actorID when Authentication did not run upstream of
// rate limiting.
func PerPrincipalKey(mctx *Context) string {
	if p, ok := PrincipalFromContext(mctx.Context); ok {
		return p.ID
	}
	return mctx.Envelope.ActorID.ID
}

// GlobalKey buckets every invocation together.
func GlobalKey(mctx *Context) string { return "global" }

// Limiter is the interface both the local and Redis-backed
// implementations satisfy: Allow reports whether one token is
// available for key, consuming it if so.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimit returns a middleware enforcing limiter against the bucket
// key keyFn derives from each invocation.
func RateLimit(limiter Limiter, keyFn KeyFunc) Middleware {
	if keyFn == nil {
		keyFn = PerPrincipalKey
	}
	return func(next Handler) Handler {
		return func(mctx *Context) *envelope.Envelope {
			key := keyFn(mctx)
			ok, err := limiter.Allow(mctx.Context, key)
			if err != nil || !ok {
				return envelope.Failure(mctx.Envelope.CallID, (&RateLimitError{Key: key}).Error())
			}
			return next(mctx)
		}
	}
}

// --- local in-process token bucket ---

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// LocalLimiter is an in-memory token bucket per key, for single-process
// deployments and tests.
type LocalLimiter struct {
	mu                sync.Mutex
	buckets           map[string]*bucket
	requestsPerSecond float64
	burstSize         float64
}

// NewLocalLimiter builds a LocalLimiter with the given refill rate and
// burst capacity.
func NewLocalLimiter(requestsPerSecond float64, burstSize int) *LocalLimiter {
	return &LocalLimiter{
		buckets:           make(map[string]*bucket),
		requestsPerSecond: requestsPerSecond,
		burstSize:         float64(burstSize),
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burstSize, lastRefill: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * l.requestsPerSecond
	if b.tokens > l.burstSize {
		b.tokens = l.burstSize
	}
	b.lastRefill = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// --- Redis-backed token bucket, for multi-process deployments ---

// redisTokenBucketScript refills and debits a token in one round trip so
// concurrent callers across processes never race on the same key.
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
    tokens = burst
    ts = now
end

local elapsed = math.max(0, now - ts)
tokens = math.min(burst, tokens + elapsed * rate)

local allowed = 0
if tokens >= 1 then
    allowed = 1
    tokens = tokens - 1
end

redis.call("HMSET", key, "tokens", tokens, "ts", now)
redis.call("EXPIRE", key, 3600)
return allowed
`)

// RedisLimiter implements Limiter atop a shared Redis instance, so every
// actormeshd process instance in a fleet enforces the same bucket.
type RedisLimiter struct {
	client            *redis.Client
	requestsPerSecond float64
	burstSize         int
	keyPrefix         string
}

// NewRedisLimiter builds a RedisLimiter over an already-constructed
// client (production code points it at a shared cluster; tests point it
// at miniredis).
func NewRedisLimiter(client *redis.Client, requestsPerSecond float64, burstSize int) *RedisLimiter {
	return &RedisLimiter{client: client, requestsPerSecond: requestsPerSecond, burstSize: burstSize, keyPrefix: "actormesh:ratelimit:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := float64(time.Now().UnixMilli()) / 1000.0
	res, err := redisTokenBucketScript.Run(ctx, l.client, []string{l.keyPrefix + key},
		l.requestsPerSecond, l.burstSize, now).Int()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis: %w", err)
	}
	return res == 1, nil
}
