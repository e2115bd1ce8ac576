package auth

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// LimitPolicy is a token bucket: RPM steady-state, Burst ceiling.
type LimitPolicy struct {
	RPM   int
	Burst int
}

// DefaultLimitPolicy is applied when the server enables rate limiting
// without tuning it.
var DefaultLimitPolicy = LimitPolicy{RPM: 600, Burst: 100}

// Limiter decides whether one more request under key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string, policy LimitPolicy) (bool, error)
}

// tokenBucketScript refills and consumes atomically inside Redis, so every
// replica shares one bucket per key.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return allowed
`)

// RedisLimiter shares token buckets across replicas.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter builds a limiter over an existing client.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, policy LimitPolicy) (bool, error) {
	perSecond := float64(policy.RPM) / 60.0
	if perSecond <= 0 {
		perSecond = 1
	}
	now := float64(time.Now().UnixMicro()) / 1e6
	res, err := tokenBucketScript.Run(ctx, l.client,
		[]string{"ratelimit:" + key}, perSecond, policy.Burst, now).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// MemoryLimiter is the single-process fallback when Redis is not
// configured.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewMemoryLimiter builds an empty in-process limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{buckets: map[string]*rate.Limiter{}}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, policy LimitPolicy) (bool, error) {
	l.mu.Lock()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(rate.Limit(float64(policy.RPM)/60.0), policy.Burst)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow(), nil
}

// RateLimitMiddleware enforces the policy per credential fingerprint,
// falling back to the remote address for unauthenticated requests. Limiter
// errors fail open so a Redis outage cannot take the API down with it.
func RateLimitMiddleware(limiter Limiter, policy LimitPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			key := r.RemoteAddr
			if p := GetPrincipal(r.Context()); p != nil && p.KeyFingerprint != "" {
				key = p.KeyFingerprint
			}
			allowed, err := limiter.Allow(r.Context(), key, policy)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				retryAfter := 60 / policy.RPM
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeRateLimited(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

var writeRateLimited = func(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
}

// SetRateLimitedWriter replaces the plain-text 429 body with a custom
// writer. Called once at server assembly.
func SetRateLimitedWriter(fn func(w http.ResponseWriter, r *http.Request)) {
	if fn != nil {
		writeRateLimited = fn
	}
}
