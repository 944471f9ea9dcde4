package api

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// tokenBucket refills one token every interval_ms up to capacity and takes
// one token per request. Returns {allowed, remaining, retry_after_ms}.
var tokenBucket = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	local interval_ms = tonumber(ARGV[3])
	local ttl_seconds = tonumber(ARGV[4])

	local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
	local tokens = tonumber(state[1])
	local last_refill = tonumber(state[2])

	if tokens == nil or last_refill == nil then
		tokens = capacity
		last_refill = now_ms
	end

	if interval_ms > 0 then
		local elapsed = math.max(0, now_ms - last_refill)
		local intervals = math.floor(elapsed / interval_ms)
		if intervals > 0 then
			tokens = math.min(capacity, tokens + intervals)
			last_refill = last_refill + (intervals * interval_ms)
		end
	end

	local allowed = 0
	local retry_after_ms = 0
	if tokens > 0 then
		allowed = 1
		tokens = tokens - 1
	else
		retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
	end

	redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
	redis.call('EXPIRE', key, ttl_seconds)

	return { allowed, tokens, retry_after_ms }
`)

// NewRedisClient connects to addr and pings it. It returns nil when the
// server is unreachable so callers can fall back to local limiting.
func NewRedisClient(ctx context.Context, addr string, log logrus.FieldLogger) *redis.Client {
	if addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.WithError(err).WithField("addr", addr).Warn("redis unavailable, using in-process rate limiting")
		_ = rdb.Close()
		return nil
	}
	return rdb
}

// RateLimiter throttles requests per caller (or per client IP before
// authentication). With a Redis client the bucket is shared across
// replicas; otherwise each process keeps its own.
type RateLimiter struct {
	rdb   *redis.Client
	rps   float64
	burst int
	log   logrus.FieldLogger

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

// NewRateLimiter allows rps requests per second with bursts of burst.
// rps <= 0 disables limiting.
func NewRateLimiter(rdb *redis.Client, rps float64, burst int, log logrus.FieldLogger) *RateLimiter {
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(rps)))
	}
	return &RateLimiter{
		rdb:   rdb,
		rps:   rps,
		burst: burst,
		log:   log,
		local: make(map[string]*rate.Limiter),
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil || l.rps <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rateKey(r)
		allowed, remaining, retry := l.take(r.Context(), key)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.burst))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			secs := int(math.Ceil(retry.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded", "RateLimited", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) take(ctx context.Context, key string) (bool, int, time.Duration) {
	if l.rdb != nil {
		allowed, remaining, retry, err := l.takeRedis(ctx, key)
		if err == nil {
			return allowed, remaining, retry
		}
		l.log.WithError(err).WithField("key", key).Warn("redis rate limit failed, using local bucket")
	}
	return l.takeLocal(key)
}

func (l *RateLimiter) takeRedis(ctx context.Context, key string) (bool, int, time.Duration, error) {
	interval := time.Duration(float64(time.Second) / l.rps)
	ttl := int64(math.Ceil((interval * time.Duration(l.burst)).Seconds())) + 1

	vals, err := tokenBucket.Run(ctx, l.rdb, []string{"ratelimit:" + key},
		time.Now().UnixMilli(), l.burst, interval.Milliseconds(), ttl).Int64Slice()
	if err != nil {
		return false, 0, 0, err
	}
	if len(vals) != 3 {
		return false, 0, 0, fmt.Errorf("unexpected rate limit script result %v", vals)
	}
	return vals[0] == 1, int(vals[1]), time.Duration(vals[2]) * time.Millisecond, nil
}

func (l *RateLimiter) takeLocal(key string) (bool, int, time.Duration) {
	l.mu.Lock()
	limiter, ok := l.local[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.local[key] = limiter
	}
	l.mu.Unlock()

	now := time.Now()
	res := limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, 0, delay
	}
	return true, int(limiter.TokensAt(now)), 0
}

func rateKey(r *http.Request) string {
	if caller, ok := CallerFrom(r.Context()); ok {
		return "caller:" + string(caller.TenantID) + ":" + string(caller.MemberID)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
