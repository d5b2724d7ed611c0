// Package limiter enforces per-client request limits with a local token
// bucket and an optional Redis sliding window shared across replicas.
package limiter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// ErrRateLimited indicates the client exceeded its limits.
var ErrRateLimited = errors.New("rate limit exceeded")

// Limiter tracks one token bucket per client identifier.
type Limiter struct {
	enabled bool

	rps    float64
	burst  int
	window time.Duration

	mu      sync.Mutex
	buckets map[string]*rate.Limiter

	redis redis.UniversalClient
}

// Config contains parameters for limiter construction.
type Config struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
	Window            time.Duration
	Redis             redis.UniversalClient
}

// New creates a Limiter from the supplied configuration.
func New(cfg Config) *Limiter {
	if !cfg.Enabled {
		return &Limiter{}
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = int(cfg.RequestsPerSecond * 2)
		if burst < 1 {
			burst = 1
		}
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}

	return &Limiter{
		enabled: true,
		rps:     cfg.RequestsPerSecond,
		burst:   burst,
		window:  window,
		buckets: make(map[string]*rate.Limiter),
		redis:   cfg.Redis,
	}
}

// Allow verifies whether the client may perform the next request.
func (l *Limiter) Allow(ctx context.Context, client string) error {
	if l == nil || !l.enabled || client == "" {
		return nil
	}

	if !l.bucketFor(client).Allow() {
		return ErrRateLimited
	}

	if l.redis != nil {
		allowed, err := l.allowWindow(ctx, client)
		if err != nil {
			return err
		}
		if !allowed {
			return ErrRateLimited
		}
	}

	return nil
}

func (l *Limiter) bucketFor(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.buckets[client]
	if bucket == nil {
		limit := rate.Inf
		if l.rps > 0 {
			limit = rate.Limit(l.rps)
		}
		bucket = rate.NewLimiter(limit, l.burst)
		l.buckets[client] = bucket
	}
	return bucket
}

var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
if redis.call('ZCARD', key) >= limit then
  return 0
end
redis.call('ZADD', key, now, now)
redis.call('PEXPIRE', key, window)
return 1
`)

func (l *Limiter) allowWindow(ctx context.Context, client string) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := slidingWindow.Run(ctx, l.redis,
		[]string{"rate:" + client},
		now, l.window.Milliseconds(), l.burst,
	).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
