// Package ratelimit paces outbound Graph API calls.
//
// Graph quotas belong to the app token, not to a process, so the redis
// limiter keeps one bucket for every API instance. When Graph answers with a
// throttling error the bucket is put on hold and all instances stop calling
// until the hold expires. LocalLimiter gives the same contract in-process
// when redis is not configured.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"northsea/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

var ErrRateLimitTimeout = errors.New("rate limit wait timeout")

// DefaultKey is the bucket shared by all instances calling the Graph API.
const DefaultKey = "northsea:ratelimit:graph"

const (
	minRetry  = 25 * time.Millisecond
	maxJitter = 10 * time.Millisecond
)

// Limiter gates Graph API calls.
type Limiter interface {
	// Acquire blocks until a call may proceed. It returns ErrRateLimitTimeout
	// when ctx ends first.
	Acquire(ctx context.Context) error
	// Throttle holds every caller for d. Holds only ever extend.
	Throttle(ctx context.Context, d time.Duration) error
}

// bucket fields: tokens, ts (ms of last refill), hold_until (ms).
// Returns {granted, retry_after_ms}.
var takeScript = redis.NewScript(`
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", KEYS[1], "tokens", "ts", "hold_until")
local hold = tonumber(state[3]) or 0
if hold > now then
  return {0, hold - now}
end
if rate <= 0 or burst <= 0 then
  return {1, 0}
end

local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now
tokens = math.min(burst, tokens + math.max(0, now - last) * rate / 1000.0)

local granted = 0
local retry = 0
if tokens >= 1 then
  tokens = tokens - 1
  granted = 1
else
  retry = math.ceil((1 - tokens) * 1000.0 / rate)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
local ttl = math.ceil(burst / rate * 2000.0)
if redis.call("PTTL", KEYS[1]) < ttl then
  redis.call("PEXPIRE", KEYS[1], ttl)
end
return {granted, retry}
`)

var holdScript = redis.NewScript(`
local hold = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
local current = tonumber(redis.call("HGET", KEYS[1], "hold_until") or "0")
if hold > current then
  redis.call("HSET", KEYS[1], "hold_until", hold)
  if redis.call("PTTL", KEYS[1]) < ttl then
    redis.call("PEXPIRE", KEYS[1], ttl)
  end
end
return 1
`)

// RedisLimiter is a token bucket evaluated atomically in redis.
type RedisLimiter struct {
	rdb    *redis.Client
	key    string
	rate   float64
	burst  float64
	logger *slog.Logger
	now    func() time.Time
}

// NewRedisLimiter builds a shared bucket refilling rate tokens per second up
// to burst. A non-positive rate or burst disables pacing but keeps holds.
func NewRedisLimiter(rdb *redis.Client, logger *slog.Logger, key string, rate float64, burst float64) *RedisLimiter {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLimiter{
		rdb:    rdb,
		key:    key,
		rate:   rate,
		burst:  burst,
		logger: logger,
		now:    time.Now,
	}
}

func (r *RedisLimiter) Acquire(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return wait(ctx, r.take)
}

func (r *RedisLimiter) take(ctx context.Context) (time.Duration, error) {
	res, err := takeScript.Run(ctx, r.rdb, []string{r.key}, r.rate, r.burst, r.now().UnixMilli()).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("ratelimit take: %w", err)
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("ratelimit take: unexpected reply %v", res)
	}
	if res[0] == 1 {
		return 0, nil
	}
	retry := time.Duration(res[1]) * time.Millisecond
	r.logger.Debug("graph quota exhausted, waiting", slog.String("retry_after", retry.String()))
	return max(retry, minRetry), nil
}

func (r *RedisLimiter) Throttle(ctx context.Context, d time.Duration) error {
	if r == nil || d <= 0 {
		return nil
	}
	until := r.now().Add(d).UnixMilli()
	if err := holdScript.Run(ctx, r.rdb, []string{r.key}, until, d.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("ratelimit hold: %w", err)
	}
	metrics.RateLimitHoldsTotal.Inc()
	return nil
}

// LocalLimiter is an in-process bucket with the same hold semantics.
type LocalLimiter struct {
	limiter *rate.Limiter

	mu   sync.Mutex
	hold time.Time
}

// NewLocalLimiter builds an in-process bucket. A non-positive rate disables pacing.
func NewLocalLimiter(perSecond float64, burst float64) *LocalLimiter {
	if perSecond <= 0 || burst <= 0 {
		return &LocalLimiter{}
	}
	return &LocalLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), max(int(burst), 1))}
}

func (l *LocalLimiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := wait(ctx, l.heldFor); err != nil {
		return err
	}
	if l.limiter == nil {
		return nil
	}
	if err := l.limiter.Wait(ctx); err != nil {
		metrics.RateLimitTimeoutTotal.Inc()
		return ErrRateLimitTimeout
	}
	return nil
}

func (l *LocalLimiter) heldFor(context.Context) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Until(l.hold), nil
}

func (l *LocalLimiter) Throttle(_ context.Context, d time.Duration) error {
	if l == nil || d <= 0 {
		return nil
	}
	until := time.Now().Add(d)
	l.mu.Lock()
	if until.After(l.hold) {
		l.hold = until
	}
	l.mu.Unlock()
	metrics.RateLimitHoldsTotal.Inc()
	return nil
}

// wait calls take until it reports no delay, sleeping in between.
func wait(ctx context.Context, take func(context.Context) (time.Duration, error)) error {
	start := time.Now()
	for {
		delay, err := take(ctx)
		if err != nil {
			return err
		}
		if delay <= 0 {
			metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
			return nil
		}

		timer := time.NewTimer(delay + rand.N(maxJitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
			metrics.RateLimitTimeoutTotal.Inc()
			return ErrRateLimitTimeout
		case <-timer.C:
		}
	}
}
