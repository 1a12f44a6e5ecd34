package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func frozen(l *RedisLimiter) *clock {
	c := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	l.now = c.now
	return c
}

func expectTimeout(t *testing.T, l Limiter) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); !errors.Is(err, ErrRateLimitTimeout) {
		t.Fatalf("expected ErrRateLimitTimeout, got %v", err)
	}
}

func TestRedisLimiter_SpendsAndRefills(t *testing.T) {
	rdb := newRedis(t)
	l := NewRedisLimiter(rdb, nil, "northsea:test:refill", 10, 2)
	c := frozen(l)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	raw, err := rdb.HGet(ctx, l.key, "tokens").Result()
	if err != nil {
		t.Fatalf("hget tokens: %v", err)
	}
	if tokens, _ := strconv.ParseFloat(raw, 64); tokens >= 1 {
		t.Fatalf("expected bucket drained, tokens=%s", raw)
	}
	expectTimeout(t, l)

	// 10 tokens/s: 100ms buys one call
	c.advance(100 * time.Millisecond)
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire after refill: %v", err)
	}
	expectTimeout(t, l)
}

func TestRedisLimiter_BlocksUntilToken(t *testing.T) {
	rdb := newRedis(t)
	l := NewRedisLimiter(rdb, nil, "northsea:test:block", 10, 1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("warm acquire: %v", err)
	}

	start := time.Now()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("blocked acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("expected to wait for a token, elapsed=%v", elapsed)
	}
}

func TestRedisLimiter_ThrottleHoldsEveryInstance(t *testing.T) {
	rdb := newRedis(t)
	a := NewRedisLimiter(rdb, nil, "northsea:test:hold", 100, 100)
	b := NewRedisLimiter(rdb, nil, "northsea:test:hold", 100, 100)
	c := frozen(a)
	b.now = c.now
	ctx := context.Background()

	if err := a.Throttle(ctx, time.Minute); err != nil {
		t.Fatalf("throttle: %v", err)
	}
	expectTimeout(t, a)
	expectTimeout(t, b)

	c.advance(time.Minute + time.Millisecond)
	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("acquire after hold: %v", err)
	}
}

func TestRedisLimiter_ThrottleOnlyExtends(t *testing.T) {
	rdb := newRedis(t)
	l := NewRedisLimiter(rdb, nil, "northsea:test:extend", 1, 1)
	c := frozen(l)
	ctx := context.Background()

	if err := l.Throttle(ctx, time.Minute); err != nil {
		t.Fatalf("throttle: %v", err)
	}
	if err := l.Throttle(ctx, time.Second); err != nil {
		t.Fatalf("short throttle: %v", err)
	}
	raw, err := rdb.HGet(ctx, l.key, "hold_until").Result()
	if err != nil {
		t.Fatalf("hget hold_until: %v", err)
	}
	if want := strconv.FormatInt(c.t.Add(time.Minute).UnixMilli(), 10); raw != want {
		t.Fatalf("hold_until = %s, want %s", raw, want)
	}
}

func TestRedisLimiter_DisabledRateStillHonorsHold(t *testing.T) {
	rdb := newRedis(t)
	l := NewRedisLimiter(rdb, nil, "northsea:test:disabled", 0, 0)
	c := frozen(l)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("unpaced acquire %d: %v", i, err)
		}
	}
	if err := l.Throttle(ctx, 10*time.Second); err != nil {
		t.Fatalf("throttle: %v", err)
	}
	expectTimeout(t, l)
	c.advance(11 * time.Second)
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire after hold: %v", err)
	}
}

func TestRedisLimiter_DefaultKey(t *testing.T) {
	rdb := newRedis(t)
	l := NewRedisLimiter(rdb, nil, "", 10, 2)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if n, err := rdb.Exists(context.Background(), DefaultKey).Result(); err != nil || n != 1 {
		t.Fatalf("expected bucket under %s, exists=%d err=%v", DefaultKey, n, err)
	}
}

func TestRedisLimiter_RedisDown(t *testing.T) {
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()
	s.Close()

	l := NewRedisLimiter(rdb, nil, "", 10, 2)
	err := l.Acquire(context.Background())
	if err == nil || errors.Is(err, ErrRateLimitTimeout) {
		t.Fatalf("expected a redis error, got %v", err)
	}
}

func TestLocalLimiter_BurstThenTimeout(t *testing.T) {
	l := NewLocalLimiter(1, 2)
	for i := 0; i < 2; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("burst acquire %d: %v", i, err)
		}
	}
	expectTimeout(t, l)
}

func TestLocalLimiter_ThrottleHolds(t *testing.T) {
	l := NewLocalLimiter(0, 0)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("unpaced acquire: %v", err)
	}

	if err := l.Throttle(context.Background(), 60*time.Millisecond); err != nil {
		t.Fatalf("throttle: %v", err)
	}
	start := time.Now()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("expected hold to delay the call, elapsed=%v", elapsed)
	}

	if err := l.Throttle(context.Background(), time.Hour); err != nil {
		t.Fatalf("throttle: %v", err)
	}
	expectTimeout(t, l)
}

func TestNilLimiters(t *testing.T) {
	var r *RedisLimiter
	var l *LocalLimiter
	for _, lim := range []Limiter{r, l} {
		if err := lim.Acquire(context.Background()); err != nil {
			t.Fatalf("nil acquire: %v", err)
		}
		if err := lim.Throttle(context.Background(), time.Second); err != nil {
			t.Fatalf("nil throttle: %v", err)
		}
	}
}
