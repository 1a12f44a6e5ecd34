package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"northsea/internal/apperr"
)

func newTestCache(opts ...Option) *Cache {
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRetry(2, time.Millisecond),
		WithFetchTimeout(2 * time.Second),
	}
	return NewCache(append(base, opts...)...)
}

func TestKey_String(t *testing.T) {
	k := NewKey("data", "search", "a b", "limit", "10", "offset", "0", "type", "")
	if got := k.String(); got != "data?limit=10&offset=0&search=a+b" {
		t.Fatalf("unexpected canonical key %q", got)
	}
	if NewKey("tasks").String() != "tasks" {
		t.Fatalf("bare key must not carry a query")
	}
	if k.Query().Get("limit") != "10" {
		t.Fatalf("query lost params")
	}
}

// Two observers asking for the same key inside the in-flight window share one call.
func TestCache_ConcurrentFetchSharesOneCall(t *testing.T) {
	c := newTestCache()
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	c.Register("tasks", 3*time.Second, func(ctx context.Context, key Key) (any, error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		<-release
		return []string{"T1"}, nil
	})

	key := NewKey("tasks")
	var wg sync.WaitGroup
	results := make([]Snapshot, 2)
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = c.Fetch(context.Background(), key)
	}()
	<-entered
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = c.Fetch(context.Background(), key)
	}()
	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected exactly one store call, got %d", calls.Load())
	}
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("observer %d: %v", i, errs[i])
		}
	}
	if results[0].Seq != results[1].Seq {
		t.Fatalf("observers got different values: %d vs %d", results[0].Seq, results[1].Seq)
	}
	if got := results[1].Value.([]string); len(got) != 1 || got[0] != "T1" {
		t.Fatalf("unexpected value %v", results[1].Value)
	}
}

func TestCache_GetRespectsInterval(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	c := newTestCache(WithClock(clock))
	var calls atomic.Int32
	c.Register("stats", 5*time.Second, func(ctx context.Context, key Key) (any, error) {
		return calls.Add(1), nil
	})
	key := NewKey("stats")
	ctx := context.Background()

	if _, err := c.Get(ctx, key); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := c.Get(ctx, key); err != nil {
		t.Fatalf("get: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("second get within interval must hit the cache, calls=%d", calls.Load())
	}

	mu.Lock()
	now = now.Add(6 * time.Second)
	mu.Unlock()
	snap, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if calls.Load() != 2 || snap.Value.(int32) != 2 {
		t.Fatalf("expected refetch after interval, calls=%d value=%v", calls.Load(), snap.Value)
	}
}

func TestCache_InvalidateRefetches(t *testing.T) {
	c := newTestCache()
	var calls atomic.Int32
	c.Register("tasks", time.Hour, func(ctx context.Context, key Key) (any, error) {
		return calls.Add(1), nil
	})
	key := NewKey("tasks")
	if _, err := c.Fetch(context.Background(), key); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	c.Invalidate(key)
	c.Wait()

	if calls.Load() != 2 {
		t.Fatalf("invalidate must force a refetch, calls=%d", calls.Load())
	}
	snap, ok := c.Peek(key)
	if !ok || snap.Value.(int32) != 2 {
		t.Fatalf("cache not updated after invalidation: %+v", snap)
	}
	if _, err := c.Get(context.Background(), key); err != nil || calls.Load() != 2 {
		t.Fatalf("fresh value must be served from cache, calls=%d err=%v", calls.Load(), err)
	}
}

func TestCache_InvalidateResourceSkipsUnknown(t *testing.T) {
	c := newTestCache()
	var calls atomic.Int32
	c.Register("data", time.Hour, func(ctx context.Context, key Key) (any, error) {
		return calls.Add(1), nil
	})
	ctx := context.Background()
	_, _ = c.Fetch(ctx, NewKey("data", "offset", "0"))
	_, _ = c.Fetch(ctx, NewKey("data", "offset", "10"))

	c.InvalidateResource("data")
	c.InvalidateResource("stats")
	c.Wait()

	if calls.Load() != 4 {
		t.Fatalf("expected both data pages refetched, calls=%d", calls.Load())
	}
}

// An invalidation landing mid-flight must not let waiters resolve with the pre-mutation value.
func TestCache_InvalidateDuringFlight(t *testing.T) {
	c := newTestCache()
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	c.Register("tasks", time.Hour, func(ctx context.Context, key Key) (any, error) {
		n := calls.Add(1)
		if n == 1 {
			close(entered)
			<-release
			return "before", nil
		}
		return "after", nil
	})
	key := NewKey("tasks")

	done := make(chan Snapshot, 1)
	go func() {
		snap, _ := c.Fetch(context.Background(), key)
		done <- snap
	}()
	<-entered
	c.Invalidate(key)
	close(release)

	snap := <-done
	if snap.Value != "after" {
		t.Fatalf("waiter resolved with %v, want post-invalidation value", snap.Value)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected exactly one follow-up fetch, calls=%d", calls.Load())
	}
}

// A second mutation landing during the follow-up fetch earns its own refetch.
func TestCache_InvalidateDuringFollowUp(t *testing.T) {
	c := newTestCache()
	var calls atomic.Int32
	entered := []chan struct{}{make(chan struct{}), make(chan struct{})}
	release := []chan struct{}{make(chan struct{}), make(chan struct{})}
	c.Register("tasks", time.Hour, func(ctx context.Context, key Key) (any, error) {
		n := int(calls.Add(1))
		if n <= 2 {
			close(entered[n-1])
			<-release[n-1]
		}
		return n, nil
	})
	key := NewKey("tasks")
	updates, cancel := c.Subscribe(key)
	defer cancel()

	done := make(chan Snapshot, 1)
	go func() {
		snap, _ := c.Fetch(context.Background(), key)
		done <- snap
	}()
	<-entered[0]
	c.Invalidate(key) // mutation A
	close(release[0])

	<-entered[1]
	c.Invalidate(key) // mutation B, after fetch 2 already read the A state
	close(release[1])

	snap := <-done
	if snap.Value != 3 {
		t.Fatalf("waiter resolved with %v, want the third fetch", snap.Value)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected a refetch per invalidation, calls=%d", calls.Load())
	}
	if cached, ok := c.Peek(key); !ok || cached.Value != 3 {
		t.Fatalf("cache holds %v, want 3", cached.Value)
	}
	if c.isStale(key) {
		t.Fatalf("entry still marked stale")
	}
	if got := <-updates; got.Value != 3 {
		t.Fatalf("subscriber saw %v, want 3", got.Value)
	}
	c.Wait()
}

func TestCache_DiscardsOlderResponse(t *testing.T) {
	c := newTestCache()
	c.Register("stats", time.Hour, func(ctx context.Context, key Key) (any, error) { return nil, nil })
	key := NewKey("stats")
	_, cancel := c.Subscribe(key)
	defer cancel()

	if !c.commit(key.String(), 5, "newer", nil) {
		t.Fatalf("first commit must be stored")
	}
	if c.commit(key.String(), 3, "older", nil) {
		t.Fatalf("older response must be discarded")
	}
	snap, _ := c.Peek(key)
	if snap.Value != "newer" || snap.Seq != 5 {
		t.Fatalf("stale response overwrote newer one: %+v", snap)
	}
}

func TestCache_FailureKeepsLastGoodValue(t *testing.T) {
	c := newTestCache()
	var fail atomic.Bool
	var calls atomic.Int32
	c.Register("data", time.Hour, func(ctx context.Context, key Key) (any, error) {
		calls.Add(1)
		if fail.Load() {
			return nil, errors.New("connection refused")
		}
		return []int{1, 2}, nil
	})
	key := NewKey("data")
	ctx := context.Background()

	if _, err := c.Fetch(ctx, key); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	fail.Store(true)
	snap, err := c.Fetch(ctx, key)
	if err == nil {
		t.Fatalf("expected fetch error")
	}
	if calls.Load() != 3 {
		t.Fatalf("transient errors are retried up to max tries, calls=%d", calls.Load())
	}
	if snap.Err == nil || snap.Value == nil {
		t.Fatalf("snapshot must keep the last value and the error: %+v", snap)
	}

	src := SourceOf(snap, func(v any) ([]int, int64) {
		rows := v.([]int)
		return rows, int64(len(rows))
	})
	if src.Kind != SourceUnavailable {
		t.Fatalf("expected unavailable source, got %s", src)
	}
}

func TestCache_PermanentErrorNotRetried(t *testing.T) {
	c := newTestCache(WithRetry(5, time.Millisecond))
	var calls atomic.Int32
	c.Register("tasks", time.Hour, func(ctx context.Context, key Key) (any, error) {
		calls.Add(1)
		return nil, apperr.Validation("bad status filter", nil)
	})
	_, err := c.Fetch(context.Background(), NewKey("tasks", "status", "bogus"))
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx errors must not be retried, calls=%d", calls.Load())
	}
}

func TestCache_UnregisteredResource(t *testing.T) {
	c := newTestCache()
	if _, err := c.Fetch(context.Background(), NewKey("nope")); err == nil {
		t.Fatalf("expected error for unregistered resource")
	}
}

func TestCache_SubscribeAndRun(t *testing.T) {
	c := newTestCache()
	var calls atomic.Int32
	c.Register("stats", 10*time.Millisecond, func(ctx context.Context, key Key) (any, error) {
		return calls.Add(1), nil
	})
	key := NewKey("stats")
	updates, cancel := c.Subscribe(key)

	ctx, stop := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx) }()

	var last int32
	deadline := time.After(2 * time.Second)
	for last < 3 {
		select {
		case snap := <-updates:
			last = snap.Value.(int32)
		case <-deadline:
			t.Fatalf("timed out waiting for polled updates, last=%d", last)
		}
	}
	stop()
	if err := <-runDone; err != nil {
		t.Fatalf("run: %v", err)
	}
	cancel()
	cancel()
	if _, ok := <-updates; ok {
		// 缓冲区中可能还剩一个快照
		if _, ok := <-updates; ok {
			t.Fatalf("channel must be closed after cancel")
		}
	}
}

func TestSourceOf(t *testing.T) {
	rowsOf := func(v any) ([]string, int64) {
		rows := v.([]string)
		return rows, 42
	}
	if got := SourceOf(Snapshot{}, rowsOf); got.Kind != SourceEmpty {
		t.Fatalf("no value yet must be empty, got %s", got)
	}
	if got := SourceOf(Snapshot{Value: []string{}}, rowsOf); got.Kind != SourceEmpty {
		t.Fatalf("zero rows must be empty, got %s", got)
	}
	got := SourceOf(Snapshot{Value: []string{"a"}}, rowsOf)
	if got.Kind != SourceLive || got.Total != 42 || got.String() != "live(1 of 42)" {
		t.Fatalf("unexpected live source %s", got)
	}
}
