// Package poller 是客户端同步层：按 key 缓存 REST 资源，定时刷新，
// 合并并发请求，并在变更后强制重新拉取。
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"northsea/internal/apperr"
	"northsea/internal/pkg/metrics"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Fetcher loads the current value of key from the server.
type Fetcher func(ctx context.Context, key Key) (any, error)

// Snapshot is the cached state of one key as seen by observers.
type Snapshot struct {
	Key       Key
	Value     any
	FetchedAt time.Time
	Seq       uint64
	Err       error
}

type resource struct {
	interval time.Duration
	fetch    Fetcher
}

type entry struct {
	key       Key
	value     any
	fetchedAt time.Time
	seq       uint64
	err       error
	stale     bool
	inflight  bool
	dirty     bool
	subs      map[int]chan Snapshot
}

func (e *entry) snapshot() Snapshot {
	return Snapshot{Key: e.key, Value: e.value, FetchedAt: e.fetchedAt, Seq: e.seq, Err: e.err}
}

// Cache 维护每个 key 的最新已确认值。值只来自服务端响应，从不做乐观预测。
type Cache struct {
	mu        sync.Mutex
	resources map[string]resource
	entries   map[string]*entry
	nextSub   int

	group singleflight.Group
	seq   atomic.Uint64
	wg    sync.WaitGroup

	logger       *slog.Logger
	fetchTimeout time.Duration
	maxTries     uint
	retryDelay   time.Duration
	now          func() time.Time
}

// Option 配置 Cache。
type Option func(*Cache)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithFetchTimeout 限制单次拉取（含重试）的总时长。
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithRetry 设置读请求的最大尝试次数与初始退避。
func WithRetry(maxTries uint, initial time.Duration) Option {
	return func(c *Cache) {
		if maxTries > 0 {
			c.maxTries = maxTries
		}
		if initial > 0 {
			c.retryDelay = initial
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache 创建空缓存，资源需通过 Register 注册。
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		resources:    make(map[string]resource),
		entries:      make(map[string]*entry),
		logger:       slog.Default(),
		fetchTimeout: 10 * time.Second,
		maxTries:     3,
		retryDelay:   200 * time.Millisecond,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "poller"))
	return c
}

// Register binds a resource name to its refresh interval and fetcher.
func (c *Cache) Register(name string, interval time.Duration, fetch Fetcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resources[name] = resource{interval: interval, fetch: fetch}
}

func (c *Cache) entryLocked(key Key) *entry {
	id := key.String()
	e, ok := c.entries[id]
	if !ok {
		e = &entry{key: key, subs: make(map[int]chan Snapshot)}
		c.entries[id] = e
	}
	return e
}

// Fetch 拉取 key 的最新值。同一 key 同时只有一个请求在途，后到的调用方共享其结果。
func (c *Cache) Fetch(ctx context.Context, key Key) (Snapshot, error) {
	c.mu.Lock()
	res, ok := c.resources[key.Resource]
	if ok {
		c.entryLocked(key)
	}
	c.mu.Unlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("poller: resource %q not registered", key.Resource)
	}

	ch := c.group.DoChan(key.String(), func() (any, error) {
		return c.load(key, res)
	})
	select {
	case r := <-ch:
		snap, _ := r.Val.(Snapshot)
		return snap, r.Err
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// load runs under the singleflight guard. Every invalidation that lands while
// the request is in flight buys a follow-up fetch before waiters resolve, so
// waiters always see a response read after the last mutation.
func (c *Cache) load(key Key, res resource) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
	defer cancel()

	id := key.String()
	c.mu.Lock()
	e := c.entries[id]
	e.inflight = true
	c.mu.Unlock()

	for attempt := 0; ; attempt++ {
		c.mu.Lock()
		e.dirty = false
		e.stale = false
		c.mu.Unlock()

		seq := c.seq.Add(1)
		v, err := c.fetchWithRetry(ctx, key, res.fetch)
		c.commit(id, seq, v, err)

		c.mu.Lock()
		if !e.dirty {
			e.inflight = false
			snap := e.snapshot()
			c.mu.Unlock()
			return snap, err
		}
		c.mu.Unlock()
		c.logger.Debug("refetch after invalidation", slog.String("key", id), slog.Int("attempt", attempt+1))
	}
}

func (c *Cache) fetchWithRetry(ctx context.Context, key Key, fetch Fetcher) (any, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryDelay
	policy.MaxInterval = c.retryDelay * 10

	op := func() (any, error) {
		v, err := fetch(ctx, key)
		if err != nil && apperr.Permanent(err) {
			return nil, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, d time.Duration) {
		c.logger.Debug("fetch retry",
			slog.String("key", key.String()),
			slog.String("error", err.Error()),
			slog.Duration("backoff", d))
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(notify))
}

// commit stores a response unless a response from a later request is already
// stored. Failures keep the last good value and record the error.
func (c *Cache) commit(id string, seq uint64, v any, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return false
	}
	if seq < e.seq {
		metrics.SyncStaleDiscardedTotal.WithLabelValues(e.key.Resource).Inc()
		c.logger.Debug("discard stale response", slog.String("key", id), slog.Uint64("seq", seq), slog.Uint64("current", e.seq))
		return false
	}
	e.seq = seq
	if err != nil {
		e.err = err
		metrics.SyncFetchTotal.WithLabelValues(e.key.Resource, "error").Inc()
	} else {
		e.value = v
		e.err = nil
		e.fetchedAt = c.now()
		metrics.SyncFetchTotal.WithLabelValues(e.key.Resource, "ok").Inc()
	}

	snap := e.snapshot()
	for _, ch := range e.subs {
		publish(ch, snap)
	}
	return true
}

// publish keeps only the newest snapshot in a subscriber's buffer.
func publish(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

// Get 返回缓存值；超过刷新间隔、被标记失效或上次失败时重新拉取。
func (c *Cache) Get(ctx context.Context, key Key) (Snapshot, error) {
	c.mu.Lock()
	res, registered := c.resources[key.Resource]
	e, ok := c.entries[key.String()]
	if registered && ok && e.seq > 0 && e.err == nil && !e.stale && c.now().Sub(e.fetchedAt) < res.interval {
		snap := e.snapshot()
		c.mu.Unlock()
		return snap, nil
	}
	c.mu.Unlock()
	return c.Fetch(ctx, key)
}

// Peek returns the cached snapshot without fetching.
func (c *Cache) Peek(key Key) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok || e.seq == 0 {
		return Snapshot{}, false
	}
	return e.snapshot(), true
}

// Invalidate 标记 key 失效并立即在后台重新拉取；若已有请求在途，则该请求结束前会追加一次拉取。
func (c *Cache) Invalidate(keys ...Key) {
	for _, key := range keys {
		c.mu.Lock()
		e, ok := c.entries[key.String()]
		if !ok {
			c.mu.Unlock()
			continue
		}
		e.stale = true
		inflight := e.inflight
		if inflight {
			e.dirty = true
		}
		c.mu.Unlock()

		if !inflight {
			c.refreshAsync(key)
		}
	}
}

// InvalidateResource invalidates every known key of the named resource.
func (c *Cache) InvalidateResource(name string) {
	c.mu.Lock()
	var keys []Key
	for _, e := range c.entries {
		if e.key.Resource == name {
			keys = append(keys, e.key)
		}
	}
	c.mu.Unlock()
	c.Invalidate(keys...)
}

func (c *Cache) refreshAsync(key Key) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		// A caller can attach to a flight that finished just before the
		// invalidation; the stale flag survives that and earns a second try.
		for i := 0; i < 2; i++ {
			if _, err := c.Fetch(context.Background(), key); err != nil {
				c.logger.Debug("refresh failed", slog.String("key", key.String()), slog.String("error", err.Error()))
				return
			}
			if !c.isStale(key) {
				return
			}
		}
	}()
}

func (c *Cache) isStale(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	return ok && e.stale
}

// Subscribe 返回只保留最新快照的通道。已有值时立即推送一次。
func (c *Cache) Subscribe(key Key) (<-chan Snapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(key)
	id := c.nextSub
	c.nextSub++
	ch := make(chan Snapshot, 1)
	e.subs[id] = ch
	if e.seq > 0 {
		ch <- e.snapshot()
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(e.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Run 按资源的刷新间隔轮询所有有订阅者的 key，直到 ctx 结束。
func (c *Cache) Run(ctx context.Context) error {
	c.mu.Lock()
	resources := make(map[string]resource, len(c.resources))
	for name, res := range c.resources {
		resources[name] = res
	}
	c.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for name, res := range resources {
		if res.interval <= 0 {
			continue
		}
		g.Go(func() error {
			c.poll(ctx, name, res.interval)
			return nil
		})
	}
	return g.Wait()
}

func (c *Cache) poll(ctx context.Context, name string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.refreshWatched(ctx, name)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refreshWatched(ctx, name)
		}
	}
}

func (c *Cache) refreshWatched(ctx context.Context, name string) {
	c.mu.Lock()
	var keys []Key
	for _, e := range c.entries {
		if e.key.Resource == name && len(e.subs) > 0 {
			keys = append(keys, e.key)
		}
	}
	c.mu.Unlock()

	for _, key := range keys {
		if _, err := c.Fetch(ctx, key); err != nil && ctx.Err() == nil {
			c.logger.Warn("poll failed", slog.String("key", key.String()), slog.String("error", err.Error()))
		}
	}
}

// Wait blocks until background refreshes started by Invalidate have finished.
func (c *Cache) Wait() {
	c.wg.Wait()
}
