// Package console 把 REST API 绑定到同步层：读取走 poller 缓存，
// 变更成功后使受影响的资源失效。
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"northsea/internal/apperr"
	"northsea/internal/config"
	"northsea/internal/model"
	"northsea/internal/poller"
	"northsea/internal/store"
)

const (
	ResourceStats = "stats"
	ResourceTasks = "tasks"
	ResourceData  = "data"
)

// Console is the client-side view of the task store.
type Console struct {
	api      *Client
	cache    *poller.Cache
	logger   *slog.Logger
	pageSize int
}

// New wires the three polled resources to api.
func New(api *Client, cfg config.SyncConfig, logger *slog.Logger) *Console {
	cache := poller.NewCache(
		poller.WithLogger(logger),
		poller.WithFetchTimeout(cfg.FetchTimeout),
		poller.WithRetry(cfg.RetryMaxTries, 0),
	)
	c := &Console{api: api, cache: cache, logger: logger, pageSize: cfg.PageSize}
	if c.pageSize <= 0 {
		c.pageSize = 10
	}

	cache.Register(ResourceStats, cfg.StatsInterval, func(ctx context.Context, _ poller.Key) (any, error) {
		return api.Stats(ctx)
	})
	cache.Register(ResourceTasks, cfg.TasksInterval, func(ctx context.Context, key poller.Key) (any, error) {
		return api.ListTasks(ctx, key.Params["status"])
	})
	cache.Register(ResourceData, cfg.DataInterval, func(ctx context.Context, key poller.Key) (any, error) {
		return api.ListData(ctx, key.Query())
	})
	return c
}

// Cache exposes the underlying sync cache.
func (c *Console) Cache() *poller.Cache {
	return c.cache
}

func StatsKey() poller.Key {
	return poller.NewKey(ResourceStats)
}

func TasksKey() poller.Key {
	return poller.NewKey(ResourceTasks)
}

// DataKey identifies one page of the data table.
func DataKey(limit, offset int, search string) poller.Key {
	return poller.NewKey(ResourceData,
		"limit", strconv.Itoa(limit),
		"offset", strconv.Itoa(offset),
		"search", search)
}

// PageKey builds the data key for a zero-based page index.
func (c *Console) PageKey(page int, search string) poller.Key {
	if page < 0 {
		page = 0
	}
	return DataKey(c.pageSize, page*c.pageSize, search)
}

// Stats returns the cached system stats, refetching when older than the interval.
func (c *Console) Stats(ctx context.Context) (*model.SystemStats, error) {
	snap, err := c.cache.Get(ctx, StatsKey())
	if err != nil {
		return nil, err
	}
	stats, ok := snap.Value.(*model.SystemStats)
	if !ok {
		return nil, fmt.Errorf("console: unexpected stats value %T", snap.Value)
	}
	return stats, nil
}

// Tasks returns the task list view.
func (c *Console) Tasks(ctx context.Context) poller.DataSource[model.CollectionTask] {
	snap, err := c.cache.Get(ctx, TasksKey())
	if err != nil && snap.Err == nil {
		snap.Err = err
	}
	return TasksSource(snap)
}

// Data returns one page of the data table.
func (c *Console) Data(ctx context.Context, key poller.Key) poller.DataSource[model.CollectedData] {
	snap, err := c.cache.Get(ctx, key)
	if err != nil && snap.Err == nil {
		snap.Err = err
	}
	return DataSourceOf(snap)
}

// TasksSource classifies a tasks snapshot.
func TasksSource(snap poller.Snapshot) poller.DataSource[model.CollectionTask] {
	return poller.SourceOf(snap, func(v any) ([]model.CollectionTask, int64) {
		tasks, _ := v.([]model.CollectionTask)
		return tasks, int64(len(tasks))
	})
}

// DataSourceOf classifies a data page snapshot.
func DataSourceOf(snap poller.Snapshot) poller.DataSource[model.CollectedData] {
	return poller.SourceOf(snap, func(v any) ([]model.CollectedData, int64) {
		page, ok := v.(*store.DataPage)
		if !ok || page == nil {
			return nil, 0
		}
		return page.Data, page.Total
	})
}

// 创建表单的默认值，服务端本身要求两者都大于 0。
const (
	defaultTimeRange   = 7
	defaultTargetCount = 100
)

// CreateTask fills the form defaults for zero timeRange and targetCount,
// then creates the task.
func (c *Console) CreateTask(ctx context.Context, in store.CreateTaskInput) (*model.CollectionTask, error) {
	if in.TimeRange == 0 {
		in.TimeRange = defaultTimeRange
	}
	if in.TargetCount == 0 {
		in.TargetCount = defaultTargetCount
	}
	task, err := c.api.CreateTask(ctx, in)
	if err != nil {
		return nil, err
	}
	c.taskMutated()
	return task, nil
}

func (c *Console) StartTask(ctx context.Context, id uint) (*model.CollectionTask, error) {
	task, err := c.api.StartTask(ctx, id)
	if err != nil {
		c.refreshOnConflict(err)
		return nil, err
	}
	c.taskMutated()
	return task, nil
}

func (c *Console) StopTask(ctx context.Context, id uint) (*model.CollectionTask, error) {
	task, err := c.api.StopTask(ctx, id)
	if err != nil {
		c.refreshOnConflict(err)
		return nil, err
	}
	c.taskMutated()
	return task, nil
}

// DeleteTask also drops the task's data, so data pages are refreshed too.
func (c *Console) DeleteTask(ctx context.Context, id uint) (int64, error) {
	removed, err := c.api.DeleteTask(ctx, id)
	if err != nil {
		return 0, err
	}
	c.taskMutated()
	c.cache.InvalidateResource(ResourceData)
	return removed, nil
}

func (c *Console) DeleteData(ctx context.Context, id uint) error {
	if err := c.api.DeleteData(ctx, id); err != nil {
		return err
	}
	c.dataMutated()
	return nil
}

func (c *Console) BatchDeleteData(ctx context.Context, ids []uint) (int64, error) {
	n, err := c.api.BatchDeleteData(ctx, ids)
	if err != nil {
		return 0, err
	}
	c.dataMutated()
	return n, nil
}

// Export does not mutate anything and leaves the cache alone.
func (c *Console) Export(ctx context.Context, ids []uint, format string) (*ExportResult, error) {
	return c.api.Export(ctx, ids, format)
}

func (c *Console) taskMutated() {
	c.cache.InvalidateResource(ResourceTasks)
	c.cache.InvalidateResource(ResourceStats)
}

func (c *Console) dataMutated() {
	c.cache.InvalidateResource(ResourceData)
	c.cache.InvalidateResource(ResourceStats)
}

// refreshOnConflict treats a rejected transition as authoritative: the local
// view is out of date, so it is refetched instead of retrying the mutation.
func (c *Console) refreshOnConflict(err error) {
	if errors.Is(err, apperr.ErrInvalidState) || errors.Is(err, apperr.ErrConcurrencyConflict) {
		c.taskMutated()
	}
}

// Run polls every subscribed key until ctx ends.
func (c *Console) Run(ctx context.Context) error {
	return c.cache.Run(ctx)
}

// Watch subscribes to key.
func (c *Console) Watch(key poller.Key) (<-chan poller.Snapshot, func()) {
	return c.cache.Subscribe(key)
}
