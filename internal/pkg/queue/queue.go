// Package queue 是通知等后台副作用使用的有界 worker 池。
// 任务带名字，用于日志与指标；失败的任务按指数退避在同一 worker 内重试。
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"northsea/internal/pkg/metrics"

	"github.com/cenkalti/backoff/v5"
)

var (
	// ErrFull 队列已满，任务被丢弃。
	ErrFull = errors.New("queue full")
	// ErrClosed 队列已开始排空，不再接收任务。
	ErrClosed = errors.New("queue closed")
)

// Job 是一次后台工作。
type Job struct {
	Name string
	Run  func(ctx context.Context) error
	// MaxTries 覆盖队列的默认尝试次数，0 表示使用默认值。
	MaxTries uint
}

// FailureHandler 在任务用尽重试后调用。
type FailureHandler func(job Job, err error)

type Queue struct {
	logger     *slog.Logger
	name       string
	workers    int
	jobTimeout time.Duration
	maxTries   uint
	retryDelay time.Duration
	onFailure  FailureHandler

	jobs   chan Job
	mu     sync.RWMutex // 保护 closed 与 close(jobs) 的先后
	closed bool
	wg     sync.WaitGroup

	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64
}

// Stats 是计数器快照。
type Stats struct {
	Submitted int64
	Succeeded int64
	Failed    int64
	Retried   int64
	Dropped   int64
	Panics    int64
}

type Option func(*Queue)

// WithName 设置日志中的队列名。
func WithName(name string) Option {
	return func(q *Queue) { q.name = name }
}

// WithJobTimeout 限制单次尝试的耗时，0 表示不限制。
func WithJobTimeout(d time.Duration) Option {
	return func(q *Queue) { q.jobTimeout = d }
}

// WithRetry 设置默认尝试次数与首次退避间隔。
func WithRetry(maxTries uint, initial time.Duration) Option {
	return func(q *Queue) {
		q.maxTries = maxTries
		q.retryDelay = initial
	}
}

// WithFailureHandler 注册最终失败回调。
func WithFailureHandler(h FailureHandler) Option {
	return func(q *Queue) { q.onFailure = h }
}

// New 创建队列；workers 与 capacity 至少为 1，默认只尝试一次。
func New(logger *slog.Logger, workers, capacity int, opts ...Option) *Queue {
	q := &Queue{
		logger:     logger,
		name:       "default",
		workers:    max(workers, 1),
		maxTries:   1,
		retryDelay: time.Second,
		jobs:       make(chan Job, max(capacity, 1)),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With(slog.String("queue", q.name))
	return q
}

// Start 启动 worker。ctx 取消后 worker 放弃剩余任务退出。
func (q *Queue) Start(ctx context.Context) {
	metrics.QueueWorkers.Set(float64(q.workers))
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func(id int) {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-q.jobs:
					if !ok {
						return
					}
					metrics.QueueDepth.Set(float64(len(q.jobs)))
					q.process(ctx, id, job)
				}
			}
		}(i)
	}
}

// Submit 非阻塞投递。队列满返回 ErrFull，排空后返回 ErrClosed。
func (q *Queue) Submit(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %q has no run func", job.Name)
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.jobs <- job:
		q.submitted.Add(1)
		metrics.QueueDepth.Set(float64(len(q.jobs)))
		return nil
	default:
		q.dropped.Add(1)
		metrics.QueueJobsTotal.WithLabelValues(job.Name, "dropped").Inc()
		q.logger.Warn("queue full, job dropped",
			slog.String("job", job.Name),
			slog.Int("capacity", cap(q.jobs)))
		return ErrFull
	}
}

// Drain 停止接收任务并等待积压处理完。ctx 先结束时返回其错误，
// 未完成的任务由 Start 的 ctx 决定去留。
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.logger.Info("draining queue", slog.Int("pending", len(q.jobs)))
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.logger.Info("queue drained")
		return nil
	case <-ctx.Done():
		q.logger.Error("queue drain interrupted", slog.Int("pending", len(q.jobs)))
		return fmt.Errorf("drain %s: %w", q.name, ctx.Err())
	}
}

func (q *Queue) Stats() Stats {
	return Stats{
		Submitted: q.submitted.Load(),
		Succeeded: q.succeeded.Load(),
		Failed:    q.failed.Load(),
		Retried:   q.retried.Load(),
		Dropped:   q.dropped.Load(),
		Panics:    q.panics.Load(),
	}
}

func (q *Queue) process(ctx context.Context, worker int, job Job) {
	log := q.logger.With(slog.String("job", job.Name), slog.Int("worker_id", worker))

	tries := job.MaxTries
	if tries == 0 {
		tries = q.maxTries
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = q.retryDelay

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if err := q.attempt(ctx, job); err != nil {
			var pe *panicError
			if errors.As(err, &pe) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, d time.Duration) {
			q.retried.Add(1)
			log.Debug("job retry", slog.String("error", err.Error()), slog.Duration("backoff", d))
		}))

	if err == nil {
		q.succeeded.Add(1)
		metrics.QueueJobsTotal.WithLabelValues(job.Name, "ok").Inc()
		return
	}
	q.failed.Add(1)
	metrics.QueueJobsTotal.WithLabelValues(job.Name, "failed").Inc()
	log.Warn("job failed", slog.Int("attempts", attempt), slog.String("error", err.Error()))
	if q.onFailure != nil {
		q.onFailure(job, err)
	}
}

type panicError struct{ value any }

func (p *panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

// attempt 执行一次任务，panic 转为不可重试的错误。
func (q *Queue) attempt(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.panics.Add(1)
			q.logger.Error("job panic recovered",
				slog.String("job", job.Name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = &panicError{value: r}
		}
	}()
	if q.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.jobTimeout)
		defer cancel()
	}
	return job.Run(ctx)
}
