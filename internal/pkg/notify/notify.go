package notify

import (
	"context"
	"log/slog"

	"northsea/internal/lifecycle"
	"northsea/internal/model"
	"northsea/internal/pkg/metrics"
	"northsea/internal/pkg/queue"
)

// Notifier 定义任务状态通知接口。
type Notifier interface {
	// Notify 针对一次已提交的状态迁移发送通知。
	Notify(ctx context.Context, change lifecycle.Change) error
}

// Dispatcher 把终态迁移（completed / failed）投递到异步队列，
// 避免 SMTP 延迟阻塞 HTTP 请求。
type Dispatcher struct {
	queue    *queue.Queue
	notifier Notifier
	logger   *slog.Logger
}

// NewDispatcher 创建一个通知分发器，它实现 lifecycle.Observer。
func NewDispatcher(q *queue.Queue, n Notifier, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{queue: q, notifier: n, logger: logger}
}

// TaskTransitioned implements lifecycle.Observer.
func (d *Dispatcher) TaskTransitioned(change lifecycle.Change) {
	if d == nil || d.notifier == nil || d.queue == nil {
		return
	}
	if change.To != model.TaskCompleted && change.To != model.TaskFailed {
		return
	}
	err := d.queue.Submit(queue.Job{
		Name: "notify_" + string(change.To),
		Run: func(ctx context.Context) error {
			if err := d.notifier.Notify(ctx, change); err != nil {
				return err
			}
			metrics.NotificationsTotal.WithLabelValues("sent").Inc()
			return nil
		},
	})
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
		d.logger.Warn("notification dropped",
			slog.Uint64("task_id", uint64(change.TaskID)),
			slog.String("to", string(change.To)),
			slog.String("error", err.Error()))
	}
}

// Failed 作为队列的 FailureHandler，记录重试用尽的通知。
func (d *Dispatcher) Failed(job queue.Job, err error) {
	metrics.NotificationsTotal.WithLabelValues("error").Inc()
	d.logger.Error("notification failed",
		slog.String("job", job.Name),
		slog.String("error", err.Error()))
}
