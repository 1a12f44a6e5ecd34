// Package scheduler 运行 API 进程内的周期性维护任务。
//
// 目前只有一个巡检（janitor）：外部采集器可能在任务 running 期间崩溃，
// 之后再也不会上报进度或失败。巡检把超过 StallTimeout 未更新的 running
// 任务置为 failed，走与采集器上报失败相同的迁移与通知路径。
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"northsea/internal/model"
	"northsea/internal/pkg/metrics"
)

// TaskStore 是巡检需要的存储能力。
type TaskStore interface {
	StalledTasks(ctx context.Context, cutoff time.Time) ([]model.CollectionTask, error)
	FailStalled(ctx context.Context, id uint, cutoff time.Time, reason string) (*model.CollectionTask, bool, error)
}

// Scheduler 周期性地执行维护任务。
type Scheduler struct {
	store           TaskStore
	logger          *slog.Logger
	janitorInterval time.Duration
	stallTimeout    time.Duration
	now             func() time.Time
}

// NewScheduler 创建调度器。
//
// 参数:
//
//	store: 任务存储
//	logger: 日志记录器
//	janitorInterval: 巡检间隔（0 表示使用默认值 5 分钟）
//	stallTimeout: running 任务无更新多久视为停滞（0 表示默认 30 分钟，负数关闭巡检）
func NewScheduler(store TaskStore, logger *slog.Logger, janitorInterval, stallTimeout time.Duration) *Scheduler {
	if janitorInterval <= 0 {
		janitorInterval = 5 * time.Minute
	}
	if stallTimeout == 0 {
		stallTimeout = 30 * time.Minute
	}
	return &Scheduler{
		store:           store,
		logger:          logger,
		janitorInterval: janitorInterval,
		stallTimeout:    stallTimeout,
		now:             time.Now,
	}
}

// Enabled reports whether the janitor should run.
func (s *Scheduler) Enabled() bool {
	return s != nil && s.stallTimeout > 0
}

// StartJanitor runs the stall check every janitorInterval until ctx ends.
func (s *Scheduler) StartJanitor(ctx context.Context) {
	if !s.Enabled() {
		s.logger.Info("janitor disabled")
		return
	}
	ticker := time.NewTicker(s.janitorInterval)
	s.logger.Info("janitor started",
		slog.String("interval", s.janitorInterval.String()),
		slog.String("stall_timeout", s.stallTimeout.String()))

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runRescue(ctx)
			}
		}
	}()
}

func (s *Scheduler) runRescue(ctx context.Context) {
	rescueCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	count, err := s.FailStalled(rescueCtx)
	if err != nil {
		s.logger.Error("janitor failed to check stalled tasks", slog.String("error", err.Error()))
		return
	}
	if count > 0 {
		s.logger.Info("janitor failed stalled tasks", slog.Int("count", count))
	}
}

// FailStalled fails every running task with no update within the stall
// timeout and returns how many were failed. A task that reports progress
// between the scan and its update is left running.
func (s *Scheduler) FailStalled(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.stallTimeout)
	tasks, err := s.store.StalledTasks(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	reason := fmt.Sprintf("no progress reported for %s", s.stallTimeout)
	failed := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			return failed, ctx.Err()
		}
		_, ok, err := s.store.FailStalled(ctx, task.ID, cutoff, reason)
		if err != nil {
			s.logger.Warn("fail stalled task",
				slog.Uint64("task_id", uint64(task.ID)),
				slog.String("error", err.Error()))
			continue
		}
		if !ok {
			continue
		}
		failed++
		metrics.StalledTasksFailedTotal.Inc()
		s.logger.Warn("task stalled",
			slog.Uint64("task_id", uint64(task.ID)),
			slog.String("name", task.Name),
			slog.Int("progress", task.Progress))
	}
	return failed, nil
}
