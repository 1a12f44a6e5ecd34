package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"northsea/internal/config"
	"northsea/internal/console"
	"northsea/internal/model"
	"northsea/internal/pkg/logger"
	"northsea/internal/poller"

	"golang.org/x/sync/errgroup"
)

// main 是控制台同步进程的入口函数。
//
// 它负责：
// 1. 加载配置，连接 API 服务
// 2. 订阅统计、任务列表和第一页数据
// 3. 按配置的间隔轮询，把每次更新写入日志，收到信号后退出
func main() {
	cfg, err := config.Load(os.Getenv("NORTHSEA_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: cfg.Sync.FetchTimeout}
	c := console.New(console.NewClient(cfg.Sync.APIBaseURL, httpClient), cfg.Sync, appLogger)

	g, gctx := errgroup.WithContext(ctx)

	watch := func(key poller.Key, render func(poller.Snapshot)) {
		updates, cancel := c.Watch(key)
		g.Go(func() error {
			defer cancel()
			for {
				select {
				case <-gctx.Done():
					return nil
				case snap, ok := <-updates:
					if !ok {
						return nil
					}
					render(snap)
				}
			}
		})
	}

	watch(console.StatsKey(), func(snap poller.Snapshot) {
		if snap.Err != nil {
			appLogger.Warn("stats unavailable", slog.String("error", snap.Err.Error()))
			return
		}
		stats, ok := snap.Value.(*model.SystemStats)
		if !ok || stats == nil {
			return
		}
		appLogger.Info("stats",
			slog.Int64("total_collected", stats.TotalCollected),
			slog.Int64("active_tasks", stats.ActiveTasks),
			slog.String("success_rate", stats.SuccessRate),
			slog.Int64("today_collected", stats.TodayCollected),
			slog.String("network", stats.NetworkStatus))
	})
	watch(console.TasksKey(), func(snap poller.Snapshot) {
		appLogger.Info("tasks", slog.String("source", console.TasksSource(snap).String()), slog.Uint64("seq", snap.Seq))
	})
	watch(c.PageKey(0, ""), func(snap poller.Snapshot) {
		appLogger.Info("data", slog.String("source", console.DataSourceOf(snap).String()), slog.Uint64("seq", snap.Seq))
	})

	// 先订阅再启动轮询，首轮即拉取
	g.Go(func() error { return c.Run(gctx) })

	appLogger.Info("console syncing", slog.String("api", cfg.Sync.APIBaseURL))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("console stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
	c.Cache().Wait()
	appLogger.Info("console stopped")
}
