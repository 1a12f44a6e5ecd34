package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"northsea/internal/api"
	"northsea/internal/config"
	"northsea/internal/pkg/logger"
)

// main 启动 North Sea API：加载配置，装配存储、Graph 客户端与后台巡检，
// 收到 SIGINT/SIGTERM 后先停止接收请求，再排空通知队列并释放连接。
func main() {
	cfg, err := config.Load(os.Getenv("NORTHSEA_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	appLogger := logger.NewDefault(cfg.App.LogLevel)

	if err := run(cfg, appLogger); err != nil {
		appLogger.Error("api server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, appLogger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := api.NewServer(ctx, cfg, appLogger)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}
	defer func() {
		// 等待通知队列中的邮件发完
		if err := srv.Close(); err != nil {
			appLogger.Error("close resources failed", slog.String("error", err.Error()))
		}
	}()
	srv.StartScheduler(ctx)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		appLogger.Info("api server listening", slog.String("addr", cfg.App.HTTPAddr))
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	appLogger.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
