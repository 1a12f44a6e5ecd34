package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"northsea/internal/api/middleware"
	"northsea/internal/api/scheduler"
	"northsea/internal/apperr"
	"northsea/internal/config"
	"northsea/internal/export"
	"northsea/internal/facebook"
	"northsea/internal/pkg/dedup"
	"northsea/internal/pkg/metrics"
	"northsea/internal/pkg/notify"
	"northsea/internal/pkg/queue"
	"northsea/internal/pkg/ratelimit"
	"northsea/internal/store"
	"northsea/internal/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Server 封装了 API 服务所需的依赖和路由处理。
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	rdb     *redis.Client
	router  *gin.Engine
	graph   *facebook.Client
	probe   *telemetry.Probe
	deduper *dedup.Deduplicator
	exports *export.ArtifactStore
	queue   *queue.Queue
	sched   *scheduler.Scheduler
}

// Deps 是 Server 的外部依赖。Redis、Graph 客户端与队列可以为空。
type Deps struct {
	Store *store.Store
	Redis *redis.Client
	Graph *facebook.Client
	Probe *telemetry.Probe
	Queue *queue.Queue

	// Scheduler 为空时不运行停滞任务巡检。
	Scheduler *scheduler.Scheduler
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接数据库并执行自动迁移
// 2. 连接 Redis（可选，未配置时限流、去重、导出退化为本地实现）
// 3. 创建 Graph API 客户端、通知队列与停滞任务巡检
// 4. 初始化 Gin 路由引擎
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}

	// 通知队列：终态迁移异步发邮件
	var dispatcher *notify.Dispatcher
	q := queue.New(logger, cfg.App.WorkerPoolSize, cfg.App.QueueCapacity,
		queue.WithName("notify"),
		queue.WithJobTimeout(30*time.Second),
		queue.WithRetry(3, 2*time.Second),
		queue.WithFailureHandler(func(job queue.Job, err error) { dispatcher.Failed(job, err) }))
	dispatcher = notify.NewDispatcher(q, notify.NewEmailNotifier(&cfg.Email, logger), logger)

	db, err := store.Open(cfg.Database, logger, cfg.App.SlowQueryThreshold)
	if err != nil {
		closeRedis(rdb)
		return nil, err
	}
	st := store.New(db, store.WithLogger(logger), store.WithObserver(dispatcher))
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		closeRedis(rdb)
		return nil, err
	}

	var limiter ratelimit.Limiter
	if rdb != nil {
		limiter = ratelimit.NewRedisLimiter(rdb, logger, ratelimit.DefaultKey, cfg.Facebook.RateLimit, cfg.Facebook.RateBurst)
	} else {
		limiter = ratelimit.NewLocalLimiter(cfg.Facebook.RateLimit, cfg.Facebook.RateBurst)
	}
	graph := facebook.NewClient(cfg.Facebook, limiter, logger)
	if !graph.Enabled() {
		logger.Warn("facebook access token not configured, graph routes disabled")
	}

	metrics.InitMetrics(cfg.App.WorkerPoolSize)
	// 通知在关停时由 Close 排空，不随请求上下文取消
	q.Start(context.WithoutCancel(ctx))

	return New(cfg, logger, Deps{
		Store:     st,
		Redis:     rdb,
		Graph:     graph,
		Probe:     telemetry.NewProbe(graph),
		Queue:     q,
		Scheduler: scheduler.NewScheduler(st, logger, cfg.App.JanitorInterval, cfg.App.StallTimeout),
	}), nil
}

// New assembles a server from ready dependencies.
func New(cfg *config.Config, logger *slog.Logger, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(logger))

	probe := deps.Probe
	if probe == nil {
		probe = telemetry.NewProbe(deps.Graph)
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		store:   deps.Store,
		rdb:     deps.Redis,
		router:  r,
		graph:   deps.Graph,
		probe:   probe,
		deduper: dedup.NewDeduplicator(deps.Redis, time.Duration(cfg.App.DedupWindow)*time.Second),
		exports: export.NewArtifactStore(deps.Redis, cfg.App.ExportTTL),
		queue:   deps.Queue,
		sched:   deps.Scheduler,
	}
	s.registerRoutes()
	return s
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// StartScheduler 启动后台维护任务，随 ctx 结束。
func (s *Server) StartScheduler(ctx context.Context) {
	if s.sched != nil {
		s.sched.StartJanitor(ctx)
	}
}

// Close 等待通知队列清空，然后关闭数据库与缓存连接。
func (s *Server) Close() error {
	if s.queue != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.queue.Drain(ctx); err != nil {
			s.logger.Warn("notify queue drain", slog.String("error", err.Error()))
		}
		cancel()
	}
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func closeRedis(rdb *redis.Client) {
	if rdb != nil {
		_ = rdb.Close()
	}
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	api := s.router.Group("/api")
	api.GET("/stats", s.handleStats)

	api.GET("/tasks", s.handleListTasks)
	api.POST("/tasks", s.handleCreateTask)
	api.GET("/tasks/:id", s.handleGetTask)
	api.PUT("/tasks/:id", s.handleUpdateTask)
	api.DELETE("/tasks/:id", s.handleDeleteTask)
	api.POST("/tasks/:id/start", s.handleStartTask)
	api.POST("/tasks/:id/stop", s.handleStopTask)
	api.POST("/tasks/:id/fail", s.handleFailTask)
	api.POST("/tasks/:id/progress", s.handleUpdateProgress)

	api.GET("/data", s.handleListData)
	api.POST("/data", s.handleCreateData)
	api.POST("/data/batch-delete", s.handleBatchDeleteData)
	api.DELETE("/data/:id", s.handleDeleteData)
	api.PATCH("/data/:id/status", s.handleAdvanceDataStatus)

	api.POST("/export", s.handleExport)
	api.GET("/download/:name", s.handleDownload)

	fb := api.Group("/facebook")
	fb.Use(s.requireGraph)
	fb.GET("/test", s.handleGraphTest)
	fb.GET("/me", s.handleGraphMe)
	fb.GET("/pages/:id", s.handleGraphPage)
	fb.GET("/pages/:id/posts", s.handleGraphPagePosts)
	fb.GET("/search", s.handleGraphSearch)
	fb.GET("/ads/:account/insights", s.handleGraphAdInsights)
	fb.GET("/token", s.handleGraphDebugToken)
	fb.POST("/token/exchange", s.handleGraphExchangeToken)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("healthz db ping failed", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			s.logger.Warn("healthz redis ping failed", slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// renderError writes {error, details?} with the status derived from the error kind.
// Unclassified errors are logged and answered with a generic 500.
func (s *Server) renderError(c *gin.Context, err error) {
	var ae *apperr.Error
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError || !errors.As(err, &ae) {
		s.logger.Error("request failed",
			slog.String("path", c.FullPath()),
			slog.String("request_id", middleware.GetRequestID(c)),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	body := gin.H{"error": ae.Message}
	if ae.Details != nil {
		body["details"] = ae.Details
	}
	if status >= http.StatusInternalServerError {
		s.logger.Warn("upstream failure", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
	}
	c.JSON(status, body)
}

// bindJSON decodes the body and renders a 400 on malformed input.
func (s *Server) bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		s.renderError(c, apperr.Validation("invalid request body", gin.H{"reason": err.Error()}))
		return false
	}
	return true
}

func (s *Server) paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		s.renderError(c, apperr.Validation("invalid "+name, nil))
		return 0, false
	}
	return uint(id), true
}

func parseQueryInt(c *gin.Context, key string, def int) int {
	val := c.Query(key)
	if val == "" {
		return def
	}
	iv, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return iv
}
