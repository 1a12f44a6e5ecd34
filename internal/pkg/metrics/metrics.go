package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TaskTransitionsTotal 生命周期迁移次数（按事件与目标状态）。
	TaskTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "northsea_task_transitions_total",
		Help: "Committed collection task transitions.",
	}, []string{"event", "to"})

	// TaskTransitionRejectedTotal 被守卫拒绝的迁移请求。
	TaskTransitionRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "northsea_task_transition_rejected_total",
		Help: "Transition requests rejected by a lifecycle guard.",
	}, []string{"event", "reason"})

	// ActiveTasks 当前 running 状态的任务数（每次 getStats 时刷新）。
	ActiveTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "northsea_active_tasks",
		Help: "Tasks currently in running state, as of the last stats read.",
	})

	// CollectedItemsTotal 入库的采集条目数。
	CollectedItemsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "northsea_collected_items_total",
		Help: "Collected items ingested.",
	})

	// IngestDuplicatesTotal 因 externalId 重复被忽略的条目数。
	IngestDuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "northsea_ingest_duplicates_total",
		Help: "Collected items skipped as duplicates.",
	})

	// ExportsTotal 导出次数（按格式）。
	ExportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "northsea_exports_total",
		Help: "Exports produced by format.",
	}, []string{"format"})

	// HTTPRequestDuration API 请求耗时。
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "northsea_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// GraphRequestsTotal Graph API 调用次数（按操作与结果）。
	GraphRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "northsea_graph_requests_total",
		Help: "Graph API calls by operation and outcome.",
	}, []string{"op", "result"})

	// GraphRequestDuration Graph API 调用耗时。
	GraphRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "northsea_graph_request_duration_seconds",
		Help:    "Graph API call latency.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"op"})

	// GraphBreakerState 熔断器状态：0 closed, 1 half-open, 2 open。
	GraphBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "northsea_graph_breaker_state",
		Help: "Graph API circuit breaker state (0 closed, 1 half-open, 2 open).",
	})

	// RateLimitWaitDuration 限流等待耗时。
	RateLimitWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "northsea_ratelimit_wait_seconds",
		Help:    "Time spent waiting for a Graph API token.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})

	// RateLimitTimeoutTotal 限流等待超时次数。
	RateLimitTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "northsea_ratelimit_timeout_total",
		Help: "Graph API token waits abandoned because the context ended.",
	})

	// RateLimitHoldsTotal Graph 返回配额错误后挂起调用的次数。
	RateLimitHoldsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "northsea_ratelimit_holds_total",
		Help: "Graph API call holds placed after a throttling response.",
	})

	// SyncFetchTotal 客户端同步层的拉取次数（按资源与结果）。
	SyncFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "northsea_sync_fetch_total",
		Help: "Client sync layer fetches by resource and outcome.",
	}, []string{"resource", "result"})

	// SyncStaleDiscardedTotal 被丢弃的过期响应。
	SyncStaleDiscardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "northsea_sync_stale_discarded_total",
		Help: "Responses discarded because a newer one was already stored.",
	}, []string{"resource"})

	// QueueDepth 通知队列积压。
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "northsea_queue_depth",
		Help: "Jobs waiting in the notification queue.",
	})

	// QueueWorkers 通知队列 worker 数。
	QueueWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "northsea_queue_workers",
		Help: "Configured notification queue workers.",
	})

	// QueueJobsTotal 后台任务结果（按任务名）。
	QueueJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "northsea_queue_jobs_total",
		Help: "Background jobs by name and final outcome.",
	}, []string{"job", "result"})

	// NotificationsTotal 通知发送结果。
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "northsea_notifications_total",
		Help: "Task notifications by outcome.",
	}, []string{"result"})

	// StalledTasksFailedTotal 被巡检判定为停滞并置为 failed 的任务数。
	StalledTasksFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "northsea_stalled_tasks_failed_total",
		Help: "Running tasks failed by the janitor after missing progress reports.",
	})
)

var initOnce sync.Once

// InitMetrics 初始化需要预置值的指标。
func InitMetrics(workers int) {
	initOnce.Do(func() {
		QueueWorkers.Set(float64(workers))
		GraphBreakerState.Set(0)
		ActiveTasks.Set(0)
	})
}
