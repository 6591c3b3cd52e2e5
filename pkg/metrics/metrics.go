package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 合并运行次数
	ConsolidationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consolidation_runs_total",
			Help: "Total number of consolidation runs",
		},
		[]string{"result"}, // result: ok, error
	)

	// 合并运行耗时（秒）
	ConsolidationRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "consolidation_run_duration_seconds",
			Help:    "Consolidation run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
	)

	// 每个收件人批次的处理结果
	RecipientBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consolidation_recipient_batches_total",
			Help: "Recipient batches processed, by outcome",
		},
		[]string{"outcome"}, // outcome: sent, failed, conflict, error
	)

	// 通知行状态迁移计数
	NotificationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_transitions_total",
			Help: "Notification rows moved out of PENDING, by target status",
		},
		[]string{"status"},
	)

	// 投递调用延迟（毫秒）
	DeliveryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delivery_latency_ms",
			Help:    "Delivery adapter call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12), // 10ms to ~40s
		},
		[]string{"adapter", "status"},
	)

	// 熔断器状态（0 closed, 1 open, 2 half-open）
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open",
		},
		[]string{"name"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Total number of queries slower than the configured threshold",
		},
		[]string{"sql"},
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// 入队事件计数
	IntakeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_intake_events_total",
			Help: "Notification requests received from producers",
		},
		[]string{"source", "result"}, // source: http, mq
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

// RecordRun 记录一次合并运行
func RecordRun(result string, duration time.Duration) {
	ConsolidationRuns.WithLabelValues(result).Inc()
	ConsolidationRunDuration.Observe(duration.Seconds())
}

// IncrementRecipientBatch 增加批次结果计数
func IncrementRecipientBatch(outcome string) {
	RecipientBatches.WithLabelValues(outcome).Inc()
}

// AddTransitions 记录状态迁移的行数
func AddTransitions(status string, rows int) {
	NotificationTransitions.WithLabelValues(status).Add(float64(rows))
}

// RecordDeliveryLatency 记录投递延迟
func RecordDeliveryLatency(adapter, status string, duration time.Duration) {
	DeliveryLatency.WithLabelValues(adapter, status).Observe(float64(duration.Milliseconds()))
}

// SetCircuitBreakerState 更新熔断器状态
func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// IncrementSlowQuery 记录慢查询
func IncrementSlowQuery(sql string, _ time.Duration) {
	SlowQueryCount.WithLabelValues(sql).Inc()
}

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// IncrementIntake 增加入队事件计数
func IncrementIntake(source, result string) {
	IntakeEvents.WithLabelValues(source, result).Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
