package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 应用指标
type Metrics struct {
	// HTTP请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 实例生命周期指标
	InstanceOperations    *prometheus.CounterVec
	OffsetsAllocated      prometheus.Counter
	AddressSpaceExhausted prometheus.Counter
	VMsMaterialized       prometheus.Counter
	VMsSkipped            *prometheus.CounterVec
	DispatchFailures      *prometheus.CounterVec

	// 部署队列指标
	JobsProcessed *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	QueueDepth    prometheus.Gauge
	OrphansSwept  prometheus.Counter
}

// NewMetrics 在默认注册表上创建指标（Fx兼容）
func NewMetrics() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// New 创建指标收集器，测试中传入独立的注册表
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyroid_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cyroid_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		InstanceOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyroid_instance_operations_total",
				Help: "Blueprint instance operations by kind and outcome",
			},
			[]string{"operation", "status"}, // deploy|clone|reset|redeploy|delete, ok|error
		),

		OffsetsAllocated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cyroid_subnet_offsets_allocated_total",
				Help: "Total number of subnet offsets issued to new instances",
			},
		),

		AddressSpaceExhausted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cyroid_address_space_exhausted_total",
				Help: "Instance operations rejected because the blueprint ran out of address space",
			},
		),

		VMsMaterialized: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cyroid_vms_materialized_total",
				Help: "Total number of VM records materialized from blueprints",
			},
		),

		VMsSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyroid_vms_skipped_total",
				Help: "VM config entries skipped during materialization",
			},
			[]string{"reason"},
		),

		DispatchFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyroid_provisioning_dispatch_failures_total",
				Help: "Provisioning requests that could not be enqueued",
			},
			[]string{"kind"},
		),

		JobsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyroid_provisioning_jobs_total",
				Help: "Provisioning jobs processed by kind and outcome",
			},
			[]string{"kind", "status"},
		),

		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cyroid_provisioning_job_duration_seconds",
				Help:    "Provisioning job duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"kind"},
		),

		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cyroid_provisioning_queue_depth",
				Help: "Number of provisioning jobs waiting in the queue",
			},
		),

		OrphansSwept: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cyroid_orphan_ranges_swept_total",
				Help: "Runtime ranges with no database record that were scheduled for teardown",
			},
		),
	}
}

// RecordHTTPRequest 记录HTTP请求
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordInstanceOperation 记录实例操作结果
func (m *Metrics) RecordInstanceOperation(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.InstanceOperations.WithLabelValues(operation, status).Inc()
}

// RecordJob 记录部署任务
func (m *Metrics) RecordJob(kind string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.JobsProcessed.WithLabelValues(kind, status).Inc()
	m.JobDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// GinMiddleware 记录每个请求的次数和耗时，按路由模板聚合
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RecordHTTPRequest(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start).Seconds(),
		)
	}
}
