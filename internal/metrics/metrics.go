package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/langchou/rentsync/internal/models"
)

const namespace = "rentsync"

// Metrics 服务指标。所有方法允许在 nil 上调用。
type Metrics struct {
	registry *prometheus.Registry

	remoteRequests  *prometheus.CounterVec
	remoteDuration  *prometheus.HistogramVec
	syncRuns        *prometheus.CounterVec
	syncDuration    prometheus.Histogram
	syncCars        *prometheus.GaugeVec
	availability    *prometheus.CounterVec
	outboxProcessed *prometheus.CounterVec
}

// New 创建指标并注册到独立的 registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		remoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "Renteon API requests by endpoint and status code.",
		}, []string{"endpoint", "code"}),
		remoteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_request_duration_seconds",
			Help:      "Renteon API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Catalog and price sync runs by result.",
		}, []string{"result"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Wall time of a sync run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		syncCars: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_last_run_cars",
			Help:      "Per-outcome car counts of the last sync run.",
		}, []string{"engine", "outcome"}),
		availability: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "availability_checks_total",
			Help:      "Availability reconciliations by remote outcome.",
		}, []string{"remote"}),
		outboxProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_operations_total",
			Help:      "Outbox operations pushed to Renteon by kind and result.",
		}, []string{"kind", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.remoteRequests,
		m.remoteDuration,
		m.syncRuns,
		m.syncDuration,
		m.syncCars,
		m.availability,
		m.outboxProcessed,
	)
	return m
}

// Registry 返回指标 registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRemoteRequest 记录一次远端调用，可直接作为 renteon.RequestHook
func (m *Metrics) ObserveRemoteRequest(endpoint string, statusCode int, d time.Duration) {
	if m == nil {
		return
	}
	code := "error"
	if statusCode > 0 {
		code = strconv.Itoa(statusCode)
	}
	m.remoteRequests.WithLabelValues(endpoint, code).Inc()
	m.remoteDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ObserveSyncRun 记录同步结果
func (m *Metrics) ObserveSyncRun(result string, d time.Duration, catalog, prices models.SyncStats) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(result).Inc()
	m.syncDuration.Observe(d.Seconds())
	m.setStats("catalog", catalog)
	m.setStats("price", prices)
}

func (m *Metrics) setStats(engine string, s models.SyncStats) {
	m.syncCars.WithLabelValues(engine, "created").Set(float64(s.Created))
	m.syncCars.WithLabelValues(engine, "updated").Set(float64(s.Updated))
	m.syncCars.WithLabelValues(engine, "skipped").Set(float64(s.Skipped))
	m.syncCars.WithLabelValues(engine, "failed").Set(float64(s.Failed))
	m.syncCars.WithLabelValues(engine, "scanned").Set(float64(s.TotalScanned))
}

// ObserveAvailability 记录一次可用性对账，remote 为 ok / fallback / skipped
func (m *Metrics) ObserveAvailability(remote string) {
	if m == nil {
		return
	}
	m.availability.WithLabelValues(remote).Inc()
}

// ObserveOutbox 记录一次 outbox 推送，result 为 done / retry / failed
func (m *Metrics) ObserveOutbox(kind, result string) {
	if m == nil {
		return
	}
	m.outboxProcessed.WithLabelValues(kind, result).Inc()
}
