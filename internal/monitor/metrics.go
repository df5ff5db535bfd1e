package monitor

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector holds the service metrics
type MetricsCollector struct {
	reportTotal    *prometheus.CounterVec
	reportDuration *prometheus.HistogramVec
	aggPathTotal   *prometheus.CounterVec

	flushRoundTotal  *prometheus.CounterVec
	flushKeysFlushed prometheus.Counter

	awardIssuedTotal   *prometheus.CounterVec
	outboxPublishTotal *prometheus.CounterVec
	outboxBacklog      *prometheus.GaugeVec

	httpRequestTotal    *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewMetricsCollector creates and registers the service metrics
func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{}

	mc.reportTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "play_report_total",
			Help: "Total number of play reports by outcome",
		},
		[]string{"scene", "outcome"},
	)

	mc.reportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "play_report_duration_seconds",
			Help:    "Duration of play report processing",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scene"},
	)

	mc.aggPathTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agg_path_total",
			Help: "Reports routed per aggregation path",
		},
		[]string{"scene", "path"},
	)

	mc.flushRoundTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buffer_flush_round_total",
			Help: "Buffer flush rounds by result",
		},
		[]string{"status"},
	)

	mc.flushKeysFlushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "buffer_flush_keys_total",
			Help: "Dirty keys committed by the flusher",
		},
	)

	mc.awardIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "award_issued_total",
			Help: "Awards issued per scene and prize",
		},
		[]string{"scene", "prize_code"},
	)

	mc.outboxPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_total",
			Help: "Outbox publish attempts by result",
		},
		[]string{"status"},
	)

	mc.outboxBacklog = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outbox_backlog",
			Help: "Outbox rows per status",
		},
		[]string{"status"},
	)

	mc.httpRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	mc.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	return mc
}

// RecordReport records one processed report.
func (mc *MetricsCollector) RecordReport(scene, outcome string, elapsed time.Duration) {
	mc.reportTotal.WithLabelValues(scene, outcome).Inc()
	mc.reportDuration.WithLabelValues(scene).Observe(elapsed.Seconds())
}

// RecordAggPath records which path a report took.
func (mc *MetricsCollector) RecordAggPath(scene, path string) {
	mc.aggPathTotal.WithLabelValues(scene, path).Inc()
}

// RecordFlushRound records one flush round.
func (mc *MetricsCollector) RecordFlushRound(status string, keys int) {
	mc.flushRoundTotal.WithLabelValues(status).Inc()
	mc.flushKeysFlushed.Add(float64(keys))
}

// RecordAwardIssued records one grant.
func (mc *MetricsCollector) RecordAwardIssued(scene, prizeCode string) {
	mc.awardIssuedTotal.WithLabelValues(scene, prizeCode).Inc()
}

// RecordOutboxPublish records one publish attempt.
func (mc *MetricsCollector) RecordOutboxPublish(status string) {
	mc.outboxPublishTotal.WithLabelValues(status).Inc()
}

// SetOutboxBacklog updates the backlog gauge for one status.
func (mc *MetricsCollector) SetOutboxBacklog(status int8, count int64) {
	mc.outboxBacklog.WithLabelValues(strconv.Itoa(int(status))).Set(float64(count))
}

// RecordHTTPRequest records one HTTP request.
func (mc *MetricsCollector) RecordHTTPRequest(method, path string, status int, elapsed time.Duration) {
	mc.httpRequestTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	mc.httpRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}
