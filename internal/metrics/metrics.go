// Package metrics exposes Prometheus collectors for the HTTP surface and the
// case processing pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pv_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pv_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pv_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Pipeline metrics
	reportsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pv_reports_processed_total",
			Help: "Total number of adverse event reports processed",
		},
		[]string{"risk_level", "decision"},
	)

	processingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pv_report_processing_duration_seconds",
			Help:    "End-to-end report processing time in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	auditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pv_audit_write_failures_total",
			Help: "Total number of audit appends that failed",
		},
	)

	indexUpsertFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pv_index_upsert_failures_total",
			Help: "Total number of similarity index upserts that failed",
		},
	)

	similarityQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pv_similarity_query_duration_seconds",
			Help:    "Similarity query duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	classifierFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pv_classifier_fallbacks_total",
			Help: "Total number of cases scored with the neutral probability",
		},
	)

	emailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pv_escalation_emails_total",
			Help: "Escalation email outcomes",
		},
		[]string{"outcome"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinMiddleware records request count, latency and in-flight requests.
// Paths are the matched route template to keep label cardinality bounded.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// RecordReport records one processed report
func RecordReport(riskLevel, decision string, elapsed time.Duration) {
	reportsProcessed.WithLabelValues(riskLevel, decision).Inc()
	processingDuration.Observe(elapsed.Seconds())
}

// RecordAuditWriteFailure counts a failed audit append
func RecordAuditWriteFailure() {
	auditWriteFailures.Inc()
}

// RecordIndexUpsertFailure counts a failed index upsert
func RecordIndexUpsertFailure() {
	indexUpsertFailures.Inc()
}

// ObserveSimilarityQuery records similarity query latency
func ObserveSimilarityQuery(elapsed time.Duration) {
	similarityQueryDuration.Observe(elapsed.Seconds())
}

// RecordClassifierFallback counts a neutral-probability fallback
func RecordClassifierFallback() {
	classifierFallbacks.Inc()
}

// RecordEmail counts an escalation email outcome: sent, failed or skipped
func RecordEmail(outcome string) {
	emailsTotal.WithLabelValues(outcome).Inc()
}
