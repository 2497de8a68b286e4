// Package metrics exposes Prometheus collectors for the frame ingestion service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	payloadsTotal              *prometheus.CounterVec
	framesAcceptedTotal        prometheus.Counter
	framesDroppedTotal         prometheus.Counter
	framesTruncatedTotal       prometheus.Counter
	framesPersistedTotal       *prometheus.CounterVec
	framesPersistedBytesTotal  *prometheus.CounterVec
	framesFailedTotal          *prometheus.CounterVec
	persistDurationSeconds     prometheus.Histogram
	queueDepth                 prometheus.Gauge
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		payloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frames_payloads_total",
				Help: "Total number of ingress payloads, labeled by framing mode and decode result.",
			},
			[]string{"mode", "result"},
		)

		framesAcceptedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "frames_accepted_total",
				Help: "Total number of frames decoded and pushed onto the queue.",
			},
		)

		framesDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "frames_dropped_total",
				Help: "Total number of queued frames evicted by overflow.",
			},
		)

		framesTruncatedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "frames_truncated_total",
				Help: "Total number of batch payloads that ended before all declared frames were read.",
			},
		)

		framesPersistedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frames_persisted_total",
				Help: "Total number of frames written to the artifact store, labeled by output format.",
			},
			[]string{"format"},
		)

		framesPersistedBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frames_persisted_bytes_total",
				Help: "Total number of artifact bytes written, labeled by output format.",
			},
			[]string{"format"},
		)

		framesFailedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frames_failed_total",
				Help: "Total number of per-frame persistence failures, labeled by pipeline stage.",
			},
			[]string{"stage"},
		)

		persistDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "frames_persist_duration_seconds",
				Help:    "Histogram of time from dequeue to stored artifact.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "frames_queue_depth",
				Help: "Number of frames resident in the queue.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "frames_active_workers",
				Help: "Number of persistence workers currently processing a frame.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePayload counts one ingress payload.
func ObservePayload(mode, result string) {
	payloadsTotal.WithLabelValues(mode, result).Inc()
}

// ObserveFramesAccepted counts frames pushed onto the queue.
func ObserveFramesAccepted(n int) {
	if n > 0 {
		framesAcceptedTotal.Add(float64(n))
	}
}

// ObserveFrameDropped counts one overflow eviction.
func ObserveFrameDropped() {
	framesDroppedTotal.Inc()
}

// ObserveTruncatedBatch counts one partially decoded batch.
func ObserveTruncatedBatch() {
	framesTruncatedTotal.Inc()
}

// ObservePersisted records a successfully stored artifact.
func ObservePersisted(format string, size int, duration time.Duration) {
	framesPersistedTotal.WithLabelValues(format).Inc()
	framesPersistedBytesTotal.WithLabelValues(format).Add(float64(size))
	persistDurationSeconds.Observe(duration.Seconds())
}

// ObserveFailure counts a per-frame failure at the given stage.
func ObserveFailure(stage string) {
	framesFailedTotal.WithLabelValues(stage).Inc()
}

// SetQueueDepth publishes the current queue length.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
