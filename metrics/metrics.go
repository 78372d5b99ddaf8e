// Package metrics holds the caption pipeline's rolling statistics and its
// prometheus collectors.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "livecaption"

// Pipeline counters (incremented directly by capture, dispatcher and stt).
var (
	FramesCaptured = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_captured_total",
		Help:      "Audio frames delivered by the capture callback.",
	})

	FramesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_dropped_total",
		Help:      "Audio frames dropped because the queue was full.",
	})

	FramesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_processed_total",
		Help:      "Audio frames handed to the transcriber.",
	})

	FrameErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frame_errors_total",
		Help:      "Frames skipped after a processing error.",
	})

	FramesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_skipped_total",
		Help:      "Frames too short to yield samples at the transcriber rate.",
	})

	Results = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "results_total",
		Help:      "Recognition results emitted, by kind.",
	}, []string{"kind"})

	ResultLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "result_latency_seconds",
		Help:      "Time from frame capture to result.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms → 2.5s
	})

	RemoteSendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "remote_send_failures_total",
		Help:      "Audio sends to a remote backend that failed and were skipped.",
	})
)

// HTTP metrics for the caption feed.
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests processed.",
	}, []string{"method", "path_pattern", "status_code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path_pattern"})
)

func init() {
	prometheus.MustRegister(
		FramesCaptured,
		FramesDropped,
		FramesProcessed,
		FrameErrors,
		FramesSkipped,
		Results,
		ResultLatency,
		RemoteSendFailures,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// ObserveResult counts one emitted result.
func ObserveResult(final bool, latencyMS float64) {
	kind := "partial"
	if final {
		kind = "final"
	}
	Results.WithLabelValues(kind).Inc()
	if latencyMS > 0 {
		ResultLatency.Observe(latencyMS / 1000)
	}
}

// InstrumentHandler records request metrics labelled by chi route pattern.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)

		pattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(sw.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
