package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	searchTotal       *prometheus.CounterVec
	searchHits        *prometheus.HistogramVec
	searchDuration    *prometheus.HistogramVec
	answerTotal       *prometheus.CounterVec
	answerDuration    *prometheus.HistogramVec
	verifiedChunks    *prometheus.HistogramVec
	noEvidenceTotal   *prometheus.CounterVec
	streamEventsTotal *prometheus.CounterVec
	throttledTotal    *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dqa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dqa",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dqa",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	searchTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dqa",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total successful search requests by retrieval strategy.",
		},
		[]string{"service", "strategy"},
	)
	searchHits := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dqa",
			Subsystem: "search",
			Name:      "hits",
			Help:      "Distribution of returned hits per successful search.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service"},
	)
	searchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dqa",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Search execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	answerTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dqa",
			Subsystem: "answer",
			Name:      "requests_total",
			Help:      "Total successful answer requests by routed intent.",
		},
		[]string{"service", "intent"},
	)
	answerDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dqa",
			Subsystem: "answer",
			Name:      "duration_seconds",
			Help:      "Answer pipeline duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"service"},
	)
	verifiedChunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dqa",
			Subsystem: "answer",
			Name:      "verified_chunks",
			Help:      "Distribution of chunk verifications per answer.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
		},
		[]string{"service"},
	)
	noEvidenceTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dqa",
			Subsystem: "answer",
			Name:      "no_evidence_total",
			Help:      "Total answers that found no supporting evidence.",
		},
		[]string{"service"},
	)
	streamEventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dqa",
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Total NDJSON events emitted by type.",
		},
		[]string{"service", "type"},
	)
	throttledTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dqa",
			Subsystem: "http",
			Name:      "throttled_total",
			Help:      "Total requests rejected by rate limiting or backpressure.",
		},
		[]string{"service", "reason"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		searchTotal,
		searchHits,
		searchDuration,
		answerTotal,
		answerDuration,
		verifiedChunks,
		noEvidenceTotal,
		streamEventsTotal,
		throttledTotal,
	)

	return &HTTPServerMetrics{
		registry:          registry,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		searchTotal:       searchTotal,
		searchHits:        searchHits,
		searchDuration:    searchDuration,
		answerTotal:       answerTotal,
		answerDuration:    answerDuration,
		verifiedChunks:    verifiedChunks,
		noEvidenceTotal:   noEvidenceTotal,
		streamEventsTotal: streamEventsTotal,
		throttledTotal:    throttledTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/files/"):
		return "/v1/files/{file_id}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordSearch(service, strategy string, hitCount int, duration time.Duration) {
	if strategy == "" {
		strategy = "unknown"
	}
	m.searchTotal.WithLabelValues(service, strategy).Inc()
	m.searchHits.WithLabelValues(service).Observe(float64(hitCount))
	m.searchDuration.WithLabelValues(service).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) RecordAnswer(service, intent string, verifiedChunks int, evidenceFound bool, duration time.Duration) {
	if intent == "" {
		intent = "unknown"
	}
	m.answerTotal.WithLabelValues(service, intent).Inc()
	m.answerDuration.WithLabelValues(service).Observe(duration.Seconds())
	m.verifiedChunks.WithLabelValues(service).Observe(float64(verifiedChunks))
	if !evidenceFound {
		m.noEvidenceTotal.WithLabelValues(service).Inc()
	}
}

func (m *HTTPServerMetrics) RecordStreamEvent(service, eventType string) {
	if eventType == "" {
		eventType = "unknown"
	}
	m.streamEventsTotal.WithLabelValues(service, eventType).Inc()
}

func (m *HTTPServerMetrics) RecordThrottled(service, reason string) {
	m.throttledTotal.WithLabelValues(service, reason).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
