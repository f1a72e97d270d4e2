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

	runsTotal      *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	agentDuration  *prometheus.HistogramVec
	sourcesPerRun  *prometheus.HistogramVec
	streamTimeouts *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragmesh",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragmesh",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ragmesh",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragmesh",
			Subsystem: "orchestrator",
			Name:      "runs_total",
			Help:      "Total completed orchestration runs by terminal node.",
		},
		[]string{"service", "terminal"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragmesh",
			Subsystem: "orchestrator",
			Name:      "run_duration_seconds",
			Help:      "Orchestration run duration in seconds by terminal node.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "terminal"},
	)
	agentDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragmesh",
			Subsystem: "orchestrator",
			Name:      "agent_duration_seconds",
			Help:      "Per-agent execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "agent"},
	)
	sourcesPerRun := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragmesh",
			Subsystem: "orchestrator",
			Name:      "cited_sources",
			Help:      "Distribution of cited sources per composable run.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service"},
	)
	streamTimeouts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragmesh",
			Subsystem: "orchestrator",
			Name:      "stream_timeouts_total",
			Help:      "Total runs terminated by the idle timeout.",
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		runsTotal,
		runDuration,
		agentDuration,
		sourcesPerRun,
		streamTimeouts,
	)

	return &HTTPServerMetrics{
		registry:        registry,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestInFlight: requestInFlight,
		runsTotal:       runsTotal,
		runDuration:     runDuration,
		agentDuration:   agentDuration,
		sourcesPerRun:   sourcesPerRun,
		streamTimeouts:  streamTimeouts,
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
	case strings.HasPrefix(path, "/v1/documents/"):
		return "/v1/documents/{document_id}"
	default:
		return path
	}
}

// RecordRun counts one finished orchestration run. Terminal is the node that
// ended the stream: synthesizer, sql, or process.
func (m *HTTPServerMetrics) RecordRun(service, terminal string, duration time.Duration) {
	if terminal == "" {
		terminal = "unknown"
	}
	m.runsTotal.WithLabelValues(service, terminal).Inc()
	m.runDuration.WithLabelValues(service, terminal).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) RecordAgentDuration(service, agent string, duration time.Duration) {
	if agent == "" {
		return
	}
	m.agentDuration.WithLabelValues(service, agent).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) RecordCitedSources(service string, count int) {
	m.sourcesPerRun.WithLabelValues(service).Observe(float64(count))
}

func (m *HTTPServerMetrics) RecordStreamTimeout(service string) {
	m.streamTimeouts.WithLabelValues(service).Inc()
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
