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

// APIMetrics holds the API-side instrument set on a private registry so
// test servers can run several instances without collisions.
type APIMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	answersTotal      *prometheus.CounterVec
	answerDuration    *prometheus.HistogramVec
	stageDuration     *prometheus.HistogramVec
	evidenceCount     *prometheus.HistogramVec
	fallbackTotal     *prometheus.CounterVec
	sparseDegraded    prometheus.Counter
	verificationTotal *prometheus.CounterVec
	llmTokensTotal    *prometheus.CounterVec
	cacheLookupsTotal *prometheus.CounterVec
	rateLimitedTotal  *prometheus.CounterVec
	backpressureTotal *prometheus.CounterVec
}

func NewAPIMetrics(service string) *APIMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clarity",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clarity",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clarity",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	answersTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clarity",
			Subsystem: "pipeline",
			Name:      "answers_total",
			Help:      "Total answered questions by strategy and status.",
		},
		[]string{"service", "strategy", "status"},
	)
	answerDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clarity",
			Subsystem: "pipeline",
			Name:      "answer_duration_seconds",
			Help:      "End-to-end answer latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 30},
		},
		[]string{"service", "strategy"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clarity",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Per-stage pipeline latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "stage"},
	)
	evidenceCount := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clarity",
			Subsystem: "retrieval",
			Name:      "evidence_items",
			Help:      "Distribution of evidence items per answered question.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service"},
	)
	fallbackTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clarity",
			Subsystem: "retrieval",
			Name:      "fallback_total",
			Help:      "Total requests that used a fallback evidence source.",
		},
		[]string{"service", "kind"},
	)
	sparseDegraded := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clarity",
			Subsystem: "retrieval",
			Name:      "sparse_degraded_total",
			Help:      "Total queries served dense-only after sparse capability loss.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	verificationTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clarity",
			Subsystem: "verify",
			Name:      "reports_total",
			Help:      "Total verification reports by outcome status.",
		},
		[]string{"service", "status"},
	)
	llmTokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clarity",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Token usage by direction.",
		},
		[]string{"service", "direction", "model"},
	)
	cacheLookupsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clarity",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by cache name and outcome.",
		},
		[]string{"service", "cache", "outcome"},
	)
	rateLimitedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clarity",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total requests rejected by the rate limiter.",
		},
		[]string{"service", "path"},
	)
	backpressureTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clarity",
			Subsystem: "http",
			Name:      "backpressure_total",
			Help:      "Total requests shed by the concurrency limiter.",
		},
		[]string{"service", "path"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		answersTotal,
		answerDuration,
		stageDuration,
		evidenceCount,
		fallbackTotal,
		sparseDegraded,
		verificationTotal,
		llmTokensTotal,
		cacheLookupsTotal,
		rateLimitedTotal,
		backpressureTotal,
	)

	return &APIMetrics{
		registry:          registry,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		answersTotal:      answersTotal,
		answerDuration:    answerDuration,
		stageDuration:     stageDuration,
		evidenceCount:     evidenceCount,
		fallbackTotal:     fallbackTotal,
		sparseDegraded:    sparseDegraded,
		verificationTotal: verificationTotal,
		llmTokensTotal:    llmTokensTotal,
		cacheLookupsTotal: cacheLookupsTotal,
		rateLimitedTotal:  rateLimitedTotal,
		backpressureTotal: backpressureTotal,
	}
}

func (m *APIMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *APIMetrics) Middleware(service string, next http.Handler) http.Handler {
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
	case strings.HasPrefix(path, "/v1/filings/"):
		return "/v1/filings/{filing_id}"
	default:
		return path
	}
}

func (m *APIMetrics) RecordAnswer(service, strategy, status string, evidenceItems int, duration time.Duration) {
	if strategy == "" {
		strategy = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	m.answersTotal.WithLabelValues(service, strategy, status).Inc()
	m.answerDuration.WithLabelValues(service, strategy).Observe(duration.Seconds())
	m.evidenceCount.WithLabelValues(service).Observe(float64(evidenceItems))
}

func (m *APIMetrics) RecordStage(service, stage string, duration time.Duration) {
	if stage == "" {
		return
	}
	m.stageDuration.WithLabelValues(service, stage).Observe(duration.Seconds())
}

func (m *APIMetrics) RecordFallback(service, kind string) {
	if kind == "" {
		kind = "unknown"
	}
	m.fallbackTotal.WithLabelValues(service, kind).Inc()
}

func (m *APIMetrics) RecordSparseDegraded() {
	m.sparseDegraded.Inc()
}

func (m *APIMetrics) RecordVerification(service, status string) {
	if status == "" {
		status = "unknown"
	}
	m.verificationTotal.WithLabelValues(service, status).Inc()
}

func (m *APIMetrics) RecordTokenUsage(service, model string, promptTokens, completionTokens int64) {
	if model == "" {
		model = "unknown"
	}
	if promptTokens > 0 {
		m.llmTokensTotal.WithLabelValues(service, "in", model).Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.llmTokensTotal.WithLabelValues(service, "out", model).Add(float64(completionTokens))
	}
}

func (m *APIMetrics) RecordCacheLookup(service, cache string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheLookupsTotal.WithLabelValues(service, cache, outcome).Inc()
}

func (m *APIMetrics) RecordRateLimited(service, path string) {
	m.rateLimitedTotal.WithLabelValues(service, normalizePath(path)).Inc()
}

func (m *APIMetrics) RecordBackpressure(service, path string) {
	m.backpressureTotal.WithLabelValues(service, normalizePath(path)).Inc()
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
