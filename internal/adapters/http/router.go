package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/bme3412/clarity/internal/core/ports"
	"github.com/bme3412/clarity/internal/observability/metrics"
)

type RouterConfig struct {
	Service          string
	APIKey           string // empty disables bearer auth
	RateLimitRPS     float64
	RateLimitBurst   int
	MaxInFlight      int
	BackpressureWait time.Duration
}

func (c RouterConfig) normalize() RouterConfig {
	out := c
	if out.Service == "" {
		out.Service = "api"
	}
	if out.RateLimitRPS <= 0 {
		out.RateLimitRPS = 10
	}
	if out.RateLimitBurst <= 0 {
		out.RateLimitBurst = 20
	}
	if out.MaxInFlight <= 0 {
		out.MaxInFlight = 64
	}
	if out.BackpressureWait <= 0 {
		out.BackpressureWait = 200 * time.Millisecond
	}
	return out
}

type Router struct {
	answers ports.ResearchAnswerer
	tools   ports.ResearchTools
	ingest  ports.FilingIngestor
	filings ports.FilingReader
	metrics *metrics.APIMetrics
	logger  *slog.Logger
	cfg     RouterConfig
}

func NewRouter(
	answers ports.ResearchAnswerer,
	tools ports.ResearchTools,
	ingest ports.FilingIngestor,
	filings ports.FilingReader,
	apiMetrics *metrics.APIMetrics,
	logger *slog.Logger,
	cfg RouterConfig,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		answers: answers,
		tools:   tools,
		ingest:  ingest,
		filings: filings,
		metrics: apiMetrics,
		logger:  logger,
		cfg:     cfg.normalize(),
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/ask", rt.ask)
	mux.HandleFunc("POST /v1/ask/stream", rt.askStream)
	mux.HandleFunc("GET /v1/entities", rt.entities)
	mux.HandleFunc("POST /v1/filings", rt.uploadFiling)
	mux.HandleFunc("GET /v1/filings/{filing_id}", rt.getFilingByID)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = rt.authMiddleware(handler)
	handler = rt.backpressureMiddleware(handler, rt.cfg.MaxInFlight, rt.cfg.BackpressureWait)
	handler = rt.rateLimitMiddleware(handler, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.cfg.Service, handler)
	}
	handler = rt.accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= 500 {
		rt.logger.Error("request failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err)
	}
	writeJSON(w, status, map[string]string{"error": publicErrorMessage(err, status)})
}
