package httpadapter

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-Id"

type requestIDContextKey struct{}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	requestID, _ := ctx.Value(requestIDContextKey{}).(string)
	return requestID
}

// requestIDMiddleware propagates a caller-supplied correlation id or mints
// one. Oversized inbound values are replaced rather than echoed into logs.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), requestIDContextKey{}, requestID)
		w.Header().Set(requestIDHeader, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Scrape and liveness endpoints fire every few seconds; their success lines
// stay at debug so they do not drown out real traffic.
func isProbePath(path string) bool {
	return path == "/healthz" || path == "/metrics"
}

func (rt *Router) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		tap := &responseTap{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(tap, r)

		remote := r.RemoteAddr
		if host, _, err := net.SplitHostPort(remote); err == nil {
			remote = host
		}

		attrs := []any{
			"request_id", requestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", tap.status,
			"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
			"bytes", tap.bytes,
			"remote_addr", remote,
			"user_agent", r.UserAgent(),
		}

		switch {
		case tap.status >= 500:
			rt.logger.Error("http_request", attrs...)
		case tap.status >= 400:
			rt.logger.Warn("http_request", attrs...)
		case isProbePath(r.URL.Path):
			rt.logger.Debug("http_request", attrs...)
		default:
			rt.logger.Info("http_request", attrs...)
		}
	})
}

// responseTap records the status and byte count while forwarding Flush so
// streamed answers keep flowing through the logging wrapper.
type responseTap struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *responseTap) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseTap) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *responseTap) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
