package middleware

import (
	"net/http"
	"strings"
	"time"
)

// HTTPMetrics returns middleware that reports every request to record with
// its method, a bounded route label, final status code, and elapsed time.
func HTTPMetrics(record func(method, route string, status int, elapsed time.Duration)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(wrapped, r)
			record(r.Method, routeLabel(r.URL.Path), wrapped.statusCode, time.Since(start))
		})
	}
}

// routeLabel maps request paths to a fixed label set so per-rule IDs do not
// explode metric cardinality.
func routeLabel(path string) string {
	if strings.HasPrefix(path, "/v1/rules/") {
		return "/v1/rules/{id}"
	}
	switch path {
	case "/v1/evaluate", "/v1/rules", "/v1/stream", "/healthz", "/metrics":
		return path
	default:
		return "other"
	}
}
