package middleware

import (
	"net/http"
	"time"

	"github.com/kenneth/nac-producer/internal/metrics"
)

// MetricsMiddleware records request count, latency and response size.
func MetricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrap(w)
			next.ServeHTTP(rw, r)
			m.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, rw.statusCode, time.Since(start), rw.bytesWritten)
		})
	}
}
