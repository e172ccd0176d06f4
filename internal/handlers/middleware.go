package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"oee-platform/pkg/logging"
	"oee-platform/pkg/metrics"
)

// RequestIDMiddleware attaches a request identifier to the context so every
// log line emitted while serving the request carries it. An inbound
// X-Request-ID is honored; otherwise one is generated.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), logging.RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// MetricsMiddleware observes request latency per path
func MetricsMiddleware(mc *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			mc.APIRequestDuration.WithLabelValues(r.URL.Path).Observe(time.Since(start).Seconds())
		})
	}
}
