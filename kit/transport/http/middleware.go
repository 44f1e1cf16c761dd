package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/boneybank/boneybank/logger"
	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Middleware constructor.
type Middleware func(http.Handler) http.Handler

// Metrics records the count and latency of every request served by the
// handler called name. Paths are reported by their chi route pattern.
func Metrics(name string, reqMetric *prometheus.CounterVec, durMetric *prometheus.HistogramVec) Middleware {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			statusW := NewStatusResponseWriter(w)

			defer func(start time.Time) {
				label := prometheus.Labels{
					"handler":       name,
					"method":        r.Method,
					"path":          routePattern(r),
					"status":        statusW.StatusCodeClass(),
					"response_code": fmt.Sprintf("%d", statusW.Code()),
				}
				durMetric.With(label).Observe(time.Since(start).Seconds())
				reqMetric.With(label).Inc()
			}(time.Now())

			next.ServeHTTP(statusW, r)
		}
		return http.HandlerFunc(fn)
	}
}

// NewRequestMetrics returns the vectors expected by Metrics.
func NewRequestMetrics(namespace string) (*prometheus.CounterVec, *prometheus.HistogramVec) {
	labels := []string{"handler", "method", "path", "status", "response_code"}
	reqs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Number of http requests received",
	}, labels)
	dur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Time taken to respond to HTTP request",
	}, labels)
	return reqs, dur
}

// Logging logs every request at debug level, and every 5XX response at
// error level. Handlers find a logger scoped to the request in its context.
func Logging(log *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			statusW := NewStatusResponseWriter(w)
			start := time.Now()
			reqLog := log.With(zap.String("method", r.Method), zap.String("path", r.URL.Path))
			next.ServeHTTP(statusW, r.WithContext(logger.NewContextWithLogger(r.Context(), reqLog)))

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", statusW.Code()),
				zap.Int("response_bytes", statusW.ResponseBytes()),
				zap.Duration("took", time.Since(start)),
			}
			if statusW.Code() >= 500 && statusW.Code() != http.StatusServiceUnavailable {
				log.Error("Server error response", fields...)
				return
			}
			log.Debug("Request", fields...)
		}
		return http.HandlerFunc(fn)
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
