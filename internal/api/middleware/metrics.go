// metrics.go: счётчик и гистограмма HTTP-запросов Character Module.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cm_http_requests_total",
			Help: "Количество HTTP-запросов по маршруту и статусу",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cm_http_request_duration_seconds",
			Help:    "Время обработки HTTP-запроса, секунды",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware считает запросы и время ответа по каждому маршруту.
// Синхронизация с внешним API попадает в длинный хвост гистограммы.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			rec := recordStatus(w)

			next.ServeHTTP(rec, r)

			route := normalizePath(r.URL.Path)
			httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(started).Seconds())
		})
	}
}

// normalizePath оставляет известные маршруты, остальные пишутся как "other".
func normalizePath(path string) string {
	switch path {
	case "/characters", "/healthcheck",
		"/health/live", "/health/ready", "/metrics":
		return path
	}
	return "other"
}
