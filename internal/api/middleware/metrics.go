// metrics.go — Prometheus HTTP метрики catalog-enricher.
// Регистрирует метрики: ce_http_requests_total, ce_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ce_http_requests_total",
			Help: "Общее количество HTTP-запросов",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ce_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
// mediaPrefix — публичный префикс файлов медиа (CE_MEDIA_URL_PREFIX).
func MetricsMiddleware(mediaPrefix string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			normalizedPath := normalizePath(r.URL.Path, mediaPrefix)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath заменяет UUID-сегменты пути на {id} и файлы медиа на {file}
// для предотвращения взрывного роста кардинальности метрик.
// /api/v1/records/a1b2c3d4-.../enrich → /api/v1/records/{id}/enrich
// /media/a1b2c3d4-.../0.jpg → /media/{file}
func normalizePath(path, mediaPrefix string) string {
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/v1/records",
		"/api/v1/records/import",
		"/api/v1/enrich/batch":
		return path
	}

	const recordsPrefix = "/api/v1/records/"
	if strings.HasPrefix(path, recordsPrefix) {
		rest := path[len(recordsPrefix):]
		suffix := ""
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			suffix = rest[i:]
		}
		switch suffix {
		case "/enrich", "/translate":
			return "/api/v1/records/{id}" + suffix
		case "":
			return "/api/v1/records/{id}"
		}
		return "/api/v1/records/{id}/other"
	}

	if isMediaPath(path, mediaPrefix) {
		return strings.TrimRight(mediaPrefix, "/") + "/{file}"
	}

	return "other"
}

// isMediaPath — путь файла под публичным префиксом медиа.
func isMediaPath(path, mediaPrefix string) bool {
	prefix := strings.TrimRight(mediaPrefix, "/")
	if prefix == "" {
		return false
	}
	return strings.HasPrefix(path, prefix+"/")
}
