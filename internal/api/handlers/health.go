// health.go: обработчики health endpoints Character Module.
// /healthcheck: доступность хранилища (SELECT 1)
// /health/live: liveness probe (процесс жив)
// /health/ready: readiness probe (PostgreSQL, внешний API как некритичная зависимость)
// /metrics: Prometheus метрики
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	apierrors "github.com/bigkaa/character-module/internal/api/errors"
	"github.com/bigkaa/character-module/internal/config"
)

const serviceName = "character-module"

// ReadinessChecker: интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status, message string)
}

// StorePinger проверяет доступность хранилища. Реализуется репозиторием.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler: обработчик health endpoints.
type HealthHandler struct {
	store           StorePinger
	pgChecker       ReadinessChecker
	upstreamChecker ReadinessChecker
	promHandler http.Handler
	timeout     time.Duration
	logger      *slog.Logger
}

// NewHealthHandler создаёт обработчик health endpoints.
// pgChecker может быть nil, тогда readiness вернёт "fail".
// upstreamChecker может быть nil (topologymetrics не запущен), тогда
// проверка внешнего API в ответ не попадает.
func NewHealthHandler(store StorePinger, pgChecker, upstreamChecker ReadinessChecker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		store:           store,
		pgChecker:       pgChecker,
		upstreamChecker: upstreamChecker,
		promHandler:     promhttp.Handler(),
		timeout:         3 * time.Second,
		logger:          logger.With(slog.String("component", "health")),
	}
}

// healthcheckResponse: ответ /healthcheck.
type healthcheckResponse struct {
	Status string `json:"status"`
}

// healthCheckResult: результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthLiveResponse: ответ liveness probe.
type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// healthReadyResponse: ответ readiness probe.
type healthReadyResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
	Checks    struct {
		PostgreSQL healthCheckResult  `json:"postgresql"`
		Upstream   *healthCheckResult `json:"upstream,omitempty"`
	} `json:"checks"`
}

// Healthcheck: 200 {"status":"healthy"}, если SELECT 1 выполнился, иначе 503.
func (h *HealthHandler) Healthcheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("Проверка хранилища не пройдена", slog.String("error", err.Error()))
		apierrors.StoreUnavailable(w, "Локальное хранилище недоступно")
		return
	}

	writeJSON(w, http.StatusOK, healthcheckResponse{Status: "healthy"})
}

// HealthLive: liveness probe. Возвращает 200, если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	})
}

// HealthReady: readiness probe. Проверяет PostgreSQL и, если задан, внешний API.
// Возвращает 200 (ok/degraded) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	}

	if h.pgChecker != nil {
		pgStatus, pgMsg := h.pgChecker.CheckReady()
		resp.Checks.PostgreSQL = healthCheckResult{Status: pgStatus, Message: pgMsg}
	} else {
		resp.Checks.PostgreSQL = healthCheckResult{Status: statusFail, Message: "не инициализирован"}
	}

	statuses := []string{resp.Checks.PostgreSQL.Status}
	if h.upstreamChecker != nil {
		upStatus, upMsg := h.upstreamChecker.CheckReady()
		resp.Checks.Upstream = &healthCheckResult{Status: upStatus, Message: upMsg}
		statuses = append(statuses, upStatus)
	}

	resp.Status = overallStatus(statuses...)

	status := http.StatusOK
	if resp.Status == statusFail {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// GetMetrics: Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// Константы статусов health check.
const statusFail = "fail"

// overallStatus определяет итоговый статус из статусов зависимостей.
// Хотя бы один fail даёт fail, хотя бы один degraded даёт degraded.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == statusFail {
			return statusFail
		}
		if s == "degraded" {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return "degraded"
	}
	return "ok"
}
