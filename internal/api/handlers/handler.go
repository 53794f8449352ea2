// handler.go: основной обработчик HTTP API Character Module.
// Объединяет health и бизнес-обработчики.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bigkaa/character-module/internal/domain/model"
)

// CharacterQuerier выполняет запрос списка персонажей.
// Реализуется *service.QueryService.
type CharacterQuerier interface {
	Handle(ctx context.Context, criteria model.QueryCriteria) (*model.QueryResult, error)
}

// APIHandler: основной обработчик API.
type APIHandler struct {
	health  *HealthHandler
	queries CharacterQuerier
	logger  *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	queries CharacterQuerier,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:  health,
		queries: queries,
		logger:  logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// Healthcheck: проверка доступности хранилища.
func (h *APIHandler) Healthcheck(w http.ResponseWriter, r *http.Request) {
	h.health.Healthcheck(w, r)
}

// HealthLive: liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady: readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics: Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Бизнес-обработчики ---

// ListCharacters: GET /characters.
func (h *APIHandler) ListCharacters(w http.ResponseWriter, r *http.Request) {
	h.handleListCharacters(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
