// characters.go: обработчик GET /characters.
// Разбор query-параметров, вызов QueryService, сериализация страницы.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/character-module/internal/api/errors"
	"github.com/bigkaa/character-module/internal/domain/model"
	"github.com/bigkaa/character-module/internal/service"
)

// ListCharactersParams: query-параметры GET /characters.
// nil = параметр не передан.
type ListCharactersParams struct {
	Sort    *string
	Page    *int
	Limit   *int
	Name    *string
	Status  *string
	Species *string
	Origin  *string
}

// characterItem: элемент списка в ответе.
type characterItem struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Species string `json:"species"`
	Origin  string `json:"origin"`
}

// listCharactersResponse: тело ответа GET /characters.
type listCharactersResponse struct {
	Page    int             `json:"page"`
	Limit   int             `json:"limit"`
	Total   int             `json:"total"`
	Pages   int             `json:"pages"`
	Results []characterItem `json:"results"`
}

// handleListCharacters: реализация GET /characters.
func (h *APIHandler) handleListCharacters(w http.ResponseWriter, r *http.Request) {
	params, err := bindListCharactersParams(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	criteria := criteriaFromParams(params)

	result, err := h.queries.Handle(r.Context(), criteria)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toListCharactersResponse(result))
}

// bindListCharactersParams разбирает query-параметры (form style, explode).
func bindListCharactersParams(r *http.Request) (ListCharactersParams, error) {
	var params ListCharactersParams
	query := r.URL.Query()

	bindings := []struct {
		name string
		dest any
	}{
		{"sort", &params.Sort},
		{"page", &params.Page},
		{"limit", &params.Limit},
		{"name", &params.Name},
		{"status", &params.Status},
		{"species", &params.Species},
		{"origin", &params.Origin},
	}
	for _, b := range bindings {
		if err := runtime.BindQueryParameter("form", true, false, b.name, query, b.dest); err != nil {
			return params, fmt.Errorf("некорректный параметр %s: %w", b.name, err)
		}
	}
	return params, nil
}

// criteriaFromParams применяет значения по умолчанию и разбирает сортировку.
// Префикс "-" в sort означает обратный порядок. Допустимость поля
// проверяет сервисный слой.
func criteriaFromParams(p ListCharactersParams) model.QueryCriteria {
	criteria := model.QueryCriteria{
		SortField: model.SortByID,
		Page:      1,
		PageSize:  model.DefaultPageSize,
	}

	if p.Sort != nil {
		// Любое число ведущих "-" означает убывание: "--id" равно "-id"
		sort := strings.TrimSpace(*p.Sort)
		criteria.SortDescending = strings.HasPrefix(sort, "-")
		criteria.SortField = strings.TrimLeft(sort, "-")
	}
	if p.Page != nil {
		criteria.Page = *p.Page
	}
	if p.Limit != nil {
		criteria.PageSize = *p.Limit
	}
	if p.Name != nil {
		criteria.NameContains = *p.Name
	}
	if p.Status != nil {
		criteria.StatusEquals = *p.Status
	}
	if p.Species != nil {
		criteria.SpeciesEquals = *p.Species
	}
	if p.Origin != nil {
		criteria.OriginContains = *p.Origin
	}

	return criteria
}

// toListCharactersResponse конвертирует результат сервиса в тело ответа.
func toListCharactersResponse(result *model.QueryResult) listCharactersResponse {
	items := make([]characterItem, 0, len(result.Results))
	for _, c := range result.Results {
		items = append(items, characterItem{
			ID:      c.ID,
			Name:    c.Name,
			Status:  c.Status,
			Species: c.Species,
			Origin:  c.Origin,
		})
	}

	return listCharactersResponse{
		Page:    result.Page,
		Limit:   result.PageSize,
		Total:   result.Total,
		Pages:   result.PageCount,
		Results: items,
	}
}

// writeServiceError отображает ошибки сервисного слоя в HTTP-ответы.
// Детали непредвиденных ошибок пишутся только в лог.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidSortField):
		apierrors.InvalidSortField(w, "Недопустимое поле сортировки: допустимые значения id, name")
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrUpstreamUnavailable):
		h.logger.Warn("Внешний API недоступен",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.UpstreamUnavailable(w, "Внешний источник данных недоступен")
	case errors.Is(err, service.ErrStoreUnreachable):
		h.logger.Error("Хранилище недоступно",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.StoreUnavailable(w, "Локальное хранилище недоступно")
	default:
		h.logger.Error("Ошибка запроса списка персонажей",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
