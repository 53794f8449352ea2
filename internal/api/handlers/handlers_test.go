package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/bigkaa/character-module/internal/domain/model"
	"github.com/bigkaa/character-module/internal/repository"
	"github.com/bigkaa/character-module/internal/rmclient"
	"github.com/bigkaa/character-module/internal/service"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Моки ---

// mockQuerier: мок CharacterQuerier.
type mockQuerier struct {
	handleFn func(ctx context.Context, criteria model.QueryCriteria) (*model.QueryResult, error)
	last     *model.QueryCriteria
}

func (m *mockQuerier) Handle(ctx context.Context, criteria model.QueryCriteria) (*model.QueryResult, error) {
	m.last = &criteria
	if m.handleFn != nil {
		return m.handleFn(ctx, criteria)
	}
	return &model.QueryResult{Page: criteria.Page, PageSize: criteria.PageSize, Results: []model.Character{}}, nil
}

// mockPinger: мок StorePinger.
type mockPinger struct {
	err error
}

func (m mockPinger) Ping(context.Context) error { return m.err }

// mockChecker: мок ReadinessChecker.
type mockChecker struct {
	status, message string
}

func (m mockChecker) CheckReady() (string, string) { return m.status, m.message }

func newTestHandler(q CharacterQuerier, pinger StorePinger) *APIHandler {
	health := NewHealthHandler(pinger, mockChecker{status: "ok"}, nil, testLogger())
	return NewAPIHandler(health, q, testLogger())
}

// decodeError читает код ошибки из стандартного тела.
func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("ошибка декодирования тела ошибки: %v", err)
	}
	return body.Error.Code
}

// --- GET /characters ---

// TestListCharacters_Defaults проверяет значения по умолчанию и формат ответа.
func TestListCharacters_Defaults(t *testing.T) {
	q := &mockQuerier{
		handleFn: func(_ context.Context, c model.QueryCriteria) (*model.QueryResult, error) {
			return &model.QueryResult{
				Total:     1,
				Page:      c.Page,
				PageSize:  c.PageSize,
				PageCount: 1,
				Results: []model.Character{
					{ID: 1, Name: "Rick Sanchez", Status: "Alive", Species: "Human", Origin: "Earth (C-137)"},
				},
			}, nil
		},
	}
	h := newTestHandler(q, mockPinger{})

	w := httptest.NewRecorder()
	h.ListCharacters(w, httptest.NewRequest(http.MethodGet, "/characters", http.NoBody))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, ожидался 200: %s", w.Code, w.Body.String())
	}
	if q.last.SortField != model.SortByID || q.last.SortDescending {
		t.Errorf("сортировка = %q desc=%v, ожидалась id asc", q.last.SortField, q.last.SortDescending)
	}
	if q.last.Page != 1 || q.last.PageSize != model.DefaultPageSize {
		t.Errorf("page = %d, limit = %d, ожидались 1 и %d", q.last.Page, q.last.PageSize, model.DefaultPageSize)
	}

	var resp listCharactersResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("ошибка декодирования: %v", err)
	}
	if resp.Page != 1 || resp.Limit != 20 || resp.Total != 1 || resp.Pages != 1 {
		t.Errorf("неожиданный ответ: %+v", resp)
	}
	if len(resp.Results) != 1 || resp.Results[0].Origin != "Earth (C-137)" {
		t.Errorf("results = %+v", resp.Results)
	}
}

// TestListCharacters_Params проверяет разбор всех параметров.
func TestListCharacters_Params(t *testing.T) {
	q := &mockQuerier{}
	h := newTestHandler(q, mockPinger{})

	url := "/characters?sort=-name&page=3&limit=5&name=smith&status=Alive&species=Human&origin=earth"
	w := httptest.NewRecorder()
	h.ListCharacters(w, httptest.NewRequest(http.MethodGet, url, http.NoBody))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, ожидался 200: %s", w.Code, w.Body.String())
	}
	want := model.QueryCriteria{
		SortField:      "name",
		SortDescending: true,
		Page:           3,
		PageSize:       5,
		NameContains:   "smith",
		StatusEquals:   "Alive",
		SpeciesEquals:  "Human",
		OriginContains: "earth",
	}
	if *q.last != want {
		t.Errorf("критерии = %+v, ожидались %+v", *q.last, want)
	}
}

// TestListCharacters_EmptyResultsArray проверяет, что пустой результат сериализуется как [].
func TestListCharacters_EmptyResultsArray(t *testing.T) {
	h := newTestHandler(&mockQuerier{}, mockPinger{})

	w := httptest.NewRecorder()
	h.ListCharacters(w, httptest.NewRequest(http.MethodGet, "/characters?name=nobody", http.NoBody))

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("ошибка декодирования: %v", err)
	}
	if string(raw["results"]) != "[]" {
		t.Errorf("results = %s, ожидался []", raw["results"])
	}
}

// TestListCharacters_BadInteger проверяет 400 для нечислового page/limit.
func TestListCharacters_BadInteger(t *testing.T) {
	for _, query := range []string{"page=abc", "limit=1.5"} {
		q := &mockQuerier{}
		h := newTestHandler(q, mockPinger{})

		w := httptest.NewRecorder()
		h.ListCharacters(w, httptest.NewRequest(http.MethodGet, "/characters?"+query, http.NoBody))

		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, ожидался 400", query, w.Code)
		}
		if code := decodeError(t, w); code != "VALIDATION_ERROR" {
			t.Errorf("%s: code = %q, ожидался VALIDATION_ERROR", query, code)
		}
		if q.last != nil {
			t.Errorf("%s: сервис вызван при некорректном параметре", query)
		}
	}
}

// TestListCharacters_ServiceErrors проверяет отображение ошибок сервиса в HTTP.
func TestListCharacters_ServiceErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"sort", fmt.Errorf("%w: %q", service.ErrInvalidSortField, "status"), http.StatusBadRequest, "INVALID_SORT_FIELD"},
		{"paging", fmt.Errorf("%w: page", service.ErrValidation), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"upstream", fmt.Errorf("sync: %w", rmclient.ErrUpstreamUnavailable), http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"},
		{"store", fmt.Errorf("query: %w", repository.ErrStoreUnreachable), http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &mockQuerier{
				handleFn: func(context.Context, model.QueryCriteria) (*model.QueryResult, error) {
					return nil, tt.err
				},
			}
			h := newTestHandler(q, mockPinger{})

			w := httptest.NewRecorder()
			h.ListCharacters(w, httptest.NewRequest(http.MethodGet, "/characters", http.NoBody))

			if w.Code != tt.status {
				t.Errorf("status = %d, ожидался %d", w.Code, tt.status)
			}
			if code := decodeError(t, w); code != tt.code {
				t.Errorf("code = %q, ожидался %q", code, tt.code)
			}
		})
	}
}

// TestCriteriaFromParams_DashOnly проверяет, что "-" без поля даёт пустое поле сортировки.
func TestCriteriaFromParams_DashOnly(t *testing.T) {
	sort := "-"
	c := criteriaFromParams(ListCharactersParams{Sort: &sort})

	if c.SortField != "" || !c.SortDescending {
		t.Errorf("критерии = %+v, ожидалось пустое поле и desc", c)
	}
}

// TestCriteriaFromParams_Sort проверяет разбор направления сортировки.
func TestCriteriaFromParams_Sort(t *testing.T) {
	tests := []struct {
		in    string
		field string
		desc  bool
	}{
		{"id", "id", false},
		{"-name", "name", true},
		{"--id", "id", true},
		{"---name", "name", true},
		{" -id ", "id", true},
	}

	for _, tt := range tests {
		sort := tt.in
		c := criteriaFromParams(ListCharactersParams{Sort: &sort})
		if c.SortField != tt.field || c.SortDescending != tt.desc {
			t.Errorf("sort=%q: поле %q desc=%v, ожидалось %q desc=%v",
				tt.in, c.SortField, c.SortDescending, tt.field, tt.desc)
		}
	}
}

// TestListCharacters_DoubleDash проверяет, что sort=--id принимается как id desc.
func TestListCharacters_DoubleDash(t *testing.T) {
	q := &mockQuerier{}
	h := newTestHandler(q, mockPinger{})

	w := httptest.NewRecorder()
	h.ListCharacters(w, httptest.NewRequest(http.MethodGet, "/characters?sort=--id", http.NoBody))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, ожидался 200: %s", w.Code, w.Body.String())
	}
	if q.last.SortField != model.SortByID || !q.last.SortDescending {
		t.Errorf("критерии = %+v, ожидалась сортировка id desc", *q.last)
	}
}

// --- Health endpoints ---

// TestHealthcheck проверяет /healthcheck для доступного и недоступного хранилища.
func TestHealthcheck(t *testing.T) {
	h := newTestHandler(&mockQuerier{}, mockPinger{})
	w := httptest.NewRecorder()
	h.Healthcheck(w, httptest.NewRequest(http.MethodGet, "/healthcheck", http.NoBody))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, ожидался 200", w.Code)
	}
	var body healthcheckResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("ошибка декодирования: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("status = %q, ожидался healthy", body.Status)
	}

	h = newTestHandler(&mockQuerier{}, mockPinger{err: repository.ErrStoreUnreachable})
	w = httptest.NewRecorder()
	h.Healthcheck(w, httptest.NewRequest(http.MethodGet, "/healthcheck", http.NoBody))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, ожидался 503", w.Code)
	}
	if code := decodeError(t, w); code != "STORE_UNAVAILABLE" {
		t.Errorf("code = %q, ожидался STORE_UNAVAILABLE", code)
	}
}

// TestHealthLive проверяет liveness probe.
func TestHealthLive(t *testing.T) {
	h := newTestHandler(&mockQuerier{}, mockPinger{})
	w := httptest.NewRecorder()
	h.HealthLive(w, httptest.NewRequest(http.MethodGet, "/health/live", http.NoBody))

	var body healthLiveResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("ошибка декодирования: %v", err)
	}
	if w.Code != http.StatusOK || body.Status != "ok" || body.Service != serviceName {
		t.Errorf("неожиданный ответ %d: %+v", w.Code, body)
	}
}

// TestHealthReady проверяет readiness probe для ok и fail.
func TestHealthReady(t *testing.T) {
	tests := []struct {
		checker ReadinessChecker
		status  int
	}{
		{mockChecker{status: "ok"}, http.StatusOK},
		{mockChecker{status: "fail", message: "down"}, http.StatusServiceUnavailable},
		{nil, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		health := NewHealthHandler(mockPinger{}, tt.checker, nil, testLogger())
		w := httptest.NewRecorder()
		health.HealthReady(w, httptest.NewRequest(http.MethodGet, "/health/ready", http.NoBody))

		if w.Code != tt.status {
			t.Errorf("checker %+v: status = %d, ожидался %d", tt.checker, w.Code, tt.status)
		}
	}
}

// TestHealthReady_Upstream проверяет некритичную проверку внешнего API.
func TestHealthReady_Upstream(t *testing.T) {
	tests := []struct {
		name     string
		upstream ReadinessChecker
		status   int
		overall  string
	}{
		{"доступен", mockChecker{status: "ok"}, http.StatusOK, "ok"},
		{"недоступен", mockChecker{status: "degraded", message: "down"}, http.StatusOK, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			health := NewHealthHandler(mockPinger{}, mockChecker{status: "ok"}, tt.upstream, testLogger())
			w := httptest.NewRecorder()
			health.HealthReady(w, httptest.NewRequest(http.MethodGet, "/health/ready", http.NoBody))

			if w.Code != tt.status {
				t.Fatalf("status = %d, ожидался %d", w.Code, tt.status)
			}
			var body healthReadyResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("ошибка декодирования: %v", err)
			}
			if body.Status != tt.overall {
				t.Errorf("status = %q, ожидался %q", body.Status, tt.overall)
			}
			if body.Checks.Upstream == nil {
				t.Fatal("checks.upstream отсутствует")
			}
		})
	}

	// Без topologymetrics проверка внешнего API не выводится
	health := NewHealthHandler(mockPinger{}, mockChecker{status: "ok"}, nil, testLogger())
	w := httptest.NewRecorder()
	health.HealthReady(w, httptest.NewRequest(http.MethodGet, "/health/ready", http.NoBody))
	var raw map[string]map[string]json.RawMessage
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("ошибка декодирования: %v", err)
	}
	if _, ok := raw["checks"]["upstream"]; ok {
		t.Error("checks.upstream выведен без проверяющего")
	}
}

func TestOverallStatus(t *testing.T) {
	if got := overallStatus("ok", "degraded"); got != "degraded" {
		t.Errorf("overallStatus(ok, degraded) = %q", got)
	}
	if got := overallStatus("degraded", "fail"); got != "fail" {
		t.Errorf("overallStatus(degraded, fail) = %q", got)
	}
	if got := overallStatus("ok"); got != "ok" {
		t.Errorf("overallStatus(ok) = %q", got)
	}
}
