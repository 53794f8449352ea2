package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bigkaa/character-module/internal/domain/model"
	"github.com/bigkaa/character-module/internal/repository"
)

// --- Mock зависимостей ---

// mockReader: мок CharacterReader для unit-тестов.
type mockReader struct {
	isEmptyFn func(ctx context.Context) (bool, error)
	queryFn   func(ctx context.Context, criteria model.QueryCriteria) ([]model.Character, int, error)
}

func (m *mockReader) IsEmpty(ctx context.Context) (bool, error) {
	if m.isEmptyFn != nil {
		return m.isEmptyFn(ctx)
	}
	return false, nil
}

func (m *mockReader) Query(ctx context.Context, criteria model.QueryCriteria) ([]model.Character, int, error) {
	if m.queryFn != nil {
		return m.queryFn(ctx, criteria)
	}
	return nil, 0, nil
}

// mockSyncer: мок Syncer, считает вызовы.
type mockSyncer struct {
	calls int
	runFn func(ctx context.Context) (*model.SyncResult, error)
}

func (m *mockSyncer) Run(ctx context.Context) (*model.SyncResult, error) {
	m.calls++
	if m.runFn != nil {
		return m.runFn(ctx)
	}
	return &model.SyncResult{}, nil
}

func defaultCriteria() model.QueryCriteria {
	return model.QueryCriteria{
		SortField: model.SortByID,
		Page:      1,
		PageSize:  model.DefaultPageSize,
	}
}

// --- Тесты QueryService ---

// TestQueryService_Handle проверяет сборку результата и количество страниц.
func TestQueryService_Handle(t *testing.T) {
	rows := []model.Character{
		{ID: 1, Name: "Rick Sanchez", Status: "Alive", Species: "Human", Origin: "Earth (C-137)"},
		{ID: 4, Name: "Beth Smith", Status: "Alive", Species: "Human", Origin: "Earth (Replacement Dimension)"},
	}
	reader := &mockReader{
		queryFn: func(_ context.Context, c model.QueryCriteria) ([]model.Character, int, error) {
			if c.Page != 2 || c.PageSize != 2 {
				t.Errorf("критерии = %+v, ожидались page=2 pageSize=2", c)
			}
			return rows, 5, nil
		},
	}
	syncer := &mockSyncer{}
	svc := NewQueryService(reader, syncer, testLogger())

	criteria := defaultCriteria()
	criteria.Page = 2
	criteria.PageSize = 2

	result, err := svc.Handle(context.Background(), criteria)
	if err != nil {
		t.Fatalf("Handle() ошибка: %v", err)
	}
	if result.Total != 5 || result.PageCount != 3 {
		t.Errorf("total = %d, pages = %d, ожидалось 5 и 3", result.Total, result.PageCount)
	}
	if result.Page != 2 || result.PageSize != 2 || len(result.Results) != 2 {
		t.Errorf("неожиданный результат: %+v", result)
	}
	if syncer.calls != 0 {
		t.Errorf("синхронизация вызвана %d раз на заполненном хранилище", syncer.calls)
	}
}

// TestQueryService_SyncsWhenEmpty проверяет запуск синхронизации перед чтением.
func TestQueryService_SyncsWhenEmpty(t *testing.T) {
	var order []string
	reader := &mockReader{
		isEmptyFn: func(context.Context) (bool, error) {
			order = append(order, "isEmpty")
			return true, nil
		},
		queryFn: func(context.Context, model.QueryCriteria) ([]model.Character, int, error) {
			order = append(order, "query")
			return []model.Character{{ID: 1}}, 1, nil
		},
	}
	syncer := &mockSyncer{
		runFn: func(context.Context) (*model.SyncResult, error) {
			order = append(order, "sync")
			return &model.SyncResult{Inserted: 1}, nil
		},
	}
	svc := NewQueryService(reader, syncer, testLogger())

	result, err := svc.Handle(context.Background(), defaultCriteria())
	if err != nil {
		t.Fatalf("Handle() ошибка: %v", err)
	}
	if result.Total != 1 {
		t.Errorf("total = %d, ожидался 1", result.Total)
	}
	want := "[isEmpty sync query]"
	if got := fmt.Sprint(order); got != want {
		t.Errorf("порядок вызовов = %s, ожидался %s", got, want)
	}
}

// TestQueryService_InvalidSort проверяет отказ без обращения к хранилищу и синхронизации.
func TestQueryService_InvalidSort(t *testing.T) {
	touched := false
	reader := &mockReader{
		isEmptyFn: func(context.Context) (bool, error) {
			touched = true
			return true, nil
		},
		queryFn: func(context.Context, model.QueryCriteria) ([]model.Character, int, error) {
			touched = true
			return nil, 0, nil
		},
	}
	syncer := &mockSyncer{}
	svc := NewQueryService(reader, syncer, testLogger())

	for _, field := range []string{"status", "species", "origin", "", "Name"} {
		criteria := defaultCriteria()
		criteria.SortField = field

		_, err := svc.Handle(context.Background(), criteria)
		if !errors.Is(err, ErrInvalidSortField) {
			t.Errorf("sort=%q: ошибка = %v, ожидалась ErrInvalidSortField", field, err)
		}
	}
	if touched {
		t.Error("хранилище вызвано при недопустимом поле сортировки")
	}
	if syncer.calls != 0 {
		t.Errorf("синхронизация вызвана %d раз при недопустимом поле сортировки", syncer.calls)
	}
}

// TestQueryService_InvalidPaging проверяет границы page и limit.
func TestQueryService_InvalidPaging(t *testing.T) {
	svc := NewQueryService(&mockReader{}, &mockSyncer{}, testLogger())

	cases := []struct {
		page, size int
	}{
		{0, 20},
		{-1, 20},
		{1, 0},
		{1, 101},
	}
	for _, tc := range cases {
		criteria := defaultCriteria()
		criteria.Page = tc.page
		criteria.PageSize = tc.size

		if _, err := svc.Handle(context.Background(), criteria); !errors.Is(err, ErrValidation) {
			t.Errorf("page=%d limit=%d: ошибка = %v, ожидалась ErrValidation", tc.page, tc.size, err)
		}
	}

	criteria := defaultCriteria()
	criteria.PageSize = model.MaxPageSize
	if _, err := svc.Handle(context.Background(), criteria); err != nil {
		t.Errorf("limit=%d: неожиданная ошибка %v", model.MaxPageSize, err)
	}
}

// TestQueryService_EmptyResult проверяет пустой результат: total 0, results [].
func TestQueryService_EmptyResult(t *testing.T) {
	svc := NewQueryService(&mockReader{}, &mockSyncer{}, testLogger())

	criteria := defaultCriteria()
	criteria.NameContains = "nobody"

	result, err := svc.Handle(context.Background(), criteria)
	if err != nil {
		t.Fatalf("Handle() ошибка: %v", err)
	}
	if result.Total != 0 || result.PageCount != 0 {
		t.Errorf("total = %d, pages = %d, ожидалось 0 и 0", result.Total, result.PageCount)
	}
	if result.Results == nil || len(result.Results) != 0 {
		t.Errorf("Results = %#v, ожидался пустой срез", result.Results)
	}
}

// TestQueryService_Errors проверяет проброс ошибок синхронизации и хранилища.
func TestQueryService_Errors(t *testing.T) {
	t.Run("upstream", func(t *testing.T) {
		reader := &mockReader{isEmptyFn: func(context.Context) (bool, error) { return true, nil }}
		syncer := &mockSyncer{runFn: func(context.Context) (*model.SyncResult, error) {
			return nil, fmt.Errorf("%w: timeout", ErrUpstreamUnavailable)
		}}
		svc := NewQueryService(reader, syncer, testLogger())

		if _, err := svc.Handle(context.Background(), defaultCriteria()); !errors.Is(err, ErrUpstreamUnavailable) {
			t.Errorf("ошибка = %v, ожидалась ErrUpstreamUnavailable", err)
		}
	})

	t.Run("store", func(t *testing.T) {
		reader := &mockReader{isEmptyFn: func(context.Context) (bool, error) {
			return false, fmt.Errorf("%w: refused", repository.ErrStoreUnreachable)
		}}
		svc := NewQueryService(reader, &mockSyncer{}, testLogger())

		if _, err := svc.Handle(context.Background(), defaultCriteria()); !errors.Is(err, ErrStoreUnreachable) {
			t.Errorf("ошибка = %v, ожидалась ErrStoreUnreachable", err)
		}
	})
}

// TestQueryService_PaginationLaw проверяет, что страницы в сумме дают total
// различных записей без повторов.
func TestQueryService_PaginationLaw(t *testing.T) {
	const total = 23
	all := make([]model.Character, total)
	for i := range all {
		all[i] = model.Character{ID: int64(i + 1), Name: fmt.Sprintf("Smith %02d", i+1)}
	}

	reader := &mockReader{
		queryFn: func(_ context.Context, c model.QueryCriteria) ([]model.Character, int, error) {
			from := min(c.Offset(), total)
			to := min(from+c.PageSize, total)
			return all[from:to], total, nil
		},
	}
	svc := NewQueryService(reader, &mockSyncer{}, testLogger())

	for _, size := range []int{1, 5, 10, 23, 100} {
		criteria := defaultCriteria()
		criteria.PageSize = size

		first, err := svc.Handle(context.Background(), criteria)
		if err != nil {
			t.Fatalf("Handle() ошибка: %v", err)
		}
		wantPages := (total + size - 1) / size
		if first.PageCount != wantPages {
			t.Errorf("size=%d: pages = %d, ожидалось %d", size, first.PageCount, wantPages)
		}

		seen := make(map[int64]bool)
		for page := 1; page <= first.PageCount; page++ {
			criteria.Page = page
			res, err := svc.Handle(context.Background(), criteria)
			if err != nil {
				t.Fatalf("Handle(page=%d) ошибка: %v", page, err)
			}
			for _, c := range res.Results {
				if seen[c.ID] {
					t.Errorf("size=%d: запись %d повторяется", size, c.ID)
				}
				seen[c.ID] = true
			}
		}
		if len(seen) != total {
			t.Errorf("size=%d: собрано %d записей, ожидалось %d", size, len(seen), total)
		}
	}
}
