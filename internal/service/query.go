// query.go: сервис чтения персонажей с фильтрами, сортировкой и пагинацией.
// Перед первым чтением заполняет пустое хранилище через Syncer.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/character-module/internal/domain/model"
)

// Prometheus-метрики запросов.
var (
	queryTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_query_total",
		Help: "Общее количество запросов списка персонажей.",
	})
	queryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cm_query_duration_seconds",
		Help:    "Длительность запросов списка персонажей.",
		Buckets: prometheus.DefBuckets,
	})
)

// Syncer заполняет хранилище, если оно пусто. Реализуется *SyncService.
type Syncer interface {
	Run(ctx context.Context) (*model.SyncResult, error)
}

// CharacterReader: операции хранилища, нужные для чтения.
type CharacterReader interface {
	IsEmpty(ctx context.Context) (bool, error)
	Query(ctx context.Context, criteria model.QueryCriteria) ([]model.Character, int, error)
}

// QueryService обслуживает запросы списка персонажей.
type QueryService struct {
	store  CharacterReader
	syncer Syncer
	logger *slog.Logger
}

// NewQueryService создаёт сервис запросов.
func NewQueryService(store CharacterReader, syncer Syncer, logger *slog.Logger) *QueryService {
	return &QueryService{
		store:  store,
		syncer: syncer,
		logger: logger.With(slog.String("component", "query_service")),
	}
}

// Handle проверяет критерии, при пустом хранилище выполняет синхронизацию
// и возвращает страницу результата.
// Некорректные критерии отклоняются до обращения к хранилищу и внешнему API.
func (s *QueryService) Handle(ctx context.Context, criteria model.QueryCriteria) (*model.QueryResult, error) {
	start := time.Now()
	queryTotal.Inc()
	defer func() { queryDuration.Observe(time.Since(start).Seconds()) }()

	if err := ValidateCriteria(criteria); err != nil {
		return nil, err
	}

	empty, err := s.store.IsEmpty(ctx)
	if err != nil {
		return nil, fmt.Errorf("проверка заполненности хранилища: %w", err)
	}
	if empty {
		s.logger.Info("Хранилище пусто, запуск синхронизации")
		if _, err := s.syncer.Run(ctx); err != nil {
			return nil, fmt.Errorf("синхронизация: %w", err)
		}
	}

	rows, total, err := s.store.Query(ctx, criteria)
	if err != nil {
		return nil, fmt.Errorf("выборка персонажей: %w", err)
	}
	if rows == nil {
		rows = []model.Character{}
	}

	s.logger.Debug("Запрос выполнен",
		slog.Int("total", total),
		slog.Int("page", criteria.Page),
		slog.Int("page_size", criteria.PageSize),
		slog.String("sort", criteria.SortField),
	)

	return &model.QueryResult{
		Total:     total,
		Page:      criteria.Page,
		PageSize:  criteria.PageSize,
		PageCount: model.PageCount(total, criteria.PageSize),
		Results:   rows,
	}, nil
}

// ValidateCriteria проверяет поле сортировки и параметры пагинации.
func ValidateCriteria(c model.QueryCriteria) error {
	switch c.SortField {
	case model.SortByID, model.SortByName:
	default:
		return fmt.Errorf("%w: %q, допустимые значения: id, name", ErrInvalidSortField, c.SortField)
	}

	if c.Page < 1 {
		return fmt.Errorf("%w: page должен быть >= 1", ErrValidation)
	}
	if c.PageSize < 1 || c.PageSize > model.MaxPageSize {
		return fmt.Errorf("%w: limit должен быть от 1 до %d", ErrValidation, model.MaxPageSize)
	}
	return nil
}
