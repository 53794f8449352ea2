// sync.go: первичное заполнение локального хранилища из внешнего API.
//
// SyncService.Run выполняет один проход, только если хранилище пусто:
//  1. IsEmpty → при непустом хранилище проход пропускается
//  2. Постраничный GET /character?page=N (повтор страницы после 429 внутри rmclient)
//  3. Accept/Transform каждой записи → Upsert (каждая вставка в своей транзакции)
//  4. Переход к следующей странице, пока info.next не пуст
//
// Ошибка внешнего API или хранилища прерывает проход. Уже вставленные
// строки остаются, повторный проход их пропустит.
//
// Проход не привязан к контексту запроса, который его запустил: отключение
// этого клиента не прерывает синхронизацию для остальных ожидающих.
// Длительность прохода ограничена timeout; он должен быть меньше
// HTTP write timeout, иначе клиент получит обрыв соединения вместо 503.
//
// Prometheus-метрики:
//   - cm_sync_duration_seconds: длительность прохода
//   - cm_sync_records_total: количество записей по операциям
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/bigkaa/character-module/internal/domain/model"
	"github.com/bigkaa/character-module/internal/rmclient"
)

// Prometheus-метрики синхронизации.
var (
	syncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cm_sync_duration_seconds",
		Help:    "Длительность прохода синхронизации с внешним API.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s ... ~204s
	})

	syncRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_sync_records_total",
		Help: "Количество обработанных записей при синхронизации.",
	}, []string{"operation"}) // operation: inserted, duplicate, rejected
)

// PageFetcher получает страницу списка персонажей внешнего API.
// Реализуется *rmclient.Client.
type PageFetcher interface {
	FetchPage(ctx context.Context, page int) (*rmclient.Page, error)
}

// CharacterWriter: операции хранилища, нужные синхронизации.
type CharacterWriter interface {
	IsEmpty(ctx context.Context) (bool, error)
	Upsert(ctx context.Context, c model.Character) (bool, error)
}

// DefaultSyncTimeout: ограничение прохода по умолчанию.
const DefaultSyncTimeout = 50 * time.Second

// SyncService заполняет пустое хранилище данными внешнего API.
type SyncService struct {
	fetcher PageFetcher
	store   CharacterWriter
	logger  *slog.Logger
	timeout time.Duration
	// onInserted вызывается после прохода, добавившего хотя бы одну запись
	onInserted func()

	// flight объединяет одновременные проходы внутри процесса
	flight singleflight.Group
}

// SyncOption настраивает SyncService.
type SyncOption func(*SyncService)

// WithSyncTimeout ограничивает длительность одного прохода.
// Значение <= 0 снимает ограничение.
func WithSyncTimeout(d time.Duration) SyncOption {
	return func(s *SyncService) { s.timeout = d }
}

// WithOnInserted задаёт действие после прохода со вставками
// (сброс кэша ответов, собранных на частично заполненном хранилище).
func WithOnInserted(fn func()) SyncOption {
	return func(s *SyncService) { s.onInserted = fn }
}

// NewSyncService создаёт сервис синхронизации.
func NewSyncService(fetcher PageFetcher, store CharacterWriter, logger *slog.Logger, opts ...SyncOption) *SyncService {
	s := &SyncService{
		fetcher: fetcher,
		store:   store,
		logger:  logger.With(slog.String("component", "sync_service")),
		timeout: DefaultSyncTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run заполняет хранилище, если оно пусто. Конкурентные вызовы
// дожидаются одного общего прохода и получают его результат.
// Отмена ctx освобождает только этого вызывающего, общий проход продолжается.
func (s *SyncService) Run(ctx context.Context) (*model.SyncResult, error) {
	ch := s.flight.DoChan("populate", func() (any, error) {
		return s.detachedPopulate(ctx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			s.logger.Debug("Результат синхронизации получен из общего прохода")
		}
		return res.Val.(*model.SyncResult), nil
	}
}

// detachedPopulate выполняет проход в контексте без отмены запроса,
// но со своим ограничением по времени. Значения ctx (request_id) сохраняются.
func (s *SyncService) detachedPopulate(ctx context.Context) (*model.SyncResult, error) {
	runCtx := context.WithoutCancel(ctx)
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, s.timeout)
		defer cancel()
	}

	result, err := s.populate(runCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrUpstreamUnavailable) {
			err = fmt.Errorf("%w: синхронизация не уложилась в %s: %w", ErrUpstreamUnavailable, s.timeout, err)
		}
		return nil, err
	}

	if result.Inserted > 0 && s.onInserted != nil {
		s.onInserted()
	}
	return result, nil
}

// populate выполняет проверку пустоты и, при необходимости, полный проход.
func (s *SyncService) populate(ctx context.Context) (*model.SyncResult, error) {
	result := &model.SyncResult{
		SyncID:    uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}
	logger := s.logger.With(slog.String("sync_id", result.SyncID))

	empty, err := s.store.IsEmpty(ctx)
	if err != nil {
		return nil, fmt.Errorf("проверка заполненности хранилища: %w", err)
	}
	if !empty {
		result.Skipped = true
		result.CompletedAt = time.Now().UTC()
		logger.Debug("Хранилище уже заполнено, синхронизация не требуется")
		return result, nil
	}

	logger.Info("Начало синхронизации с внешним API")

	timer := prometheus.NewTimer(syncDuration)
	defer timer.ObserveDuration()

	for page := 1; ; page++ {
		p, err := s.fetcher.FetchPage(ctx, page)
		if err != nil {
			logger.Error("Синхронизация прервана: ошибка внешнего API",
				slog.Int("page", page),
				slog.String("error", err.Error()),
			)
			return nil, fmt.Errorf("получение страницы %d: %w", page, err)
		}
		result.PagesFetched++
		result.RecordsSeen += len(p.Results)

		if err := s.processPage(ctx, p, result); err != nil {
			logger.Error("Синхронизация прервана: ошибка хранилища",
				slog.Int("page", page),
				slog.String("error", err.Error()),
			)
			return nil, err
		}

		if !p.HasNext() {
			break
		}
	}

	result.CompletedAt = time.Now().UTC()

	logger.Info("Синхронизация завершена",
		slog.Int("pages", result.PagesFetched),
		slog.Int("seen", result.RecordsSeen),
		slog.Int("accepted", len(result.Characters)),
		slog.Int("inserted", result.Inserted),
		slog.Int("duplicates", result.Duplicates),
		slog.Duration("duration", result.CompletedAt.Sub(result.StartedAt)),
	)

	return result, nil
}

// processPage отбирает записи страницы и сохраняет их.
func (s *SyncService) processPage(ctx context.Context, p *rmclient.Page, result *model.SyncResult) error {
	for _, raw := range p.Results {
		if !Accept(raw) {
			syncRecordsTotal.WithLabelValues("rejected").Inc()
			continue
		}

		c := Transform(raw)
		inserted, err := s.store.Upsert(ctx, c)
		if err != nil {
			return fmt.Errorf("сохранение персонажа %d: %w", c.ID, err)
		}

		if inserted {
			result.Inserted++
			syncRecordsTotal.WithLabelValues("inserted").Inc()
		} else {
			result.Duplicates++
			syncRecordsTotal.WithLabelValues("duplicate").Inc()
		}
		result.Characters = append(result.Characters, c)
	}
	return nil
}
