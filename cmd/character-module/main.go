// Точка входа Character Module: кэширующий прокси персонажей Rick and Morty API.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// создаёт клиент внешнего API, сервисный слой и API handlers,
// запускает topologymetrics и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/character-module/internal/api/handlers"
	"github.com/bigkaa/character-module/internal/api/middleware"
	"github.com/bigkaa/character-module/internal/config"
	"github.com/bigkaa/character-module/internal/database"
	"github.com/bigkaa/character-module/internal/repository"
	"github.com/bigkaa/character-module/internal/rmclient"
	"github.com/bigkaa/character-module/internal/server"
	"github.com/bigkaa/character-module/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Character Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("CM_DEPHEALTH_GROUP") == "" {
		logger.Warn("CM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1) //nolint:gocritic // defer cancel не критичен при выходе
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Клиент внешнего API
	rmClient := rmclient.New(rmclient.Options{
		BaseURL:    cfg.UpstreamURL,
		Timeout:    cfg.UpstreamTimeout,
		RetryDelay: cfg.UpstreamRetryDelay,
		MaxRetries: cfg.UpstreamMaxRetries,
	}, logger)
	logger.Info("Клиент внешнего API создан",
		slog.String("url", cfg.UpstreamURL),
		slog.Int("max_retries", cfg.UpstreamMaxRetries),
		slog.Duration("sync_timeout", cfg.SyncTimeout),
	)

	// 6. Repository
	characterRepo := repository.NewCharacterRepository(pool)

	// 7. Services
	responseCache := service.NewResponseCache(cfg.CacheSize, cfg.CacheTTL)
	syncSvc := service.NewSyncService(rmClient, characterRepo, logger,
		service.WithSyncTimeout(cfg.SyncTimeout),
		service.WithOnInserted(responseCache.Purge),
	)
	querySvc := service.NewQueryService(characterRepo, syncSvc, logger)

	// 8. topologymetrics: мониторинг зависимостей (PostgreSQL + внешний API)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthOptions{
		ServiceID:     "character-module",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PgConnURL:     cfg.DatabaseURL(),
		UpstreamURL:   cfg.UpstreamURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 9. API handlers
	var upstreamChecker handlers.ReadinessChecker
	if dephealthSvc != nil {
		upstreamChecker = dephealthSvc
	}
	healthHandler := handlers.NewHealthHandler(characterRepo, database.NewReadinessChecker(pool), upstreamChecker, logger)
	apiHandler := handlers.NewAPIHandler(healthHandler, querySvc, logger)

	// 10. Middleware: ограничение частоты → кэш ответов для /characters
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow, logger)
	characterMW := []func(http.Handler) http.Handler{
		rateLimiter.Middleware(),
		middleware.ResponseCache(responseCache),
	}

	// 11. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, characterMW,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1) //nolint:gocritic // defer не критичны при выходе
	}

	// 12. Остановка фоновых задач
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Character Module остановлен")
}
