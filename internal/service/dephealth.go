// dephealth.go: интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Character Module мониторит:
//   - PostgreSQL: SQL checker через существующий pgxpool (connection pool mode, critical)
//   - Rick and Morty API: HTTP checker к корню API (non-critical: после
//     первичной синхронизации запросы обслуживаются из локального хранилища)
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health: состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds: задержка проверки
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// Имена зависимостей в метриках.
const (
	depPostgres = "postgresql"
	depUpstream = "rickandmorty-api"
)

// DephealthService: сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// DephealthOptions: параметры мониторинга.
type DephealthOptions struct {
	// ServiceID: имя вершины графа текущего приложения
	ServiceID string
	// Group: имя группы в метриках (CM_DEPHEALTH_GROUP)
	Group string
	// DB: *sql.DB, полученный из pgxpool через stdlib.OpenDBFromPool(); nil = без PostgreSQL
	DB *sql.DB
	// PgConnURL: URL PostgreSQL для лейблов метрик (без пароля)
	PgConnURL string
	// UpstreamURL: базовый URL внешнего API
	UpstreamURL string
	// CheckInterval: интервал проверки (CM_DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
	// Registerer: Prometheus registerer; nil = глобальный registry
	Registerer prometheus.Registerer
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
//
// PostgreSQL проверяется через существующий *sql.DB (адаптер pgxpool),
// что отражает реальное состояние пула соединений.
func NewDephealthService(opts DephealthOptions, logger *slog.Logger) (*DephealthService, error) {
	pgDepOpts := []dephealth.DependencyOption{
		dephealth.FromURL(opts.PgConnURL),
		dephealth.CheckInterval(opts.CheckInterval),
		dephealth.Critical(true),
	}

	upstreamDepOpts := []dephealth.DependencyOption{
		dephealth.FromURL(opts.UpstreamURL),
		dephealth.WithHTTPHealthPath(upstreamHealthPath(opts.UpstreamURL)),
		dephealth.CheckInterval(opts.CheckInterval),
		dephealth.Critical(false),
	}
	if parsed, err := url.Parse(opts.UpstreamURL); err == nil && parsed.Scheme == "https" {
		upstreamDepOpts = append(upstreamDepOpts, dephealth.WithHTTPTLSSkipVerify(false))
	}

	dhOpts := []dephealth.Option{
		dephealth.WithLogger(logger),
		dephealth.HTTP(depUpstream, upstreamDepOpts...),
	}
	if opts.DB != nil {
		dhOpts = append(dhOpts, dephealth.AddDependency(depPostgres, dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(opts.DB)), pgDepOpts...))
	}
	if opts.Registerer != nil {
		dhOpts = append(dhOpts, dephealth.WithRegisterer(opts.Registerer))
	}

	dh, err := dephealth.New(opts.ServiceID, opts.Group, dhOpts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен (PostgreSQL + Rick and Morty API)")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ: имя зависимости, значение: true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}

// CheckReady сообщает состояние внешнего API для readiness probe.
// Зависимость некритична: недоступность даёт "degraded", а не "fail".
func (ds *DephealthService) CheckReady() (status, message string) {
	return upstreamReadiness(ds.Health())
}

// upstreamReadiness ищет запись внешнего API в Health().
// Ключи имеют формат "dependency:host:port".
func upstreamReadiness(health map[string]bool) (status, message string) {
	for key, ok := range health {
		if !strings.HasPrefix(key, depUpstream+":") {
			continue
		}
		if ok {
			return "ok", "внешний API доступен"
		}
		return "degraded", "внешний API недоступен, ответы из локального хранилища"
	}
	return "degraded", "проверка внешнего API ещё не выполнялась"
}

// upstreamHealthPath возвращает путь базового URL API для HTTP-проверки.
// Корень API отвечает 200 со списком ресурсов.
func upstreamHealthPath(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Path == "" {
		return "/"
	}
	path := strings.TrimRight(parsed.Path, "/")
	if path == "" {
		return "/"
	}
	return path
}
