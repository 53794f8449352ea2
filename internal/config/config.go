// Пакет config отвечает за загрузку и валидацию конфигурации Character Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Character Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Максимальный размер пула подключений pgxpool
	DBMaxConns int

	// --- Внешний источник (Rick and Morty API) ---

	// Базовый URL API, к нему добавляется /character?page=N
	UpstreamURL string
	// Таймаут одного запроса к внешнему API
	UpstreamTimeout time.Duration
	// Фиксированная пауза перед повтором после 429
	UpstreamRetryDelay time.Duration
	// Максимум повторов одной страницы после 429 (0 = без ограничения)
	UpstreamMaxRetries int
	// Ограничение всего прохода синхронизации, меньше HTTPWriteTimeout
	SyncTimeout time.Duration

	// --- Ограничение частоты запросов ---

	// Количество запросов к /characters в окне с одного адреса
	RateLimitRequests int
	// Длина окна ограничения
	RateLimitWindow time.Duration

	// --- Кэш ответов ---

	CacheTTL  time.Duration
	CacheSize int

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
//
//nolint:cyclop,funlen // линейный разбор переменных окружения
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// CM_PORT: порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("CM_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("CM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("CM_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("CM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("CM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("CM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CM_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("CM_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("CM_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("CM_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("CM_DB_HOST")
	if err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("CM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("CM_DB_PORT: %w", err)
	}
	cfg.DBName, err = getEnvRequired("CM_DB_NAME")
	if err != nil {
		return nil, err
	}
	cfg.DBUser, err = getEnvRequired("CM_DB_USER")
	if err != nil {
		return nil, err
	}
	cfg.DBPassword, err = getEnvRequired("CM_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("CM_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("CM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	cfg.DBMaxConns, err = getEnvInt("CM_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("CM_DB_MAX_CONNS: %w", err)
	}
	if cfg.DBMaxConns < 1 {
		return nil, fmt.Errorf("CM_DB_MAX_CONNS: значение должно быть > 0")
	}

	// --- Внешний источник ---

	cfg.UpstreamURL = strings.TrimRight(getEnvDefault("CM_UPSTREAM_URL", "https://rickandmortyapi.com/api"), "/")
	if _, err := url.ParseRequestURI(cfg.UpstreamURL); err != nil {
		return nil, fmt.Errorf("CM_UPSTREAM_URL: некорректный URL %q", cfg.UpstreamURL)
	}

	// CM_UPSTREAM_TIMEOUT: таймаут одного запроса (по умолчанию 5s)
	cfg.UpstreamTimeout, err = getEnvPositiveDuration("CM_UPSTREAM_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_UPSTREAM_TIMEOUT: %w", err)
	}

	// CM_UPSTREAM_RETRY_DELAY: пауза после 429 (по умолчанию 2s)
	cfg.UpstreamRetryDelay, err = getEnvPositiveDuration("CM_UPSTREAM_RETRY_DELAY", 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_UPSTREAM_RETRY_DELAY: %w", err)
	}

	// CM_UPSTREAM_MAX_RETRIES: 0 означает повторять до успеха
	cfg.UpstreamMaxRetries, err = getEnvInt("CM_UPSTREAM_MAX_RETRIES", 30)
	if err != nil {
		return nil, fmt.Errorf("CM_UPSTREAM_MAX_RETRIES: %w", err)
	}
	if cfg.UpstreamMaxRetries < 0 {
		return nil, fmt.Errorf("CM_UPSTREAM_MAX_RETRIES: значение не может быть отрицательным")
	}

	// CM_SYNC_TIMEOUT: первый запрос ждёт синхронизацию, ответ 503 должен
	// успеть уйти до write deadline соединения
	cfg.SyncTimeout, err = getEnvPositiveDuration("CM_SYNC_TIMEOUT", 50*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_SYNC_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout > 0 && cfg.SyncTimeout >= cfg.HTTPWriteTimeout {
		return nil, fmt.Errorf("CM_SYNC_TIMEOUT: значение %s должно быть меньше CM_HTTP_WRITE_TIMEOUT (%s)",
			cfg.SyncTimeout, cfg.HTTPWriteTimeout)
	}

	// --- Ограничение частоты запросов ---

	cfg.RateLimitRequests, err = getEnvInt("CM_RATE_LIMIT_REQUESTS", 10)
	if err != nil {
		return nil, fmt.Errorf("CM_RATE_LIMIT_REQUESTS: %w", err)
	}
	if cfg.RateLimitRequests < 1 {
		return nil, fmt.Errorf("CM_RATE_LIMIT_REQUESTS: значение должно быть > 0")
	}
	cfg.RateLimitWindow, err = getEnvPositiveDuration("CM_RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CM_RATE_LIMIT_WINDOW: %w", err)
	}

	// --- Кэш ответов ---

	cfg.CacheTTL, err = getEnvPositiveDuration("CM_CACHE_TTL", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_CACHE_TTL: %w", err)
	}
	cfg.CacheSize, err = getEnvInt("CM_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("CM_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize < 1 {
		return nil, fmt.Errorf("CM_CACHE_SIZE: значение должно быть > 0")
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("CM_DEPHEALTH_GROUP", "character-module")
	cfg.DephealthCheckInterval, err = getEnvPositiveDuration("CM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("CM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s pool_max_conns=%d",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode, c.DBMaxConns,
	)
}

// DatabaseURL возвращает URL подключения в формате postgres://.
// Используется для лейблов topologymetrics, пароль в URL не попадает.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s?sslmode=%s",
		url.User(c.DBUser).String(), c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	return fmt.Sprintf("pgx5://%s@%s:%d/%s?sslmode=%s",
		url.UserPassword(c.DBUser, c.DBPassword).String(), c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvPositiveDuration аналогична getEnvDuration, но требует значение > 0.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
