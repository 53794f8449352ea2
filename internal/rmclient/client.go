// Пакет rmclient реализует HTTP-клиент внешнего Rick and Morty API.
// Операция одна: постраничное получение списка персонажей (GET /character?page=N).
// Ответ 429 повторяется с фиксированной паузой, остальные ошибки
// возвращаются как ErrUpstreamUnavailable.
package rmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrUpstreamUnavailable возвращается при сетевой ошибке, неожиданном статусе
// или исчерпании лимита повторов после 429.
var ErrUpstreamUnavailable = errors.New("внешний API недоступен")

// errRateLimited используется только внутри цикла повторов.
var errRateLimited = errors.New("внешний API вернул 429")

// Максимальный размер тела ответа, который читается при ошибке.
const maxErrorBody = 4096

// Prometheus-метрики клиента.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_upstream_requests_total",
		Help: "Количество запросов к внешнему API по HTTP-статусу.",
	}, []string{"status"})

	upstreamRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_upstream_rate_limited_total",
		Help: "Количество ответов 429 от внешнего API.",
	})
)

// Origin: вложенный объект места происхождения.
type Origin struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Character: персонаж в формате внешнего API.
type Character struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Species string `json:"species"`
	Origin  Origin `json:"origin"`
}

// PageInfo: блок info ответа со ссылками пагинации.
type PageInfo struct {
	Count int     `json:"count"`
	Pages int     `json:"pages"`
	Next  *string `json:"next"`
	Prev  *string `json:"prev"`
}

// Page: одна страница ответа GET /character.
type Page struct {
	Info    PageInfo    `json:"info"`
	Results []Character `json:"results"`
}

// HasNext сообщает, есть ли следующая страница.
func (p *Page) HasNext() bool {
	return p.Info.Next != nil && *p.Info.Next != ""
}

// Options задаёт параметры клиента.
type Options struct {
	// BaseURL: базовый URL API без завершающего слэша (https://rickandmortyapi.com/api)
	BaseURL string
	// Timeout: таймаут одного HTTP-запроса
	Timeout time.Duration
	// RetryDelay: пауза перед повтором после 429
	RetryDelay time.Duration
	// MaxRetries: максимум повторов одной страницы, 0 = без ограничения
	MaxRetries int
	// HTTPClient позволяет подменить транспорт (тесты). Если nil, создаётся новый.
	HTTPClient *http.Client
}

// Client: HTTP-клиент внешнего API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	retryDelay time.Duration
	maxRetries int
	logger     *slog.Logger
}

// New создаёт клиент внешнего API.
func New(opts Options, logger *slog.Logger) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		retryDelay: opts.RetryDelay,
		maxRetries: opts.MaxRetries,
		logger:     logger.With(slog.String("component", "rm_client")),
	}
}

// FetchPage запрашивает страницу page списка персонажей.
// При 429 ждёт RetryDelay (или Retry-After, если он больше) и повторяет ту же страницу.
func (c *Client) FetchPage(ctx context.Context, page int) (*Page, error) {
	var result *Page
	attempt := 0

	operation := func() error {
		attempt++
		p, retryAfter, err := c.fetchOnce(ctx, page)
		if err == nil {
			result = p
			return nil
		}
		if errors.Is(err, errRateLimited) {
			upstreamRateLimitedTotal.Inc()
			c.logger.Warn("Внешний API ограничил частоту запросов, повтор",
				slog.Int("page", page),
				slog.Int("attempt", attempt),
				slog.Duration("retry_after", retryAfter),
			)
			if retryAfter > c.retryDelay {
				// Пауза сверх фиксированной, остаток добавит ConstantBackOff
				if err := sleepCtx(ctx, retryAfter-c.retryDelay); err != nil {
					return backoff.Permanent(err)
				}
			}
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(operation, c.newBackOff(ctx))
	if err != nil {
		if errors.Is(err, errRateLimited) {
			return nil, fmt.Errorf("%w: страница %d, лимит повторов после 429 исчерпан (%d)",
				ErrUpstreamUnavailable, page, c.maxRetries)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, ctxErr)
		}
		return nil, err
	}

	return result, nil
}

// newBackOff строит политику повторов: фиксированная пауза,
// опциональное ограничение числа повторов, отмена по контексту.
func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff = backoff.NewConstantBackOff(c.retryDelay)
	if c.maxRetries > 0 {
		b = backoff.WithMaxRetries(b, uint64(c.maxRetries))
	}
	return backoff.WithContext(b, ctx)
}

// fetchOnce выполняет один HTTP-запрос страницы.
// Возвращает errRateLimited и значение Retry-After при статусе 429.
func (c *Client) fetchOnce(ctx context.Context, page int) (*Page, time.Duration, error) {
	reqURL := fmt.Sprintf("%s/character?page=%d", c.baseURL, page)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: создание запроса: %w", ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req) //nolint:gosec // URL из конфигурации
	if err != nil {
		upstreamRequestsTotal.WithLabelValues("error").Inc()
		return nil, 0, fmt.Errorf("%w: запрос страницы %d: %w", ErrUpstreamUnavailable, page, err)
	}
	defer resp.Body.Close()

	upstreamRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")), errRateLimited
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, 0, fmt.Errorf("%w: страница %d, статус %d: %s",
			ErrUpstreamUnavailable, page, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var p Page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, 0, fmt.Errorf("%w: декодирование страницы %d: %w", ErrUpstreamUnavailable, page, err)
	}

	c.logger.Debug("Страница внешнего API получена",
		slog.Int("page", page),
		slog.Int("count", len(p.Results)),
		slog.Bool("has_next", p.HasNext()),
	)

	return &p, 0, nil
}

// parseRetryAfter разбирает Retry-After в секундах. Неизвестный формат даёт 0.
func parseRetryAfter(val string) time.Duration {
	if val == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// sleepCtx ждёт d или отмены контекста.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
