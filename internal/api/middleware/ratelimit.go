// ratelimit.go: ограничение частоты запросов по адресу клиента.
// Скользящее окно: около limit запросов за любой интервал длины window с одного адреса.
// Оценка: счётчик текущего окна плюс счётчик предыдущего, взвешенный долей,
// которая ещё попадает в скользящее окно. Записи хранятся в expirable LRU
// и удаляются через два окна без запросов.
package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apierrors "github.com/bigkaa/character-module/internal/api/errors"
)

// Заголовки ограничения частоты.
const (
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitReset     = "X-RateLimit-Reset"
	headerRetryAfter         = "Retry-After"
)

// Максимум одновременно отслеживаемых адресов.
const defaultMaxClients = 10000

var rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "cm_rate_limited_total",
	Help: "Количество запросов, отклонённых ограничением частоты.",
})

// rateWindow: счётчики текущего и предыдущего окна одного адреса.
type rateWindow struct {
	start time.Time
	count int
	prev  int
}

// RateLimiter: ограничитель частоты со скользящим окном.
type RateLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	windows *expirable.LRU[string, *rateWindow]
	now     func() time.Time
	logger  *slog.Logger
}

// NewRateLimiter создаёт ограничитель: limit запросов за window.
func NewRateLimiter(limit int, window time.Duration, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		windows: expirable.NewLRU[string, *rateWindow](defaultMaxClients, nil, 2*window),
		now:     time.Now,
		logger:  logger.With(slog.String("component", "rate_limiter")),
	}
}

// allow учитывает запрос клиента key. Возвращает остаток, время до
// следующего разрешённого запроса (при отказе) или до конца текущего окна,
// и признак, что запрос разрешён.
func (rl *RateLimiter) allow(key string) (remaining int, reset time.Duration, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, found := rl.windows.Get(key)
	if !found {
		w = &rateWindow{start: now}
	}
	rl.advance(w, now)
	rl.windows.Add(key, w)

	elapsed := now.Sub(w.start)
	estimate := float64(w.prev)*(1-float64(elapsed)/float64(rl.window)) + float64(w.count)

	if estimate+1 > float64(rl.limit) {
		return 0, rl.retryAfter(w, elapsed), false
	}
	w.count++
	return int(float64(rl.limit) - estimate - 1), rl.window - elapsed, true
}

// advance сдвигает окна так, чтобы now попадало в текущее.
func (rl *RateLimiter) advance(w *rateWindow, now time.Time) {
	elapsed := now.Sub(w.start)
	switch {
	case elapsed >= 2*rl.window:
		w.start, w.count, w.prev = now, 0, 0
	case elapsed >= rl.window:
		w.start, w.prev, w.count = w.start.Add(rl.window), w.count, 0
	}
}

// retryAfter оценивает, через сколько вес предыдущего окна упадёт
// достаточно для одного запроса. Если текущее окно уже заполнено,
// ждать нужно до его конца.
func (rl *RateLimiter) retryAfter(w *rateWindow, elapsed time.Duration) time.Duration {
	if w.count+1 > rl.limit || w.prev == 0 {
		return rl.window - elapsed
	}
	share := 1 - float64(rl.limit-w.count-1)/float64(w.prev)
	wait := time.Duration(share*float64(rl.window)) - elapsed
	if wait < 0 {
		return 0
	}
	return wait
}

// Middleware возвращает HTTP middleware ограничения частоты.
// Каждый ответ получает заголовки X-RateLimit-*; при превышении
// лимита возвращается 429 с Retry-After.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			remaining, reset, ok := rl.allow(key)
			resetSecs := strconv.Itoa(ceilSeconds(reset))

			h := w.Header()
			h.Set(headerRateLimitLimit, strconv.Itoa(rl.limit))
			h.Set(headerRateLimitRemaining, strconv.Itoa(remaining))
			h.Set(headerRateLimitReset, resetSecs)

			if !ok {
				rateLimitedTotal.Inc()
				rl.logger.Warn("Превышен лимит запросов",
					slog.String("client", key),
					slog.String("path", r.URL.Path),
					slog.String("retry_after", resetSecs),
				)
				h.Set(headerRetryAfter, resetSecs)
				apierrors.RateLimited(w, "Превышен лимит запросов, повторите через "+resetSecs+" с")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientKey возвращает адрес клиента без порта.
// RemoteAddr уже заменён chi RealIP, если запрос пришёл через прокси.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ceilSeconds округляет длительность вверх до целых секунд, минимум 1.
func ceilSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
